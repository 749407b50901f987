package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"momo-gateway/internal/config"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
)

type MySQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewMySQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*MySQLStore, error) {
	log.LogDatabase("CONNECT", "mysql", fmt.Sprintf("Connecting to MySQL at %s:%s", cfg.Host, cfg.Port))

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{db: db, log: log}

	if err := store.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.LogDatabase("SUCCESS", "mysql", "MySQL connection established and tables initialized")
	return store, nil
}

func (s *MySQLStore) initTables() error {
	s.log.LogDatabase("MIGRATE", "mysql", "Creating gateway tables if not exist")

	queries := []string{createTransactionsTable, createOrdersTable}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	s.log.LogDatabase("SUCCESS", "mysql", "Gateway tables ready")
	return nil
}

const createTransactionsTable = `
    CREATE TABLE IF NOT EXISTS transactions (
        transaction_id VARCHAR(36) PRIMARY KEY,
        provider VARCHAR(32) NOT NULL,
        provider_reference VARCHAR(64) NOT NULL DEFAULT '',
        order_ref VARCHAR(64) NOT NULL,
        phone_number VARCHAR(15) NOT NULL,
        amount BIGINT NOT NULL,
        currency VARCHAR(8) NOT NULL,
        status VARCHAR(16) NOT NULL,
        error_message TEXT,
        provider_response TEXT,
        idempotency_key VARCHAR(80) NOT NULL,
        initiated_at TIMESTAMP NOT NULL,
        completed_at TIMESTAMP NULL DEFAULT NULL,
        INDEX idx_provider_reference (provider, provider_reference),
        INDEX idx_status_initiated (status, initiated_at),
        INDEX idx_idempotency_key (idempotency_key),
        INDEX idx_order_ref (order_ref)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
    `

const createOrdersTable = `
    CREATE TABLE IF NOT EXISTS orders (
        order_ref VARCHAR(64) PRIMARY KEY,
        customer_id VARCHAR(64),
        total_amount BIGINT NOT NULL DEFAULT 0,
        currency VARCHAR(8) NOT NULL DEFAULT 'UGX',
        status VARCHAR(32) NOT NULL DEFAULT 'created',
        payment_verified BOOLEAN NOT NULL DEFAULT FALSE,
        payment_verified_at TIMESTAMP NULL DEFAULT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
    `

const transactionColumns = `transaction_id, provider, provider_reference, order_ref, phone_number,
    amount, currency, status, error_message, provider_response, idempotency_key, initiated_at, completed_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var errMsg, rawResp sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&txn.ID, &txn.Provider, &txn.ProviderReference, &txn.OrderRef, &txn.PhoneNumber,
		&txn.Amount, &txn.Currency, &txn.Status, &errMsg, &rawResp, &txn.IdempotencyKey,
		&txn.InitiatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.ErrorMessage = errMsg.String
	txn.ProviderResponse = rawResp.String
	if completedAt.Valid {
		t := completedAt.Time
		txn.CompletedAt = &t
	}
	return txn, nil
}

func (s *MySQLStore) SaveTransaction(txn *models.Transaction) error {
	s.log.LogDatabase("INSERT", "transactions", fmt.Sprintf("Saving transaction %s", txn.ID))

	query := `
    INSERT INTO transactions (` + transactionColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	_, err := s.db.Exec(query,
		txn.ID, txn.Provider, txn.ProviderReference, txn.OrderRef, txn.PhoneNumber,
		txn.Amount, txn.Currency, txn.Status, nullable(txn.ErrorMessage), nullable(txn.ProviderResponse),
		txn.IdempotencyKey, txn.InitiatedAt, txn.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetTransaction(id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ?`

	txn, err := scanTransaction(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (s *MySQLStore) GetTransactionByReference(provider, reference string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
    WHERE provider = ? AND provider_reference = ?`

	txn, err := scanTransaction(s.db.QueryRow(query, provider, reference))
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return txn, nil
}

func (s *MySQLStore) GetTransactionByIdempotencyKey(key string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
    WHERE idempotency_key = ? ORDER BY initiated_at DESC LIMIT 1`

	txn, err := scanTransaction(s.db.QueryRow(query, key))
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}
	return txn, nil
}

func (s *MySQLStore) UpdateTransaction(txn *models.Transaction) error {
	s.log.LogDatabase("UPDATE", "transactions", fmt.Sprintf("Updating transaction %s", txn.ID))

	query := `
    UPDATE transactions SET
        provider_reference = ?, status = ?, error_message = ?, provider_response = ?, completed_at = ?
    WHERE transaction_id = ?
    `

	_, err := s.db.Exec(query,
		txn.ProviderReference, txn.Status, nullable(txn.ErrorMessage), nullable(txn.ProviderResponse),
		txn.CompletedAt, txn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) ListPendingBefore(cutoff time.Time, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
    WHERE status = ? AND initiated_at < ?
    ORDER BY initiated_at ASC
    LIMIT ?`

	rows, err := s.db.Query(query, models.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return txns, nil
}

// finalizeLockQuery matches on the gateway transaction id as well so
// transactions that never received a provider reference can still be
// expired.
const finalizeLockQuery = `SELECT ` + transactionColumns + ` FROM transactions
    WHERE provider = ? AND (provider_reference = ? OR transaction_id = ?) FOR UPDATE`

// FinalizeTransaction locks the row, re-checks terminality and applies
// the transition together with the order verification flag in one
// database transaction. Late duplicates and racing polls land on the
// row lock and observe the terminal state.
func (s *MySQLStore) FinalizeTransaction(provider, reference string, status models.TransactionStatus, detail, rawResponse string) (*models.Transaction, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("refusing to finalize with non-terminal status %q", status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txn, err := scanTransaction(tx.QueryRow(finalizeLockQuery, provider, reference, reference))
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transaction row: %w", err)
	}

	if txn.Status.IsTerminal() {
		s.log.LogDatabase("NOOP", "transactions",
			fmt.Sprintf("Transaction %s already %s, ignoring transition to %s", txn.ID, txn.Status, status))
		return txn, ErrTransactionFinal
	}

	now := time.Now().UTC()
	txn.Status = status
	txn.CompletedAt = &now
	if detail != "" {
		txn.ErrorMessage = detail
	}
	if rawResponse != "" {
		txn.ProviderResponse = rawResponse
	}

	_, err = tx.Exec(`
    UPDATE transactions SET status = ?, completed_at = ?, error_message = ?, provider_response = ?
    WHERE transaction_id = ?`,
		txn.Status, txn.CompletedAt, nullable(txn.ErrorMessage), nullable(txn.ProviderResponse), txn.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition: %w", err)
	}

	if status == models.StatusSuccessful {
		res, err := tx.Exec(`
        UPDATE orders SET payment_verified = TRUE, payment_verified_at = ?
        WHERE order_ref = ?`, now, txn.OrderRef)
		if err != nil {
			return nil, fmt.Errorf("failed to update order verification: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check order update: %w", err)
		}
		if affected == 0 {
			return nil, ErrOrderNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	s.log.LogDatabase("SUCCESS", "transactions",
		fmt.Sprintf("Transaction %s finalized as %s", txn.ID, txn.Status))
	return txn, nil
}

func (s *MySQLStore) SaveOrder(order *models.Order) error {
	s.log.LogDatabase("INSERT", "orders", fmt.Sprintf("Saving order %s", order.OrderRef))

	query := `
    INSERT INTO orders (order_ref, customer_id, total_amount, currency, status, payment_verified, payment_verified_at, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `

	_, err := s.db.Exec(query,
		order.OrderRef, order.CustomerID, order.TotalAmount, order.Currency,
		order.Status, order.PaymentVerified, order.PaymentVerifiedAt, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetOrder(orderRef string) (*models.Order, error) {
	query := `
    SELECT order_ref, customer_id, total_amount, currency, status, payment_verified, payment_verified_at, created_at
    FROM orders WHERE order_ref = ?
    `

	order := &models.Order{}
	var customerID sql.NullString
	var verifiedAt sql.NullTime

	err := s.db.QueryRow(query, orderRef).Scan(
		&order.OrderRef, &customerID, &order.TotalAmount, &order.Currency,
		&order.Status, &order.PaymentVerified, &verifiedAt, &order.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.CustomerID = customerID.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		order.PaymentVerifiedAt = &t
	}
	return order, nil
}

func (s *MySQLStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *MySQLStore) Close() error {
	s.log.LogDatabase("CLOSE", "mysql", "Closing MySQL connection")
	return s.db.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
