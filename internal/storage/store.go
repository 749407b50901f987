package storage

import (
	"errors"
	"time"

	"momo-gateway/internal/models"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOrderNotFound       = errors.New("order not found")

	// ErrTransactionFinal signals an attempted transition away from a
	// terminal status. Callers treat it as a logged no-op, never as a
	// failure.
	ErrTransactionFinal = errors.New("transaction already in a terminal state")
)

type Store interface {
	SaveTransaction(txn *models.Transaction) error
	GetTransaction(id string) (*models.Transaction, error)
	GetTransactionByReference(provider, reference string) (*models.Transaction, error)
	GetTransactionByIdempotencyKey(key string) (*models.Transaction, error)
	UpdateTransaction(txn *models.Transaction) error
	ListPendingBefore(cutoff time.Time, limit int) ([]*models.Transaction, error)

	// FinalizeTransaction is the single atomic transition shared by the
	// webhook ingestor and the reconciliation poller: lock the row,
	// verify it is still non-terminal, apply the terminal status and
	// flip the linked order's verification flag, all-or-nothing.
	FinalizeTransaction(provider, reference string, status models.TransactionStatus, detail, rawResponse string) (*models.Transaction, error)

	// Order collaborator contract.
	SaveOrder(order *models.Order) error
	GetOrder(orderRef string) (*models.Order, error)

	HealthCheck() error
	Close() error
}
