package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"momo-gateway/internal/models"
)

// InMemoryStore mirrors the MySQL store's semantics, including the
// all-or-nothing finalize transition, for tests and local development.
type InMemoryStore struct {
	mu           sync.Mutex
	transactions map[string]*models.Transaction
	orders       map[string]*models.Order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transactions: make(map[string]*models.Transaction),
		orders:       make(map[string]*models.Order),
	}
}

func cloneTransaction(txn *models.Transaction) *models.Transaction {
	c := *txn
	if txn.CompletedAt != nil {
		t := *txn.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *InMemoryStore) SaveTransaction(txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[txn.ID]; exists {
		return fmt.Errorf("transaction %s already exists", txn.ID)
	}
	s.transactions[txn.ID] = cloneTransaction(txn)
	return nil
}

func (s *InMemoryStore) GetTransaction(id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return cloneTransaction(txn), nil
}

func (s *InMemoryStore) GetTransactionByReference(provider, reference string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.findByReference(provider, reference)
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	return cloneTransaction(txn), nil
}

func (s *InMemoryStore) findByReference(provider, reference string) *models.Transaction {
	for _, txn := range s.transactions {
		if txn.Provider == provider && (txn.ProviderReference == reference || txn.ID == reference) {
			return txn
		}
	}
	return nil
}

func (s *InMemoryStore) GetTransactionByIdempotencyKey(key string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Transaction
	for _, txn := range s.transactions {
		if txn.IdempotencyKey != key {
			continue
		}
		if latest == nil || txn.InitiatedAt.After(latest.InitiatedAt) {
			latest = txn
		}
	}
	if latest == nil {
		return nil, ErrTransactionNotFound
	}
	return cloneTransaction(latest), nil
}

func (s *InMemoryStore) UpdateTransaction(txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[txn.ID]; !ok {
		return ErrTransactionNotFound
	}
	s.transactions[txn.ID] = cloneTransaction(txn)
	return nil
}

func (s *InMemoryStore) ListPendingBefore(cutoff time.Time, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txns []*models.Transaction
	for _, txn := range s.transactions {
		if txn.Status == models.StatusPending && txn.InitiatedAt.Before(cutoff) {
			txns = append(txns, cloneTransaction(txn))
		}
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].InitiatedAt.Before(txns[j].InitiatedAt) })
	if len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *InMemoryStore) FinalizeTransaction(provider, reference string, status models.TransactionStatus, detail, rawResponse string) (*models.Transaction, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("refusing to finalize with non-terminal status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.findByReference(provider, reference)
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	if txn.Status.IsTerminal() {
		return cloneTransaction(txn), ErrTransactionFinal
	}

	// Check the order first so a missing collaborator row leaves the
	// transaction untouched, matching the SQL rollback.
	var order *models.Order
	if status == models.StatusSuccessful {
		var ok bool
		order, ok = s.orders[txn.OrderRef]
		if !ok {
			return nil, ErrOrderNotFound
		}
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

	if order != nil {
		order.PaymentVerified = true
		order.PaymentVerifiedAt = &now
	}

	return cloneTransaction(txn), nil
}

func (s *InMemoryStore) SaveOrder(order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *order
	s.orders[order.OrderRef] = &c
	return nil
}

func (s *InMemoryStore) GetOrder(orderRef string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderRef]
	if !ok {
		return nil, ErrOrderNotFound
	}
	c := *order
	return &c, nil
}

func (s *InMemoryStore) HealthCheck() error { return nil }

func (s *InMemoryStore) Close() error { return nil }
