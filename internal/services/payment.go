package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"momo-gateway/internal/kafka"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/providers"
	"momo-gateway/internal/storage"
	"momo-gateway/internal/utils"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountTooSmall  = errors.New("amount below provider minimum")
)

const countryPrefix = "256"

// PaymentService coordinates one payment attempt against a mobile-money
// provider: validate, persist a pending transaction, then call out.
type PaymentService struct {
	store     storage.Store
	providers map[string]providers.Provider
	producer  *kafka.Producer
	log       *logger.Logger
}

func NewPaymentService(store storage.Store, provs map[string]providers.Provider, producer *kafka.Producer, log *logger.Logger) *PaymentService {
	return &PaymentService{
		store:     store,
		providers: provs,
		producer:  producer,
		log:       log,
	}
}

func (s *PaymentService) Provider(name string) (providers.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// NormalizePhone converts a Ugandan subscriber number to international
// format without the plus sign, e.g. "0700123456" -> "256700123456".
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(phone)
	if cleaned == "" {
		return "", ErrInvalidPhone
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}

	switch {
	case strings.HasPrefix(cleaned, countryPrefix) && len(cleaned) == 12:
		return cleaned, nil
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		return countryPrefix + cleaned[1:], nil
	case len(cleaned) == 9:
		return countryPrefix + cleaned, nil
	default:
		return "", ErrInvalidPhone
	}
}

// ValidateAmount checks the amount against the provider floor. An amount
// exactly at the minimum is accepted.
func ValidateAmount(amount, minimum int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount < minimum {
		return fmt.Errorf("%w: minimum is %d", ErrAmountTooSmall, minimum)
	}
	return nil
}

// InitiatePayment validates the request, records the transaction as
// pending, then issues the collection request to the provider. A provider
// or transport failure leaves the transaction pending for the reconciler
// to settle; the caller still gets the error.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *models.InitiatePaymentRequest) (*models.Transaction, error) {
	provider, err := s.Provider(req.Provider)
	if err != nil {
		return nil, err
	}

	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhone, req.PhoneNumber)
	}
	if err := ValidateAmount(req.Amount, provider.MinimumAmount()); err != nil {
		return nil, err
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = utils.GenerateIdempotencyKey(req.Provider, req.OrderRef)
	}

	// A retried initiation with the same key returns the transaction
	// already in flight instead of charging the subscriber twice.
	if existing, err := s.store.GetTransactionByIdempotencyKey(idempotencyKey); err == nil {
		s.log.LogPayment("INIT", existing.ID, fmt.Sprintf("Reusing in-flight transaction for key %s", idempotencyKey))
		return existing, nil
	} else if !errors.Is(err, storage.ErrTransactionNotFound) {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	txn := &models.Transaction{
		ID:             utils.GenerateTransactionID(),
		Provider:       req.Provider,
		OrderRef:       req.OrderRef,
		PhoneNumber:    phone,
		Amount:         req.Amount,
		Currency:       "UGX",
		Status:         models.StatusPending,
		IdempotencyKey: idempotencyKey,
		InitiatedAt:    time.Now().UTC(),
	}

	// Persist before the outbound call so the record survives a crash
	// mid-request and the reconciler can pick it up.
	if err := s.store.SaveTransaction(txn); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	s.log.LogPayment("INIT", txn.ID, fmt.Sprintf("Requesting %d UGX from %s via %s for order %s",
		txn.Amount, txn.PhoneNumber, txn.Provider, txn.OrderRef))

	reference, err := provider.RequestToPay(ctx, providers.PayRequest{
		Reference:      txn.ID,
		Phone:          phone,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		ExternalID:     txn.OrderRef,
		IdempotencyKey: idempotencyKey,
		PayerMessage:   req.PayerMessage,
	})
	if err != nil {
		s.log.LogPayment("INIT", txn.ID, fmt.Sprintf("Provider request failed, left pending: %v", err))
		return txn, fmt.Errorf("request to pay failed: %w", err)
	}

	txn.ProviderReference = reference
	if err := s.store.UpdateTransaction(txn); err != nil {
		return txn, fmt.Errorf("failed to record provider reference: %w", err)
	}

	s.producer.PublishPaymentEvent(kafka.EventPaymentInitiated, txn)
	return txn, nil
}

// CheckPaymentStatus queries the provider for the current state of a
// transaction and applies the transition if it reached a terminal state.
func (s *PaymentService) CheckPaymentStatus(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() || txn.ProviderReference == "" {
		return txn, nil
	}

	provider, err := s.Provider(txn.Provider)
	if err != nil {
		return txn, err
	}

	status, err := provider.CheckStatus(ctx, txn.ProviderReference)
	if err != nil {
		return txn, fmt.Errorf("status check failed: %w", err)
	}
	if !status.IsTerminal() {
		return txn, nil
	}

	updated, err := s.store.FinalizeTransaction(txn.Provider, txn.ProviderReference, status, "settled via status query", "")
	if err != nil {
		if errors.Is(err, storage.ErrTransactionFinal) {
			return s.store.GetTransaction(transactionID)
		}
		return txn, err
	}

	s.publishTerminal(updated)
	return updated, nil
}

// VerifyPayment reports whether the transaction completed successfully,
// refreshing from the provider if it is still pending. When the refresh
// fails the stored verdict is returned together with the error, so a
// provider outage is never mistaken for a definitive "not paid".
func (s *PaymentService) VerifyPayment(ctx context.Context, transactionID string) (bool, error) {
	txn, err := s.CheckPaymentStatus(ctx, transactionID)
	if txn == nil {
		return false, err
	}
	return txn.Status == models.StatusSuccessful, err
}

func (s *PaymentService) publishTerminal(txn *models.Transaction) {
	switch txn.Status {
	case models.StatusSuccessful:
		s.producer.PublishPaymentEvent(kafka.EventPaymentSuccess, txn)
	case models.StatusFailed:
		s.producer.PublishPaymentEvent(kafka.EventPaymentFailed, txn)
	case models.StatusExpired:
		s.producer.PublishPaymentEvent(kafka.EventPaymentExpired, txn)
	}
}
