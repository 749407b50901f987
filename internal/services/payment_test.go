package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momo-gateway/internal/kafka"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/providers"
	"momo-gateway/internal/services"
	"momo-gateway/internal/storage"
	"momo-gateway/internal/utils"
)

// fakeProvider scripts adapter behavior for orchestrator tests.
type fakeProvider struct {
	name       string
	minimum    int64
	payRef     string
	payErr     error
	payCalls   int
	status     models.TransactionStatus
	statusErr  error
	checkCalls int
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) MinimumAmount() int64 { return f.minimum }

func (f *fakeProvider) GetAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	return "fake-token", nil
}

func (f *fakeProvider) RequestToPay(ctx context.Context, req providers.PayRequest) (string, error) {
	f.payCalls++
	if f.payErr != nil {
		return "", f.payErr
	}
	if f.payRef != "" {
		return f.payRef, nil
	}
	return req.Reference, nil
}

func (f *fakeProvider) CheckStatus(ctx context.Context, referenceID string) (models.TransactionStatus, error) {
	f.checkCalls++
	if f.statusErr != nil {
		return models.StatusPending, f.statusErr
	}
	return f.status, nil
}

func newTestService(t *testing.T, prov *fakeProvider) (*services.PaymentService, *storage.InMemoryStore) {
	t.Helper()
	log := logger.NewLogger()
	producer, err := kafka.NewProducer(nil, true, log)
	require.NoError(t, err)

	store := storage.NewInMemoryStore()
	svc := services.NewPaymentService(store, map[string]providers.Provider{prov.name: prov}, producer, log)
	return svc, store
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"0700123456", "256700123456", false},
		{"256700123456", "256700123456", false},
		{"+256700123456", "256700123456", false},
		{"0750-123-456", "256750123456", false},
		{"0700 123 456", "256700123456", false},
		{"700123456", "256700123456", false},
		{"123", "", true},
		{"", "", true},
		{"07001234567890", "", true},
		{"07001234ab", "", true},
	}

	for _, tt := range tests {
		got, err := services.NormalizePhone(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, services.ValidateAmount(100, 100), "amount at the minimum must pass")
	assert.NoError(t, services.ValidateAmount(5000, 100))
	assert.ErrorIs(t, services.ValidateAmount(99, 100), services.ErrAmountTooSmall)
	assert.ErrorIs(t, services.ValidateAmount(0, 100), services.ErrInvalidAmount)
	assert.ErrorIs(t, services.ValidateAmount(-50, 100), services.ErrInvalidAmount)
}

func TestInitiatePayment(t *testing.T) {
	prov := &fakeProvider{name: models.ProviderMTN, minimum: 100, payRef: "mtn-ref-1"}
	svc, store := newTestService(t, prov)

	txn, err := svc.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
		Provider:    models.ProviderMTN,
		PhoneNumber: "0700123456",
		Amount:      1000,
		OrderRef:    "ORD-100",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, txn.Status)
	assert.Equal(t, "256700123456", txn.PhoneNumber)
	assert.Equal(t, "mtn-ref-1", txn.ProviderReference)
	assert.Equal(t, utils.GenerateIdempotencyKey(models.ProviderMTN, "ORD-100"), txn.IdempotencyKey)

	stored, err := store.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "mtn-ref-1", stored.ProviderReference)
}

func TestInitiatePaymentValidation(t *testing.T) {
	prov := &fakeProvider{name: models.ProviderMTN, minimum: 100}
	svc, _ := newTestService(t, prov)
	ctx := context.Background()

	_, err := svc.InitiatePayment(ctx, &models.InitiatePaymentRequest{
		Provider: "orange_money", PhoneNumber: "0700123456", Amount: 500, OrderRef: "ORD-1",
	})
	assert.ErrorIs(t, err, services.ErrUnknownProvider)

	_, err = svc.InitiatePayment(ctx, &models.InitiatePaymentRequest{
		Provider: models.ProviderMTN, PhoneNumber: "123", Amount: 500, OrderRef: "ORD-1",
	})
	assert.ErrorIs(t, err, services.ErrInvalidPhone)

	_, err = svc.InitiatePayment(ctx, &models.InitiatePaymentRequest{
		Provider: models.ProviderMTN, PhoneNumber: "0700123456", Amount: 50, OrderRef: "ORD-1",
	})
	assert.ErrorIs(t, err, services.ErrAmountTooSmall)

	assert.Zero(t, prov.payCalls, "provider must not be called on validation failure")
}

func TestInitiatePaymentIdempotent(t *testing.T) {
	prov := &fakeProvider{name: models.ProviderMTN, minimum: 100, payRef: "ref-1"}
	svc, _ := newTestService(t, prov)
	ctx := context.Background()

	req := &models.InitiatePaymentRequest{
		Provider: models.ProviderMTN, PhoneNumber: "0700123456", Amount: 1000, OrderRef: "ORD-7",
	}

	first, err := svc.InitiatePayment(ctx, req)
	require.NoError(t, err)

	second, err := svc.InitiatePayment(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same order must reuse the in-flight transaction")
	assert.Equal(t, 1, prov.payCalls, "retried initiation must not charge twice")
}

func TestInitiatePaymentProviderFailureLeavesPending(t *testing.T) {
	prov := &fakeProvider{name: models.ProviderMTN, minimum: 100, payErr: errors.New("gateway timeout")}
	svc, store := newTestService(t, prov)

	txn, err := svc.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
		Provider: models.ProviderMTN, PhoneNumber: "0700123456", Amount: 1000, OrderRef: "ORD-9",
	})

	require.Error(t, err)
	require.NotNil(t, txn)

	stored, err := store.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status, "failed initiation stays pending for reconciliation")
}

func TestCheckPaymentStatusFinalizes(t *testing.T) {
	prov := &fakeProvider{name: models.ProviderMTN, minimum: 100, payRef: "ref-2", status: models.StatusSuccessful}
	svc, store := newTestService(t, prov)
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(&models.Order{OrderRef: "ORD-11"}))

	txn, err := svc.InitiatePayment(ctx, &models.InitiatePaymentRequest{
		Provider: models.ProviderMTN, PhoneNumber: "0700123456", Amount: 1000, OrderRef: "ORD-11",
	})
	require.NoError(t, err)

	updated, err := svc.CheckPaymentStatus(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccessful, updated.Status)
	assert.NotNil(t, updated.CompletedAt)

	order, err := store.GetOrder("ORD-11")
	require.NoError(t, err)
	assert.True(t, order.PaymentVerified)

	// A terminal transaction is never re-queried.
	_, err = svc.CheckPaymentStatus(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prov.checkCalls)

	verified, err := svc.VerifyPayment(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestVerifyPaymentSurfacesRefreshFailure(t *testing.T) {
	prov := &fakeProvider{name: models.ProviderMTN, minimum: 100, payRef: "ref-12", statusErr: errors.New("provider down")}
	svc, _ := newTestService(t, prov)
	ctx := context.Background()

	txn, err := svc.InitiatePayment(ctx, &models.InitiatePaymentRequest{
		Provider: models.ProviderMTN, PhoneNumber: "0700123456", Amount: 1000, OrderRef: "ORD-12",
	})
	require.NoError(t, err)

	verified, err := svc.VerifyPayment(ctx, txn.ID)
	assert.False(t, verified)
	require.Error(t, err, "a failed provider refresh must not read as a clean verdict")
}
