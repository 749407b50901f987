package services_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momo-gateway/internal/config"
	"momo-gateway/internal/kafka"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/services"
	"momo-gateway/internal/storage"
)

// memEvents is an in-memory EventStore for webhook tests.
type memEvents struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newMemEvents() *memEvents {
	return &memEvents{processed: make(map[string]bool)}
}

func (m *memEvents) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[eventID], nil
}

func (m *memEvents) MarkProcessed(ctx context.Context, provider, eventID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = true
	return nil
}

const webhookSecret = "whsec-test"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedHeaders(body []byte) http.Header {
	h := http.Header{}
	h.Set("X-Callback-Signature", sign(body))
	return h
}

func newWebhookService(t *testing.T, store storage.Store) *services.WebhookService {
	t.Helper()
	log := logger.NewLogger()
	producer, err := kafka.NewProducer(nil, true, log)
	require.NoError(t, err)

	rules := map[string]config.WebhookRule{
		models.ProviderMTN: {
			Secret:     webhookSecret,
			AllowedIPs: []string{"10.0.0.5", "192.168.1.0/24"},
		},
		models.ProviderAirtel: {
			Secret: webhookSecret,
		},
	}
	return services.NewWebhookService(store, newMemEvents(), producer, rules, log)
}

func seedPending(t *testing.T, store storage.Store, reference, orderRef string) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:                "txn-" + reference,
		Provider:          models.ProviderMTN,
		ProviderReference: reference,
		OrderRef:          orderRef,
		PhoneNumber:       "256700123456",
		Amount:            1000,
		Currency:          "UGX",
		Status:            models.StatusPending,
		InitiatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.SaveTransaction(txn))
	return txn
}

func mtnCallback(reference, status string) []byte {
	return []byte(fmt.Sprintf(`{"referenceId":"%s","status":"%s"}`, reference, status))
}

func TestWebhookRejectsDisallowedIP(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)

	body := mtnCallback("ref-1", "SUCCESSFUL")
	code, resp := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "203.0.113.9")

	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "error", resp.Status)
}

func TestWebhookAllowsCIDRMatch(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)
	seedPending(t, store, "ref-cidr", "ORD-1")
	require.NoError(t, store.SaveOrder(&models.Order{OrderRef: "ORD-1"}))

	body := mtnCallback("ref-cidr", "SUCCESSFUL")
	code, _ := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "192.168.1.77")

	assert.Equal(t, http.StatusOK, code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)
	seedPending(t, store, "ref-2", "ORD-2")

	body := mtnCallback("ref-2", "SUCCESSFUL")

	h := http.Header{}
	h.Set("X-Callback-Signature", "deadbeef")
	code, _ := svc.Process(context.Background(), models.ProviderMTN, body, h, "10.0.0.5")
	assert.Equal(t, http.StatusUnauthorized, code)

	// Missing header is rejected the same way.
	code, _ = svc.Process(context.Background(), models.ProviderMTN, body, http.Header{}, "10.0.0.5")
	assert.Equal(t, http.StatusUnauthorized, code)

	stored, err := store.GetTransaction("txn-ref-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status, "rejected callback must not change state")
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)

	body := []byte(`{"not json`)
	code, _ := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
	assert.Equal(t, http.StatusBadRequest, code)

	body = []byte(`{"status":"SUCCESSFUL"}`)
	code, _ = svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
	assert.Equal(t, http.StatusBadRequest, code, "payload without a reference is rejected")
}

func TestWebhookAppliesTransitionOnce(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)
	seedPending(t, store, "ref-3", "ORD-3")
	require.NoError(t, store.SaveOrder(&models.Order{OrderRef: "ORD-3"}))

	body := mtnCallback("ref-3", "SUCCESSFUL")

	code, resp := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", resp.Status)

	// Provider retries the exact same callback twice more.
	for i := 0; i < 2; i++ {
		code, resp = svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "duplicate", resp.Status)
	}

	stored, err := store.GetTransaction("txn-ref-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccessful, stored.Status)

	order, err := store.GetOrder("ORD-3")
	require.NoError(t, err)
	assert.True(t, order.PaymentVerified)
}

func TestWebhookPendingCallbackAcknowledgedWithoutDedup(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)
	seedPending(t, store, "ref-4", "ORD-4")
	require.NoError(t, store.SaveOrder(&models.Order{OrderRef: "ORD-4"}))

	pending := mtnCallback("ref-4", "PENDING")
	code, resp := svc.Process(context.Background(), models.ProviderMTN, pending, signedHeaders(pending), "10.0.0.5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", resp.Status)

	// The terminal callback reuses the same reference and must still
	// apply.
	final := mtnCallback("ref-4", "SUCCESSFUL")
	code, resp = svc.Process(context.Background(), models.ProviderMTN, final, signedHeaders(final), "10.0.0.5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", resp.Status)
}

func TestWebhookOrderFailureRollsBack(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)
	seedPending(t, store, "ref-5", "ORD-MISSING")

	body := mtnCallback("ref-5", "SUCCESSFUL")
	code, _ := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
	assert.Equal(t, http.StatusInternalServerError, code)

	stored, err := store.GetTransaction("txn-ref-5")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status, "failed order update must leave the transaction pending")

	// Once the order exists the provider retry lands cleanly.
	require.NoError(t, store.SaveOrder(&models.Order{OrderRef: "ORD-MISSING"}))
	code, resp := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", resp.Status)
}

func TestWebhookUnknownTransaction(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)

	body := mtnCallback("ref-none", "FAILED")
	code, _ := svc.Process(context.Background(), models.ProviderMTN, body, signedHeaders(body), "10.0.0.5")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebhookRaceConvergesToFirstTerminalState(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)
	seedPending(t, store, "ref-race", "ORD-RACE")
	require.NoError(t, store.SaveOrder(&models.Order{OrderRef: "ORD-RACE"}))

	success := mtnCallback("ref-race", "SUCCESSFUL")
	failure := mtnCallback("ref-race", "FAILED")

	var wg sync.WaitGroup
	codes := make([]int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		codes[0], _ = svc.Process(context.Background(), models.ProviderMTN, success, signedHeaders(success), "10.0.0.5")
	}()
	go func() {
		defer wg.Done()
		codes[1], _ = svc.Process(context.Background(), models.ProviderMTN, failure, signedHeaders(failure), "10.0.0.5")
	}()
	wg.Wait()

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])

	stored, err := store.GetTransaction("txn-ref-race")
	require.NoError(t, err)
	assert.True(t, stored.Status.IsTerminal())
	first := stored.Status

	// Later conflicting reports never flip a settled transaction.
	code, _ := svc.Process(context.Background(), models.ProviderMTN, failure, signedHeaders(failure), "10.0.0.5")
	assert.Equal(t, http.StatusOK, code)

	stored, err = store.GetTransaction("txn-ref-race")
	require.NoError(t, err)
	assert.Equal(t, first, stored.Status)
}

func TestWebhookAirtelCallback(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newWebhookService(t, store)

	txn := &models.Transaction{
		ID:                "txn-air-1",
		Provider:          models.ProviderAirtel,
		ProviderReference: "txn-air-1",
		OrderRef:          "ORD-A1",
		Amount:            5000,
		Currency:          "UGX",
		Status:            models.StatusPending,
		InitiatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.SaveTransaction(txn))

	body := []byte(`{"transaction":{"id":"txn-air-1"},"status":{"code":"TF","message":"insufficient balance"}}`)
	code, resp := svc.Process(context.Background(), models.ProviderAirtel, body, signedHeaders(body), "198.51.100.10")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", resp.Status)

	stored, err := store.GetTransaction("txn-air-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "insufficient balance", stored.ErrorMessage)
}
