package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"momo-gateway/internal/config"
	"momo-gateway/internal/kafka"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/providers"
	"momo-gateway/internal/storage"
	"momo-gateway/internal/utils"
)

// processedTTL keeps webhook dedup records around long past the
// provider's own retry horizon.
const processedTTL = 25 * time.Hour

var signatureHeaders = []string{"X-Callback-Signature", "X-Signature"}

// EventStore records which provider callbacks have already been applied.
type EventStore interface {
	IsProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string, ttl time.Duration) error
}

// WebhookService runs provider callbacks through the verification
// pipeline and applies the resulting state transition exactly once.
type WebhookService struct {
	store    storage.Store
	events   EventStore
	producer *kafka.Producer
	rules    map[string]config.WebhookRule
	log      *logger.Logger
}

func NewWebhookService(store storage.Store, events EventStore, producer *kafka.Producer, rules map[string]config.WebhookRule, log *logger.Logger) *WebhookService {
	return &WebhookService{
		store:    store,
		events:   events,
		producer: producer,
		rules:    rules,
		log:      log,
	}
}

type callbackPayload struct {
	Reference string
	Status    models.TransactionStatus
	Detail    string
}

// Process verifies and applies one callback. The returned status code and
// body are what the HTTP layer should answer with: verification failures
// map to 4xx, duplicates and no-op transitions still ack with 200 so the
// provider stops retrying.
func (s *WebhookService) Process(ctx context.Context, provider string, body []byte, headers http.Header, sourceIP string) (int, models.WebhookResponse) {
	rule, ok := s.rules[provider]
	if !ok {
		return http.StatusNotFound, models.WebhookResponse{Status: "error", Message: "unknown provider"}
	}

	if !ipAllowed(sourceIP, rule.AllowedIPs) {
		s.log.LogSecurity("WEBHOOK", fmt.Sprintf("Rejected %s callback from disallowed IP %s", provider, sourceIP))
		return http.StatusForbidden, models.WebhookResponse{Status: "error", Message: "source not allowed"}
	}

	if rule.Secret != "" && !verifySignature(body, headers, rule.Secret) {
		s.log.LogSecurity("WEBHOOK", fmt.Sprintf("Rejected %s callback with bad signature from %s", provider, sourceIP))
		return http.StatusUnauthorized, models.WebhookResponse{Status: "error", Message: "invalid signature"}
	}

	payload, err := parseCallback(provider, body)
	if err != nil {
		s.log.LogWebhook(provider, fmt.Sprintf("Unparseable callback: %v", err))
		return http.StatusBadRequest, models.WebhookResponse{Status: "error", Message: "malformed payload"}
	}

	eventID := utils.NewEventID(provider, payload.Reference)
	processed, err := s.events.IsProcessed(ctx, provider, eventID)
	if err != nil {
		return http.StatusInternalServerError, models.WebhookResponse{Status: "error", Message: "dedup check failed"}
	}
	if processed {
		s.log.LogWebhook(provider, fmt.Sprintf("Duplicate callback for %s, already applied", payload.Reference))
		return http.StatusOK, models.WebhookResponse{Status: "duplicate", Message: "event already processed"}
	}

	// A non-terminal callback is acknowledged but not marked processed:
	// the provider reuses the same reference when the final status lands.
	if !payload.Status.IsTerminal() {
		s.log.LogWebhook(provider, fmt.Sprintf("Pending update for %s acknowledged", payload.Reference))
		return http.StatusOK, models.WebhookResponse{Status: "accepted", Message: "transaction still pending"}
	}

	txn, err := s.store.FinalizeTransaction(provider, payload.Reference, payload.Status, payload.Detail, string(body))
	switch {
	case errors.Is(err, storage.ErrTransactionFinal):
		s.log.LogWebhook(provider, fmt.Sprintf("Transition for %s ignored, transaction already settled", payload.Reference))
		return http.StatusOK, models.WebhookResponse{Status: "ignored", Message: "transaction already settled"}
	case errors.Is(err, storage.ErrTransactionNotFound):
		return http.StatusNotFound, models.WebhookResponse{Status: "error", Message: "unknown transaction"}
	case err != nil:
		s.log.Error("WEBHOOK", fmt.Sprintf("Failed to apply %s callback for %s: %v", provider, payload.Reference, err))
		return http.StatusInternalServerError, models.WebhookResponse{Status: "error", Message: "failed to apply update"}
	}

	// Mark processed only after the transaction committed, so a crash in
	// between replays the callback instead of losing it.
	if err := s.events.MarkProcessed(ctx, provider, eventID, processedTTL); err != nil {
		s.log.Warn("WEBHOOK", fmt.Sprintf("Failed to mark event %s processed: %v", eventID, err))
	}

	s.log.LogWebhook(provider, fmt.Sprintf("Transaction %s settled as %s", txn.ID, txn.Status))
	s.publishTerminal(txn)
	return http.StatusOK, models.WebhookResponse{Status: "applied", Message: fmt.Sprintf("transaction %s", txn.Status)}
}

func (s *WebhookService) publishTerminal(txn *models.Transaction) {
	switch txn.Status {
	case models.StatusSuccessful:
		s.producer.PublishPaymentEvent(kafka.EventPaymentSuccess, txn)
	case models.StatusFailed:
		s.producer.PublishPaymentEvent(kafka.EventPaymentFailed, txn)
	}
}

func ipAllowed(sourceIP string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(sourceIP))
	if ip == nil {
		return false
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if candidate := net.ParseIP(entry); candidate != nil && candidate.Equal(ip) {
			return true
		}
	}
	return false
}

func verifySignature(body []byte, headers http.Header, secret string) bool {
	var provided string
	for _, name := range signatureHeaders {
		if v := headers.Get(name); v != "" {
			provided = v
			break
		}
	}
	if provided == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}

func parseCallback(provider string, body []byte) (*callbackPayload, error) {
	switch provider {
	case models.ProviderMTN:
		var p struct {
			ReferenceID string `json:"referenceId"`
			ExternalID  string `json:"externalId"`
			Status      string `json:"status"`
			Reason      struct {
				Message string `json:"message"`
			} `json:"reason"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.ReferenceID == "" {
			return nil, errors.New("missing referenceId")
		}
		return &callbackPayload{
			Reference: p.ReferenceID,
			Status:    providers.ParseMTNStatus(p.Status),
			Detail:    p.Reason.Message,
		}, nil

	case models.ProviderAirtel:
		var p struct {
			Transaction struct {
				ID string `json:"id"`
			} `json:"transaction"`
			Status struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"status"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		if p.Transaction.ID == "" {
			return nil, errors.New("missing transaction id")
		}
		return &callbackPayload{
			Reference: p.Transaction.ID,
			Status:    providers.ParseAirtelStatus(p.Status.Code),
			Detail:    p.Status.Message,
		}, nil

	default:
		return nil, fmt.Errorf("no parser for provider %s", provider)
	}
}
