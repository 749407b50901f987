package providers

import (
	"context"
	"strings"
	"time"

	"momo-gateway/internal/models"
	"momo-gateway/internal/transport"
)

// Access tokens from both operators expire after an hour; cache for 55
// minutes so a cached token is never handed out moments before expiry.
const tokenCacheTTL = 55 * time.Minute

// minimumAmount is the smallest collectable amount in UGX for both
// regional operators.
const minimumAmount = 100

// PayRequest carries one normalized collection request into an adapter.
type PayRequest struct {
	// Reference is the gateway-side transaction id. Adapters that let the
	// caller pick the provider reference (Airtel) reuse it; MTN generates
	// its own UUID reference instead.
	Reference      string
	Phone          string
	Amount         int64
	Currency       string
	ExternalID     string
	IdempotencyKey string
	PayerMessage   string
}

// Provider is the capability surface the orchestrator, webhook ingestor
// and reconciler share. One implementation exists per mobile-money
// operator.
type Provider interface {
	Name() string
	MinimumAmount() int64
	GetAccessToken(ctx context.Context, forceRefresh bool) (string, error)
	RequestToPay(ctx context.Context, req PayRequest) (string, error)
	CheckStatus(ctx context.Context, referenceID string) (models.TransactionStatus, error)
}

// ParseMTNStatus maps MTN's status strings onto the normalized enum.
// Unknown values stay pending so only an explicit terminal report can
// finalize a transaction.
func ParseMTNStatus(status string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESSFUL":
		return models.StatusSuccessful
	case "FAILED", "REJECTED", "TIMEOUT":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// ParseAirtelStatus maps Airtel's transaction status codes: TS=success,
// TF=failed, TA=ambiguous, TIP=in progress.
func ParseAirtelStatus(code string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "TS":
		return models.StatusSuccessful
	case "TF", "CANCELLED":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

func apiError(message string, resp *transport.Response) *transport.APIError {
	return &transport.APIError{
		Message:    message,
		StatusCode: resp.StatusCode,
		Payload:    string(resp.Body),
	}
}
