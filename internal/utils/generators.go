package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateTransactionID returns a new gateway-side transaction id.
func GenerateTransactionID() string {
	return uuid.NewString()
}

// GenerateIdempotencyKey derives the deterministic idempotency key for a
// payment intent. Retried initiations for the same (provider, order)
// always produce the same key, so the provider can collapse them.
func GenerateIdempotencyKey(provider, orderRef string) string {
	sum := sha256.Sum256([]byte(provider + ":" + orderRef))
	return fmt.Sprintf("%s_%s", provider, hex.EncodeToString(sum[:16]))
}

// NewEventID builds the idempotency-store key for a provider callback.
func NewEventID(provider, reference string) string {
	return provider + ":" + reference
}
