package models

import (
	"time"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
	StatusExpired    TransactionStatus = "expired"
)

// IsTerminal reports whether no further status transition is permitted.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusExpired:
		return true
	}
	return false
}

const (
	ProviderMTN    = "mtn_momo"
	ProviderAirtel = "airtel_money"
)

type Transaction struct {
	ID                string            `json:"transaction_id"`
	Provider          string            `json:"provider"`
	ProviderReference string            `json:"provider_reference"`
	OrderRef          string            `json:"order_ref"`
	PhoneNumber       string            `json:"phone_number"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Status            TransactionStatus `json:"status"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ProviderResponse  string            `json:"provider_response,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key"`
	InitiatedAt       time.Time         `json:"initiated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

type InitiatePaymentRequest struct {
	Provider       string `json:"provider" binding:"required"`
	PhoneNumber    string `json:"phone_number" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	OrderRef       string `json:"order_ref" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
	PayerMessage   string `json:"payer_message"`
}

type InitiatePaymentResponse struct {
	TransactionID     string            `json:"transaction_id"`
	Provider          string            `json:"provider"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	Status            TransactionStatus `json:"status"`
	OrderRef          string            `json:"order_ref"`
	IdempotencyKey    string            `json:"idempotency_key"`
}

// WebhookResponse is the body returned to the provider on every callback.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type PaymentEvent struct {
	Type          string       `json:"type"`
	TransactionID string       `json:"transaction_id"`
	Transaction   *Transaction `json:"transaction"`
	Timestamp     time.Time    `json:"timestamp"`
}
