package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order is the collaborator entity owned by the order domain. The gateway
// only ever flips its payment verification flag, and only through the
// store's atomic transition.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderRef          string     `json:"orderRef" bun:"order_ref,pk"`
	CustomerID        string     `json:"customerID" bun:"customer_id"`
	TotalAmount       int64      `json:"totalAmount" bun:"total_amount"`
	Currency          string     `json:"currency" bun:"currency"`
	Status            string     `json:"status" bun:"status"`
	PaymentVerified   bool       `json:"paymentVerified" bun:"payment_verified"`
	PaymentVerifiedAt *time.Time `json:"paymentVerifiedAt" bun:"payment_verified_at"`
	CreatedAt         time.Time  `json:"createdAt" bun:"created_at"`
}
