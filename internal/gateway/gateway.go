// Package gateway talks to the payment provider's REST API.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusExpired    Status = "expired"
)

// Final reports whether the provider will never move the payment on.
func (s Status) Final() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

type Metadata struct {
	OrderID string `json:"orderId"`
}

type Payment struct {
	ID          string
	Status      Status
	Amount      decimal.Decimal
	Currency    string
	Metadata    Metadata
	CheckoutURL string
}

type CreatePaymentRequest struct {
	Amount      decimal.Decimal
	Description string
	OrderID     string
	RedirectURL string
	WebhookURL  string
}

// Gateway is what the rest of the service needs from a payment provider.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

var _ Gateway = (*Client)(nil)
