// Package notify sends transactional customer email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	Name           string
	Quantity       int
	UnitPrice      decimal.Decimal
	Customizations []string
}

type Confirmation struct {
	OrderNumber   string
	CustomerName  string
	CustomerEmail string
	PickupTime    time.Time
	Total         decimal.Decimal
	PointsEarned  int64
	Items         []Item
}

type Dispatcher interface {
	SendOrderConfirmation(ctx context.Context, c Confirmation) error
}

// DeliveryError wraps any failure to hand a message to the mail provider.
// Callers treat it as non-fatal.
type DeliveryError struct {
	To         string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver mail to %s: status %d: %v", e.To, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver mail to %s: %v", e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Nop logs and drops every message. Used when no mail provider is configured.
type Nop struct {
	Logger *slog.Logger
}

func (n Nop) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail disabled, confirmation dropped", "order_number", c.OrderNumber)
	return nil
}
