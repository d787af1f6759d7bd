// Package events fans order state changes out to the kitchen display
// (Kafka) and to customers watching their order page (websocket).
package events

import (
	"context"
	"errors"
	"time"

	"BobaOrders/internal/models"
)

const (
	TypeOrderPaid           = "order.paid"
	TypeOrderCancelled      = "order.cancelled"
	TypeOrderSnapshot       = "order.snapshot"
	TypeOrderRefundRequired = "order.refund_required"
)

type Event struct {
	Type          string               `json:"type"`
	OrderID       string               `json:"orderId"`
	OrderNumber   string               `json:"orderNumber"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	PickupTime    time.Time            `json:"pickupTime"`
	At            time.Time            `json:"at"`
}

func FromOrder(eventType string, order *models.Order, at time.Time) Event {
	return Event{
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PickupTime:    order.PickupTime,
		At:            at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
