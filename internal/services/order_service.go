package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"BobaOrders/internal/gateway"
	"BobaOrders/internal/models"
	"BobaOrders/internal/store"
)

type OrderLookup interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	AttachPayment(ctx context.Context, orderID, paymentID string) (bool, error)
}

type OrderService struct {
	Store   OrderLookup
	Gateway gateway.Gateway
	// RedirectURL may contain {orderNumber}, replaced per order.
	RedirectURL string
	WebhookURL  string
}

type PaymentStart struct {
	PaymentID   string
	CheckoutURL string
}

func (s OrderService) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.Store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// StartPayment returns a checkout URL for a PENDING order. An open payment
// already attached to the order is reused so a customer retrying checkout
// is never charged twice.
func (s OrderService) StartPayment(ctx context.Context, orderNumber string) (*PaymentStart, error) {
	order, err := s.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.PaymentPending {
		return nil, ErrOrderNotPayable
	}

	if order.PaymentID != nil {
		existing, err := s.Gateway.GetPayment(ctx, *order.PaymentID)
		switch {
		case err == nil && !existing.Status.Final() && existing.CheckoutURL != "":
			return &PaymentStart{PaymentID: existing.ID, CheckoutURL: existing.CheckoutURL}, nil
		case err != nil && !errors.Is(err, gateway.ErrPaymentNotFound):
			return nil, &GatewayError{PaymentID: *order.PaymentID, Err: err}
		}
	}

	payment, err := s.Gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		Amount:      order.Total,
		Description: fmt.Sprintf("Order %s", order.OrderNumber),
		OrderID:     order.ID,
		RedirectURL: strings.ReplaceAll(s.RedirectURL, "{orderNumber}", order.OrderNumber),
		WebhookURL:  s.WebhookURL,
	})
	if err != nil {
		return nil, &GatewayError{Err: err}
	}

	attached, err := s.Store.AttachPayment(ctx, order.ID, payment.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "attach payment", Err: err}
	}
	if !attached {
		return nil, ErrOrderNotPayable
	}
	return &PaymentStart{PaymentID: payment.ID, CheckoutURL: payment.CheckoutURL}, nil
}
