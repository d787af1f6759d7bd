package services

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPaymentID = errors.New("missing payment id")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderNotPayable  = errors.New("order is not awaiting payment")
)

// GatewayError means the provider could not be asked for the payment. The
// notification should be redelivered.
type GatewayError struct {
	PaymentID string
	Err       error
}

func (e *GatewayError) Error() string {
	if e.PaymentID == "" {
		return fmt.Sprintf("gateway: %v", e.Err)
	}
	return fmt.Sprintf("gateway lookup %s: %v", e.PaymentID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// PersistenceError means the order could not be read or written. The
// notification should be redelivered.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports whether the provider should redeliver the notification
// that produced err.
func Retryable(err error) bool {
	var gw *GatewayError
	var pe *PersistenceError
	return errors.As(err, &gw) || errors.As(err, &pe)
}
