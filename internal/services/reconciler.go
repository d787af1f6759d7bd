package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"BobaOrders/internal/events"
	"BobaOrders/internal/gateway"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/models"
	"BobaOrders/internal/notify"
	"BobaOrders/internal/store"
)

// OrderTx is the transactional view of the order store used during one
// reconciliation.
type OrderTx interface {
	loyalty.LedgerTx
	LockOrder(ctx context.Context, orderID string) (*models.Order, error)
	TransitionPayment(ctx context.Context, orderID string, from, to models.PaymentStatus, status models.OrderStatus, paymentID string) (bool, error)
	SetLoyaltyPending(ctx context.Context, orderID string, pending bool) error
	Savepoint(ctx context.Context, fn func(tx OrderTx) error) error
}

type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	InTx(ctx context.Context, fn func(tx OrderTx) error) error
}

type Outcome string

const (
	OutcomePaid             Outcome = "paid"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeConflict         Outcome = "conflict"
	OutcomeLoyaltyApplied   Outcome = "loyalty_applied"
)

type Result struct {
	Outcome       Outcome
	PaymentID     string
	PaymentStatus gateway.Status
	OrderID       string
	OrderNumber   string
	PointsDelta   int64
	Balance       *loyalty.Balance
	// LoyaltyErr and NotifyErr record side effects that failed without
	// affecting the order transition.
	LoyaltyErr error
	NotifyErr  error
	// RefundRequired is set when the provider took money for an order that
	// was already cancelled.
	RefundRequired bool
}

type Reconciler struct {
	Gateway  gateway.Gateway
	Store    OrderStore
	Ledger   loyalty.Ledger
	Notifier notify.Dispatcher
	Events   events.Publisher
	Logger   *slog.Logger
	Now      func() time.Time
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Reconcile brings the order behind paymentID in line with the provider's
// current view of that payment. It is safe to call any number of times for
// the same payment.
func (r *Reconciler) Reconcile(ctx context.Context, paymentID string) (*Result, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, ErrMissingPaymentID
	}

	payment, err := r.Gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gateway.ErrPaymentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
		}
		return nil, &GatewayError{PaymentID: paymentID, Err: err}
	}

	res := &Result{
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
		OrderID:       payment.Metadata.OrderID,
	}
	if res.OrderID == "" {
		return nil, fmt.Errorf("%w: payment %s carries no order reference", ErrOrderNotFound, paymentID)
	}

	log := r.logger().With("payment_id", payment.ID, "payment_status", string(payment.Status), "order_id", res.OrderID)

	var snapshot *models.Order
	err = r.Store.InTx(ctx, func(tx OrderTx) error {
		order, err := tx.LockOrder(ctx, res.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, res.OrderID)
			}
			return &PersistenceError{Op: "lock order", Err: err}
		}
		res.OrderNumber = order.OrderNumber

		switch payment.Status {
		case gateway.StatusPaid:
			err = r.applyPaid(ctx, log, tx, order, payment, res)
		case gateway.StatusFailed, gateway.StatusCanceled, gateway.StatusExpired:
			err = r.applyFailed(ctx, log, tx, order, payment, res)
		default:
			res.Outcome = OutcomeIgnored
		}
		snapshot = order
		return err
	})
	if err != nil {
		var pe *PersistenceError
		if !errors.Is(err, ErrOrderNotFound) && !errors.As(err, &pe) {
			err = &PersistenceError{Op: "commit", Err: err}
		}
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn("payment references unknown order")
		} else {
			log.Error("reconciliation failed", "error", err)
		}
		return nil, err
	}

	log.Info("payment reconciled", "outcome", string(res.Outcome), "order_number", res.OrderNumber, "points_delta", res.PointsDelta)

	// Side effects run after commit and outlive a cancelled request.
	sideCtx := context.WithoutCancel(ctx)
	switch res.Outcome {
	case OutcomePaid:
		r.publish(sideCtx, log, events.TypeOrderPaid, snapshot)
		res.NotifyErr = r.sendConfirmation(sideCtx, log, res.OrderID)
	case OutcomeCancelled:
		r.publish(sideCtx, log, events.TypeOrderCancelled, snapshot)
	case OutcomeConflict:
		if res.RefundRequired {
			r.publish(sideCtx, log, events.TypeOrderRefundRequired, snapshot)
		}
	}
	return res, nil
}

func (r *Reconciler) applyPaid(ctx context.Context, log *slog.Logger, tx OrderTx, order *models.Order, payment *gateway.Payment, res *Result) error {
	switch order.PaymentStatus {
	case models.PaymentPaid:
		res.Outcome = OutcomeAlreadyProcessed
		return nil
	case models.PaymentPending:
	default:
		// The customer was charged for an order that is already cancelled.
		log.Error("paid notification for cancelled order, refund required",
			"order_number", order.OrderNumber,
			"order_payment_status", string(order.PaymentStatus),
			"amount", payment.Amount.StringFixed(2))
		res.Outcome = OutcomeConflict
		res.RefundRequired = true
		return nil
	}

	moved, err := tx.TransitionPayment(ctx, order.ID, models.PaymentPending, models.PaymentPaid, models.OrderPaid, payment.ID)
	if err != nil {
		return &PersistenceError{Op: "mark order paid", Err: err}
	}
	if !moved {
		res.Outcome = OutcomeAlreadyProcessed
		return nil
	}
	order.PaymentStatus = models.PaymentPaid
	order.Status = models.OrderPaid
	order.PaymentID = &payment.ID
	res.Outcome = OutcomePaid

	return r.applyLoyalty(ctx, log, tx, order, res)
}

func (r *Reconciler) applyFailed(ctx context.Context, log *slog.Logger, tx OrderTx, order *models.Order, payment *gateway.Payment, res *Result) error {
	switch order.PaymentStatus {
	case models.PaymentFailed:
		res.Outcome = OutcomeAlreadyProcessed
		return nil
	case models.PaymentPending:
	default:
		log.Warn("failed notification for settled order", "order_payment_status", string(order.PaymentStatus))
		res.Outcome = OutcomeConflict
		return nil
	}

	// A retried checkout attaches a newer payment; the old one expiring must
	// not cancel the order.
	if order.PaymentID != nil && *order.PaymentID != payment.ID {
		log.Info("failed payment superseded by a newer attempt", "current_payment_id", *order.PaymentID)
		res.Outcome = OutcomeIgnored
		return nil
	}

	moved, err := tx.TransitionPayment(ctx, order.ID, models.PaymentPending, models.PaymentFailed, models.OrderCancelled, payment.ID)
	if err != nil {
		return &PersistenceError{Op: "cancel order", Err: err}
	}
	if !moved {
		res.Outcome = OutcomeAlreadyProcessed
		return nil
	}
	order.PaymentStatus = models.PaymentFailed
	order.Status = models.OrderCancelled
	order.PaymentID = &payment.ID
	res.Outcome = OutcomeCancelled

	return r.applyLoyalty(ctx, log, tx, order, res)
}

// loyaltyEntry is the points movement a settled order owes its user, if any.
func loyaltyEntry(order *models.Order) (loyalty.Entry, bool) {
	if order.UserID == nil {
		return loyalty.Entry{}, false
	}
	switch {
	case order.PaymentStatus == models.PaymentPaid && order.PointsEarned > 0:
		return loyalty.Entry{
			UserID:      *order.UserID,
			OrderID:     &order.ID,
			Points:      order.PointsEarned,
			Type:        models.TransactionEarn,
			Description: "Points earned for order " + order.OrderNumber,
		}, true
	case order.PaymentStatus == models.PaymentFailed && order.PointsRedeemed > 0:
		return loyalty.Entry{
			UserID:      *order.UserID,
			OrderID:     &order.ID,
			Points:      order.PointsRedeemed,
			Type:        models.TransactionAdjustment,
			Description: fmt.Sprintf("Points restored: order %s cancelled", order.OrderNumber),
		}, true
	}
	return loyalty.Entry{}, false
}

// applyLoyalty writes the ledger entry inside a savepoint so a loyalty
// failure undoes only itself and the order transition still commits. A
// failed movement flags the order loyalty_pending for RetryLoyalty.
func (r *Reconciler) applyLoyalty(ctx context.Context, log *slog.Logger, tx OrderTx, order *models.Order, res *Result) error {
	entry, ok := loyaltyEntry(order)
	if !ok {
		return nil
	}
	err := tx.Savepoint(ctx, func(sp OrderTx) error {
		bal, err := r.Ledger.Apply(ctx, sp, entry)
		if err != nil {
			return err
		}
		res.Balance = bal
		return nil
	})
	if err != nil {
		log.Error("loyalty update failed, order flagged for retry", "user_id", entry.UserID, "points", entry.Points, "type", string(entry.Type), "error", err)
		res.LoyaltyErr = err
		res.Balance = nil
		if ferr := tx.SetLoyaltyPending(ctx, order.ID, true); ferr != nil {
			return &PersistenceError{Op: "flag loyalty pending", Err: ferr}
		}
		order.LoyaltyPending = true
		return nil
	}
	res.PointsDelta = entry.Points
	return nil
}

// RetryLoyalty applies the points movement of an order flagged
// loyalty_pending and clears the flag in the same transaction. Orders without
// the flag are left alone, so calling it twice never moves points twice.
func (r *Reconciler) RetryLoyalty(ctx context.Context, orderID string) (*Result, error) {
	res := &Result{OrderID: orderID}
	log := r.logger().With("order_id", orderID)

	err := r.Store.InTx(ctx, func(tx OrderTx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
			}
			return &PersistenceError{Op: "lock order", Err: err}
		}
		res.OrderNumber = order.OrderNumber
		if order.PaymentID != nil {
			res.PaymentID = *order.PaymentID
		}
		if !order.LoyaltyPending {
			res.Outcome = OutcomeAlreadyProcessed
			return nil
		}

		entry, ok := loyaltyEntry(order)
		if ok {
			err = tx.Savepoint(ctx, func(sp OrderTx) error {
				bal, err := r.Ledger.Apply(ctx, sp, entry)
				if err != nil {
					return err
				}
				res.Balance = bal
				return nil
			})
			if err != nil {
				res.LoyaltyErr = err
				res.Balance = nil
				res.Outcome = OutcomeIgnored
				log.Warn("loyalty retry failed", "user_id", entry.UserID, "error", err)
				return nil
			}
			res.PointsDelta = entry.Points
		}
		if err := tx.SetLoyaltyPending(ctx, order.ID, false); err != nil {
			return &PersistenceError{Op: "clear loyalty pending", Err: err}
		}
		res.Outcome = OutcomeLoyaltyApplied
		return nil
	})
	if err != nil {
		var pe *PersistenceError
		if !errors.Is(err, ErrOrderNotFound) && !errors.As(err, &pe) {
			err = &PersistenceError{Op: "commit", Err: err}
		}
		return nil, err
	}
	if res.Outcome == OutcomeLoyaltyApplied {
		log.Info("loyalty retry applied", "order_number", res.OrderNumber, "points_delta", res.PointsDelta)
	}
	return res, nil
}

func (r *Reconciler) publish(ctx context.Context, log *slog.Logger, eventType string, order *models.Order) {
	if r.Events == nil || order == nil {
		return
	}
	if err := r.Events.Publish(ctx, events.FromOrder(eventType, order, r.now())); err != nil {
		log.Warn("order event publish failed", "event_type", eventType, "error", err)
	}
}

func (r *Reconciler) sendConfirmation(ctx context.Context, log *slog.Logger, orderID string) error {
	if r.Notifier == nil {
		return nil
	}
	order, err := r.Store.GetOrder(ctx, orderID)
	if err != nil {
		log.Error("load order for confirmation failed", "error", err)
		return err
	}
	if strings.TrimSpace(order.CustomerEmail) == "" {
		log.Info("no customer email, confirmation skipped", "order_number", order.OrderNumber)
		return nil
	}

	if err := r.Notifier.SendOrderConfirmation(ctx, ConfirmationFor(order)); err != nil {
		log.Error("order confirmation failed", "order_number", order.OrderNumber, "error", err)
		return err
	}
	return nil
}

// ConfirmationFor builds the confirmation mail payload for a paid order.
func ConfirmationFor(order *models.Order) notify.Confirmation {
	c := notify.Confirmation{
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		PickupTime:    order.PickupTime,
		Total:         order.Total,
		PointsEarned:  order.PointsEarned,
	}
	for _, it := range order.Items {
		c.Items = append(c.Items, notify.Item{
			Name:           it.ProductName,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			Customizations: describeCustomizations(it.Customizations),
		})
	}
	return c
}

// describeCustomizations flattens a customization object such as
// {"size":"Large","toppings":["Tapioca"]} into display labels ordered by key.
func describeCustomizations(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		case float64, bool:
			out = append(out, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return out
}
