// Package worker re-runs reconciliation for orders whose payment webhook
// never arrived or kept failing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"BobaOrders/internal/models"
	"BobaOrders/internal/services"
)

type PendingLister interface {
	ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error)
	ListLoyaltyPending(ctx context.Context, limit int) ([]*models.Order, error)
	// MarkSwept moves the given orders to the back of both listings.
	MarkSwept(ctx context.Context, orderIDs []string, at time.Time) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, paymentID string) (*services.Result, error)
	RetryLoyalty(ctx context.Context, orderID string) (*services.Result, error)
}

type Worker struct {
	Store      PendingLister
	Reconciler Reconciler
	Logger     *slog.Logger
	Interval   time.Duration
	// MinAge leaves fresh payments to the webhook.
	MinAge    time.Duration
	BatchSize int
	Now       func() time.Time
}

type SweepStats struct {
	Scanned        int
	Settled        int
	Pending        int
	Failures       int
	LoyaltyApplied int
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger().Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce reconciles one batch of stale PENDING orders, then retries one
// batch of orders whose points movement failed. Every scanned order is
// stamped as swept whatever its outcome, so orders that stay open or keep
// failing rotate to the back instead of filling every batch. Per-order
// failures are logged and counted; only store failures are returned.
func (w *Worker) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	limit := w.BatchSize
	if limit <= 0 {
		limit = 50
	}
	log := w.logger()

	orders, err := w.Store.ListAwaitingPayment(ctx, w.now().Add(-w.MinAge), limit)
	if err != nil {
		return stats, err
	}
	scanned := make([]string, 0, len(orders))
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++
		scanned = append(scanned, order.ID)
		if order.PaymentID == nil {
			continue
		}
		res, err := w.Reconciler.Reconcile(ctx, *order.PaymentID)
		if err != nil {
			stats.Failures++
			log.Warn("sweep reconcile failed",
				"order_number", order.OrderNumber,
				"payment_id", *order.PaymentID,
				"retryable", services.Retryable(err),
				"error", err)
			continue
		}
		switch res.Outcome {
		case services.OutcomeIgnored:
			stats.Pending++
		default:
			stats.Settled++
		}
	}

	if ctx.Err() == nil {
		flagged, err := w.Store.ListLoyaltyPending(ctx, limit)
		if err != nil {
			w.markSwept(ctx, scanned)
			return stats, err
		}
		for _, order := range flagged {
			if ctx.Err() != nil {
				break
			}
			scanned = append(scanned, order.ID)
			res, err := w.Reconciler.RetryLoyalty(ctx, order.ID)
			if err != nil {
				stats.Failures++
				log.Warn("loyalty retry failed", "order_number", order.OrderNumber, "error", err)
				continue
			}
			if res.Outcome == services.OutcomeLoyaltyApplied {
				stats.LoyaltyApplied++
			}
		}
	}

	if err := w.markSwept(ctx, scanned); err != nil {
		return stats, err
	}
	if len(scanned) == 0 {
		log.Debug("sweep found no stale orders")
		return stats, ctx.Err()
	}
	log.Info("sweep finished",
		"scanned", stats.Scanned,
		"settled", stats.Settled,
		"pending", stats.Pending,
		"failures", stats.Failures,
		"loyalty_applied", stats.LoyaltyApplied)
	return stats, ctx.Err()
}

func (w *Worker) markSwept(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	// Stamp even when the sweep was cancelled midway.
	if err := w.Store.MarkSwept(context.WithoutCancel(ctx), orderIDs, w.now()); err != nil {
		w.logger().Error("mark swept failed", "orders", len(orderIDs), "error", err)
		return fmt.Errorf("mark swept: %w", err)
	}
	return nil
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
