package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/models"
	"BobaOrders/internal/services"

	"github.com/spf13/cobra"
)

var errAuditMismatch = errors.New("loyalty balance does not match ledger")

func reconcileCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <paymentId>",
		Short: "Re-run payment reconciliation for one payment",
		Long: `Fetches the payment from the provider and applies it to its order exactly
as the webhook would. Safe to repeat. No confirmation email is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.reconciler.Reconcile(cmd.Context(), args[0])
			if err != nil {
				if services.Retryable(err) {
					return fmt.Errorf("%w (retryable)", err)
				}
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func auditPointsCmd(open opener) *cobra.Command {
	var showLedger bool
	cmd := &cobra.Command{
		Use:   "audit-points <userId>",
		Short: "Check a user's point balance against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := loyalty.Ledger{}.Audit(cmd.Context(), e.store, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printAudit(out, report)
			if showLedger {
				txns, err := e.store.ListLoyaltyTransactions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printLedger(out, txns)
			}
			if !report.Consistent() {
				return errAuditMismatch
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showLedger, "ledger", "l", false, "Print every ledger row")
	return cmd
}

func orderCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "order <orderNumber>",
		Short: "Show an order and its payment state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			order, err := services.OrderService{Store: e.store}.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order)
			return nil
		},
	}
}

func printResult(w io.Writer, res *services.Result) {
	fmt.Fprintf(w, "Payment:  %s (%s)\n", res.PaymentID, res.PaymentStatus)
	fmt.Fprintf(w, "Order:    %s\n", valueOr(res.OrderNumber, res.OrderID))
	fmt.Fprintf(w, "Outcome:  %s\n", res.Outcome)
	if res.PointsDelta != 0 {
		fmt.Fprintf(w, "Points:   %+d\n", res.PointsDelta)
	}
	if res.Balance != nil {
		fmt.Fprintf(w, "Balance:  %d (%s)\n", res.Balance.Points, res.Balance.Tier)
	}
	if res.LoyaltyErr != nil {
		fmt.Fprintf(w, "Loyalty:  FAILED (%v)\n", res.LoyaltyErr)
	}
}

func printAudit(w io.Writer, r *loyalty.AuditReport) {
	fmt.Fprintf(w, "User:     %s\n", r.UserID)
	fmt.Fprintf(w, "Cached:   %d (%s)\n", r.CachedPoints, r.CachedTier)
	fmt.Fprintf(w, "Ledger:   %d (%s)\n", r.LedgerPoints, loyalty.TierFor(r.LedgerPoints))
	if r.Consistent() {
		fmt.Fprintln(w, "Status:   OK")
	} else {
		fmt.Fprintln(w, "Status:   MISMATCH")
	}
}

func printLedger(w io.Writer, txns []*models.LoyaltyTransaction) {
	if len(txns) == 0 {
		fmt.Fprintln(w, "\nLedger: (empty)")
		return
	}
	fmt.Fprintln(w, "\nLedger:")
	for _, t := range txns {
		fmt.Fprintf(w, "  %s  %-10s %+6d  %s\n", t.CreatedAt.Format(time.DateTime), t.Type, t.Points, t.Description)
	}
}

func printOrder(w io.Writer, o *models.Order) {
	fmt.Fprintf(w, "Order:    %s\n", o.OrderNumber)
	fmt.Fprintf(w, "Status:   %s / payment %s\n", o.Status, o.PaymentStatus)
	if o.PaymentID != nil {
		fmt.Fprintf(w, "Payment:  %s\n", *o.PaymentID)
	}
	fmt.Fprintf(w, "Pickup:   %s\n", o.PickupTime.Format(time.DateTime))
	fmt.Fprintf(w, "Total:    %s\n", o.Total.StringFixed(2))
	if o.UserID != nil {
		fmt.Fprintf(w, "Points:   +%d earned, -%d redeemed (user %s)\n", o.PointsEarned, o.PointsRedeemed, *o.UserID)
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, it := range o.Items {
		fmt.Fprintf(w, "  %dx %s  %s\n", it.Quantity, it.ProductName, it.LineTotal().StringFixed(2))
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
