package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"BobaOrders/internal/gateway"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/models"
	"BobaOrders/internal/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &services.Result{
		PaymentID:     "tr_1",
		PaymentStatus: gateway.StatusPaid,
		OrderNumber:   "BT-1",
		Outcome:       services.OutcomePaid,
		PointsDelta:   50,
		Balance:       &loyalty.Balance{Points: 530, Tier: models.TierSilver},
	})
	out := buf.String()
	assert.Contains(t, out, "Payment:  tr_1 (paid)")
	assert.Contains(t, out, "Outcome:  paid")
	assert.Contains(t, out, "Points:   +50")
	assert.Contains(t, out, "Balance:  530 (SILVER)")
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, &loyalty.AuditReport{
		UserID:       "u1",
		CachedPoints: 530,
		LedgerPoints: 480,
		CachedTier:   models.TierSilver,
		ExpectedTier: models.TierSilver,
	})
	assert.Contains(t, buf.String(), "Ledger:   480 (BRONZE)")
	assert.Contains(t, buf.String(), "Status:   MISMATCH")
}

func TestPrintOrder(t *testing.T) {
	var buf bytes.Buffer
	uid := "u1"
	printOrder(&buf, &models.Order{
		OrderNumber:    "BT-1",
		Status:         models.OrderPaid,
		PaymentStatus:  models.PaymentPaid,
		PickupTime:     time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC),
		Total:          decimal.RequireFromString("9.5"),
		UserID:         &uid,
		PointsEarned:   9,
		PointsRedeemed: 0,
		Items: []models.OrderItem{{
			ProductName: "Brown Sugar Milk Tea",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("4.75"),
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "Status:   PAID / payment PAID")
	assert.Contains(t, out, "Total:    9.50")
	assert.Contains(t, out, "2x Brown Sugar Milk Tea  9.50")
}

func TestReconcileCmd_OpenFailure(t *testing.T) {
	cmd := reconcileCmd(func(context.Context) (*env, error) { return nil, errors.New("no db") })
	cmd.SetArgs([]string{"tr_1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no db")
}

func TestAuditCmd_RequiresUser(t *testing.T) {
	cmd := auditPointsCmd(func(context.Context) (*env, error) {
		t.Fatal("open should not be called")
		return nil, nil
	})
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
