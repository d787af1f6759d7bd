package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"BobaOrders/internal/db"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_DSN and applies the schema. Tests
// are skipped when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	files, err := filepath.Glob("../../migrations/*.sql")
	require.NoError(t, err)
	sort.Strings(files)
	for _, f := range files {
		schema, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(schema))
		require.NoError(t, err)
	}
	return New(pool)
}

func seedUser(t *testing.T, st *Store, points int64) string {
	t.Helper()
	id := uuid.NewString()
	_, err := st.Pool.Exec(context.Background(), `
		INSERT INTO users (id, name, email, loyalty_points, loyalty_tier) VALUES ($1, 'Mei', $2, $3, $4)
	`, id, id+"@example.com", points, loyalty.TierFor(points))
	require.NoError(t, err)
	return id
}

func seedOrder(t *testing.T, st *Store, userID *string) *models.Order {
	t.Helper()
	id := uuid.NewString()
	order := &models.Order{
		ID:            id,
		OrderNumber:   "BT-" + id[:8],
		Status:        models.OrderPending,
		PaymentStatus: models.PaymentPending,
		CustomerName:  "Mei",
		CustomerEmail: "mei@example.com",
		PickupTime:    time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		Total:         decimal.RequireFromString("11.50"),
		PointsEarned:  11,
		UserID:        userID,
		Items: []models.OrderItem{
			{ID: uuid.NewString(), ProductID: "p1", ProductName: "Taro Milk Tea", UnitPrice: decimal.RequireFromString("5.75"), Quantity: 2, Customizations: json.RawMessage(`{"size":"Large"}`)},
			{ID: uuid.NewString(), ProductID: "p2", ProductName: "Egg Pudding", UnitPrice: decimal.RequireFromString("0"), Quantity: 1},
		},
	}
	require.NoError(t, st.CreateOrder(context.Background(), order))
	return order
}

func TestStore_OrderRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	order := seedOrder(t, st, nil)

	got, err := st.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.True(t, got.Total.Equal(order.Total))
	assert.Nil(t, got.UserID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Taro Milk Tea", got.Items[0].ProductName)
	assert.JSONEq(t, `{"size":"Large"}`, string(got.Items[0].Customizations))
	assert.JSONEq(t, `{}`, string(got.Items[1].Customizations))

	_, err = st.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AttachPaymentOnlyWhilePending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	order := seedOrder(t, st, nil)
	pid := "tr_" + order.ID[:8]

	ok, err := st.AttachPayment(ctx, order.ID, pid)
	require.NoError(t, err)
	assert.True(t, ok)

	err = st.WithTx(ctx, func(tx *Tx) error {
		moved, err := tx.TransitionPayment(ctx, order.ID, models.PaymentPending, models.PaymentPaid, models.OrderPaid, pid)
		assert.True(t, moved)
		return err
	})
	require.NoError(t, err)

	ok, err = st.AttachPayment(ctx, order.ID, pid+"_2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TransitionIsConditional(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	order := seedOrder(t, st, nil)

	for i, want := range []bool{true, false} {
		err := st.WithTx(ctx, func(tx *Tx) error {
			moved, err := tx.TransitionPayment(ctx, order.ID, models.PaymentPending, models.PaymentFailed, models.OrderCancelled, "tr_x"+order.ID[:4])
			assert.Equal(t, want, moved, "attempt %d", i)
			return err
		})
		require.NoError(t, err)
	}

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, models.OrderCancelled, got.Status)
}

func TestStore_LedgerWritesAndAudit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, st, 0)
	order := seedOrder(t, st, &userID)

	var bal *loyalty.Balance
	err := st.WithTx(ctx, func(tx *Tx) error {
		var err error
		bal, err = loyalty.Ledger{}.Apply(ctx, tx, loyalty.Entry{
			UserID: userID, OrderID: &order.ID, Points: 520, Type: models.TransactionEarn, Description: "Points earned for order " + order.OrderNumber,
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(520), bal.Points)
	assert.Equal(t, models.TierSilver, bal.Tier)

	report, err := loyalty.Ledger{}.Audit(ctx, st, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent())

	txns, err := st.ListLoyaltyTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.NotNil(t, txns[0].OrderID)
	assert.Equal(t, order.ID, *txns[0].OrderID)
}

func TestStore_NegativeBalanceRejected(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, st, 10)

	err := st.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.AddPoints(ctx, userID, -11)
		return err
	})
	assert.ErrorIs(t, err, loyalty.ErrNegativeBalance)

	u, err := st.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.LoyaltyPoints)
}

func TestStore_SavepointRollsBackOnlyInner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, st, 100)
	order := seedOrder(t, st, &userID)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.TransitionPayment(ctx, order.ID, models.PaymentPending, models.PaymentPaid, models.OrderPaid, "tr_sp"+order.ID[:6]); err != nil {
			return err
		}
		spErr := tx.Savepoint(ctx, func(sp *Tx) error {
			if _, err := sp.AddPoints(ctx, userID, 50); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, spErr, boom)
		return nil
	})
	require.NoError(t, err)

	u, err := st.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.LoyaltyPoints)
	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
}

func TestStore_ListAwaitingPayment(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	order := seedOrder(t, st, nil)
	_, err := st.AttachPayment(ctx, order.ID, "tr_aw"+order.ID[:8])
	require.NoError(t, err)

	orders, err := st.ListAwaitingPayment(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	found := false
	for _, o := range orders {
		if o.ID == order.ID {
			found = true
		}
	}
	assert.True(t, found)

	orders, err = st.ListAwaitingPayment(ctx, time.Now().Add(-time.Hour), 1000)
	require.NoError(t, err)
	for _, o := range orders {
		assert.NotEqual(t, order.ID, o.ID)
	}
}

func TestStore_MarkSweptRotatesAwaitingOrders(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	first := seedOrder(t, st, nil)
	second := seedOrder(t, st, nil)
	for _, o := range []*models.Order{first, second} {
		_, err := st.AttachPayment(ctx, o.ID, "tr_sw"+o.ID[:8])
		require.NoError(t, err)
	}
	cutoff := time.Now().Add(time.Minute)

	require.NoError(t, st.MarkSwept(ctx, []string{first.ID}, time.Now()))

	orders, err := st.ListAwaitingPayment(ctx, cutoff, 1000)
	require.NoError(t, err)
	pos := map[string]int{}
	for i, o := range orders {
		pos[o.ID] = i
	}
	require.Contains(t, pos, first.ID)
	require.Contains(t, pos, second.ID)
	assert.Less(t, pos[second.ID], pos[first.ID])

	assert.NoError(t, st.MarkSwept(ctx, nil, time.Now()))
}

func TestStore_LoyaltyPendingFlag(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	order := seedOrder(t, st, nil)

	err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.SetLoyaltyPending(ctx, order.ID, true)
	})
	require.NoError(t, err)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.LoyaltyPending)

	flagged, err := st.ListLoyaltyPending(ctx, 1000)
	require.NoError(t, err)
	found := false
	for _, o := range flagged {
		if o.ID == order.ID {
			found = true
		}
	}
	assert.True(t, found)

	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.SetLoyaltyPending(ctx, order.ID, false)
	})
	require.NoError(t, err)
	got, err = st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, got.LoyaltyPending)
}
