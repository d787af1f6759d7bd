package store

import (
	"context"
	"errors"

	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// checkViolation is the Postgres SQLSTATE for a failed CHECK constraint.
const checkViolation = "23514"

// Tx wraps a pgx transaction with the writes the reconciler needs.
type Tx struct {
	tx pgx.Tx
}

// LockOrder reads the order and holds a row lock on it until the
// transaction ends, serialising concurrent reconciliations of one order.
func (t *Tx) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
}

// TransitionPayment moves an order out of payment status from. It returns
// false without error when the order is no longer in that state.
func (t *Tx) TransitionPayment(ctx context.Context, orderID string, from, to models.PaymentStatus, status models.OrderStatus, paymentID string) (bool, error) {
	res, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET payment_status=$3, status=$4, payment_id=$5, updated_at=now()
		WHERE id=$1 AND payment_status=$2
	`, orderID, from, to, status, paymentID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// SetLoyaltyPending flags or clears an order whose points movement has not
// been applied yet.
func (t *Tx) SetLoyaltyPending(ctx context.Context, orderID string, pending bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET loyalty_pending=$2 WHERE id=$1`, orderID, pending)
	return err
}

func (t *Tx) AddPoints(ctx context.Context, userID string, delta int64) (int64, error) {
	var points int64
	err := t.tx.QueryRow(ctx, `
		UPDATE users
		SET loyalty_points = loyalty_points + $2, updated_at=now()
		WHERE id=$1
		RETURNING loyalty_points
	`, userID, delta).Scan(&points)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return 0, loyalty.ErrNegativeBalance
		}
		return 0, notFound(err)
	}
	return points, nil
}

func (t *Tx) SetTier(ctx context.Context, userID string, tier models.LoyaltyTier) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET loyalty_tier=$2 WHERE id=$1`, userID, tier)
	return err
}

func (t *Tx) InsertLoyaltyTransaction(ctx context.Context, txn *models.LoyaltyTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO loyalty_transactions (id, user_id, order_id, points, type, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, txn.ID, txn.UserID, txn.OrderID, txn.Points, txn.Type, txn.Description, txn.CreatedAt)
	return err
}

// Savepoint runs fn in a nested transaction. An error from fn rolls back
// only the work done inside fn; the outer transaction stays usable.
func (t *Tx) Savepoint(ctx context.Context, fn func(tx *Tx) error) error {
	return pgx.BeginFunc(ctx, t.tx, func(nested pgx.Tx) error {
		return fn(&Tx{tx: nested})
	})
}

var _ loyalty.LedgerTx = (*Tx)(nil)
