package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"BobaOrders/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	id, order_number, status, payment_status, payment_id,
	customer_name, customer_email, customer_phone, pickup_time,
	total::text, points_earned, points_redeemed, user_id,
	loyalty_pending, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, order_number, status, payment_status, payment_id,
				customer_name, customer_email, customer_phone, pickup_time,
				total, points_earned, points_redeemed, user_id
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			order.ID,
			order.OrderNumber,
			order.Status,
			order.PaymentStatus,
			order.PaymentID,
			order.CustomerName,
			order.CustomerEmail,
			order.CustomerPhone,
			order.PickupTime,
			order.Total.String(),
			order.PointsEarned,
			order.PointsRedeemed,
			order.UserID,
		)
		if err != nil {
			return err
		}
		for i, item := range order.Items {
			customizations := item.Customizations
			if len(customizations) == 0 {
				customizations = []byte("{}")
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, product_name,
					unit_price, quantity, customizations, position
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				item.ID,
				order.ID,
				item.ProductID,
				item.ProductName,
				item.UnitPrice.String(),
				item.Quantity,
				string(customizations),
				i,
			)
			if err != nil {
				return fmt.Errorf("insert item %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return nil, err
	}
	if order.Items, err = listItems(ctx, s.Pool, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, orderNumber))
	if err != nil {
		return nil, err
	}
	if order.Items, err = listItems(ctx, s.Pool, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// AttachPayment records the provider payment on an order that is still
// awaiting payment. It reports false when the order has moved on.
func (s *Store) AttachPayment(ctx context.Context, orderID, paymentID string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET payment_id=$2, updated_at=now()
		WHERE id=$1 AND payment_status='PENDING'
	`, orderID, paymentID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListAwaitingPayment returns orders that have a provider payment attached
// but are still PENDING and were last touched before olderThan. Orders never
// swept come first, then the ones swept longest ago.
func (s *Store) ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status='PENDING' AND payment_id IS NOT NULL AND updated_at < $1
		ORDER BY last_swept_at NULLS FIRST, updated_at
		LIMIT $2
	`, olderThan, limit)
}

// MarkSwept stamps last_swept_at on the given orders so the next sweep moves
// on to others.
func (s *Store) MarkSwept(ctx context.Context, orderIDs []string, at time.Time) error {
	if len(orderIDs) == 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `UPDATE orders SET last_swept_at=$2 WHERE id = ANY($1)`, orderIDs, at)
	return err
}

// ListLoyaltyPending returns settled orders whose points movement still has
// to be applied, in the same swept order as ListAwaitingPayment.
func (s *Store) ListLoyaltyPending(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+`
		FROM orders
		WHERE loyalty_pending
		ORDER BY last_swept_at NULLS FIRST, updated_at
		LIMIT $1
	`, limit)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, email, loyalty_points, loyalty_tier
		FROM users WHERE id=$1
	`, userID).Scan(&u.ID, &u.Name, &u.Email, &u.LoyaltyPoints, &u.LoyaltyTier)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) SumLoyaltyTransactions(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0)::bigint FROM loyalty_transactions WHERE user_id=$1
	`, userID).Scan(&sum)
	return sum, err
}

func (s *Store) ListLoyaltyTransactions(ctx context.Context, userID string) ([]*models.LoyaltyTransaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, user_id, order_id, points, type, description, created_at
		FROM loyalty_transactions
		WHERE user_id=$1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LoyaltyTransaction
	for rows.Next() {
		var t models.LoyaltyTransaction
		var orderID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &orderID, &t.Points, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		if orderID.Valid {
			t.OrderID = &orderID.String
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// WithTx runs fn in a single database transaction, committing when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var paymentID sql.NullString
	var userID sql.NullString
	var total string

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentStatus,
		&paymentID,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.PickupTime,
		&total,
		&order.PointsEarned,
		&order.PointsRedeemed,
		&userID,
		&order.LoyaltyPending,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse order total %q: %w", total, err)
	}
	if paymentID.Valid {
		order.PaymentID = &paymentID.String
	}
	if userID.Valid {
		order.UserID = &userID.String
	}
	return &order, nil
}

func listItems(ctx context.Context, q querier, orderID string) ([]models.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price::text, quantity, customizations
		FROM order_items
		WHERE order_id=$1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var price string
		var customizations []byte
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&price,
			&item.Quantity,
			&customizations,
		); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse item price %q: %w", price, err)
		}
		item.Customizations = customizations
		items = append(items, item)
	}
	return items, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
