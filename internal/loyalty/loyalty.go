// Package loyalty owns point balances, tiers and the append-only ledger of
// point movements.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BobaOrders/internal/models"

	"github.com/google/uuid"
)

const (
	SilverThreshold int64 = 500
	GoldThreshold   int64 = 1000
)

var (
	ErrMissingUser     = errors.New("loyalty entry has no user")
	ErrZeroPoints      = errors.New("loyalty entry has zero points")
	ErrNegativeBalance = errors.New("points balance cannot go negative")
)

// TierFor maps a point balance onto its tier. There is no hysteresis: a
// balance that drops below a threshold demotes the user.
func TierFor(points int64) models.LoyaltyTier {
	switch {
	case points >= GoldThreshold:
		return models.TierGold
	case points >= SilverThreshold:
		return models.TierSilver
	default:
		return models.TierBronze
	}
}

// LedgerTx is the slice of a database transaction the ledger writes through.
type LedgerTx interface {
	// AddPoints applies delta and returns the new balance. Implementations
	// return ErrNegativeBalance when the result would drop below zero.
	AddPoints(ctx context.Context, userID string, delta int64) (int64, error)
	SetTier(ctx context.Context, userID string, tier models.LoyaltyTier) error
	InsertLoyaltyTransaction(ctx context.Context, txn *models.LoyaltyTransaction) error
}

type Entry struct {
	UserID      string
	OrderID     *string
	Points      int64
	Type        models.TransactionType
	Description string
}

type Balance struct {
	UserID      string
	Points      int64
	Tier        models.LoyaltyTier
	Transaction *models.LoyaltyTransaction
}

type Ledger struct {
	Now func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Apply moves points, rewrites the tier from the fresh balance and appends
// the matching ledger row. All three writes go through tx so they commit
// or roll back together.
func (l Ledger) Apply(ctx context.Context, tx LedgerTx, e Entry) (*Balance, error) {
	if e.UserID == "" {
		return nil, ErrMissingUser
	}
	if e.Points == 0 {
		return nil, ErrZeroPoints
	}

	points, err := tx.AddPoints(ctx, e.UserID, e.Points)
	if err != nil {
		return nil, fmt.Errorf("add points: %w", err)
	}

	tier := TierFor(points)
	if err := tx.SetTier(ctx, e.UserID, tier); err != nil {
		return nil, fmt.Errorf("set tier: %w", err)
	}

	txn := &models.LoyaltyTransaction{
		ID:          uuid.NewString(),
		UserID:      e.UserID,
		OrderID:     e.OrderID,
		Points:      e.Points,
		Type:        e.Type,
		Description: e.Description,
		CreatedAt:   l.now(),
	}
	if err := tx.InsertLoyaltyTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("insert loyalty transaction: %w", err)
	}

	return &Balance{UserID: e.UserID, Points: points, Tier: tier, Transaction: txn}, nil
}

// AuditStore reads the cached balance and the ledger sum for one user.
type AuditStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SumLoyaltyTransactions(ctx context.Context, userID string) (int64, error)
}

type AuditReport struct {
	UserID       string
	CachedPoints int64
	LedgerPoints int64
	CachedTier   models.LoyaltyTier
	ExpectedTier models.LoyaltyTier
}

func (r AuditReport) Consistent() bool {
	return r.CachedPoints == r.LedgerPoints && r.CachedTier == r.ExpectedTier
}

// Audit checks that the cached balance equals the sum of the user's ledger
// rows and that the stored tier matches the balance.
func (l Ledger) Audit(ctx context.Context, st AuditStore, userID string) (*AuditReport, error) {
	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := st.SumLoyaltyTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AuditReport{
		UserID:       userID,
		CachedPoints: user.LoyaltyPoints,
		LedgerPoints: sum,
		CachedTier:   user.LoyaltyTier,
		ExpectedTier: TierFor(user.LoyaltyPoints),
	}, nil
}
