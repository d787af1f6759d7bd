package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

type TransactionType string

const (
	TransactionEarn       TransactionType = "EARN"
	TransactionRedeem     TransactionType = "REDEEM"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

type LoyaltyTier string

const (
	TierBronze LoyaltyTier = "BRONZE"
	TierSilver LoyaltyTier = "SILVER"
	TierGold   LoyaltyTier = "GOLD"
)

type Order struct {
	ID             string
	OrderNumber    string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentID      *string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	PickupTime     time.Time
	Total          decimal.Decimal
	PointsEarned   int64
	PointsRedeemed int64
	UserID         *string
	// LoyaltyPending marks a settled order whose points movement failed and
	// still has to be applied.
	LoyaltyPending bool
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem is a snapshot of the product taken at checkout.
type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	ProductName    string
	UnitPrice      decimal.Decimal
	Quantity       int
	Customizations json.RawMessage
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type User struct {
	ID            string
	Name          string
	Email         string
	LoyaltyPoints int64
	LoyaltyTier   LoyaltyTier
}

type LoyaltyTransaction struct {
	ID          string
	UserID      string
	OrderID     *string
	Points      int64
	Type        TransactionType
	Description string
	CreatedAt   time.Time
}
