package services

import (
	"context"

	"BobaOrders/internal/models"
	"BobaOrders/internal/store"
)

// PGOrderStore adapts *store.Store to OrderStore.
type PGOrderStore struct {
	Store *store.Store
}

func (p PGOrderStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return p.Store.GetOrder(ctx, orderID)
}

func (p PGOrderStore) InTx(ctx context.Context, fn func(tx OrderTx) error) error {
	return p.Store.WithTx(ctx, func(tx *store.Tx) error {
		return fn(pgTx{tx})
	})
}

type pgTx struct {
	*store.Tx
}

func (t pgTx) Savepoint(ctx context.Context, fn func(tx OrderTx) error) error {
	return t.Tx.Savepoint(ctx, func(sp *store.Tx) error {
		return fn(pgTx{sp})
	})
}

var _ OrderStore = PGOrderStore{}
