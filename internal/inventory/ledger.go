// Package inventory holds stock for orders. All mutations go through the
// storage transaction passed in, so they commit or roll back with the order.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-bookstore-orders/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Reserve holds stock for every item or fails with *orders.OutOfStockError.
// Books are locked in id order so concurrent checkouts cannot deadlock.
// On failure the caller must roll back the transaction; rows already
// reserved in it are not undone here.
func (l *Ledger) Reserve(ctx context.Context, tx orders.Tx, items []orders.LineItem) error {
	sorted := make([]orders.LineItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BookID < sorted[j].BookID })

	var rejects []orders.StockRejectedDetail
	for _, it := range sorted {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: book %s quantity %d", orders.ErrInvalidQuantity, it.BookID, it.Quantity)
		}
		ok, err := tx.ReserveStock(ctx, it.BookID, it.Quantity)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", it.BookID, err)
		}
		if ok {
			continue
		}
		rec, err := tx.Stock(ctx, it.BookID)
		if err != nil && !errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("read stock %s: %w", it.BookID, err)
		}
		rejects = append(rejects, orders.StockRejectedDetail{
			BookID: it.BookID, Required: it.Quantity, Available: rec.Available,
		})
	}
	if len(rejects) > 0 {
		metrics.StockReservations.WithLabelValues("rejected").Inc()
		return &orders.OutOfStockError{Details: rejects}
	}
	metrics.StockReservations.WithLabelValues("reserve").Inc()
	return nil
}

// Commit finalizes a held reservation. Committing a committed or released
// order does nothing.
func (l *Ledger) Commit(ctx context.Context, tx orders.Tx, o *orders.Order) error {
	if o.InventoryState != orders.InventoryHeld {
		return nil
	}
	for _, it := range o.Items {
		if err := tx.CommitStock(ctx, it.BookID, it.Quantity); err != nil {
			return fmt.Errorf("commit %s: %w", it.BookID, err)
		}
	}
	o.InventoryState = orders.InventoryCommitted
	metrics.StockReservations.WithLabelValues("commit").Inc()
	return nil
}

// Release returns the order's stock exactly once. Held stock goes back to
// available; committed stock is restocked. The new flag is persisted by the
// caller's SaveOrder, whose version check keeps a second release out.
func (l *Ledger) Release(ctx context.Context, tx orders.Tx, o *orders.Order) error {
	switch o.InventoryState {
	case orders.InventoryHeld:
		for _, it := range o.Items {
			if err := tx.ReleaseStock(ctx, it.BookID, it.Quantity); err != nil {
				return fmt.Errorf("release %s: %w", it.BookID, err)
			}
		}
	case orders.InventoryCommitted:
		for _, it := range o.Items {
			if err := tx.RestockStock(ctx, it.BookID, it.Quantity); err != nil {
				return fmt.Errorf("restock %s: %w", it.BookID, err)
			}
		}
	default:
		return nil
	}
	o.InventoryState = orders.InventoryReleased
	metrics.StockReservations.WithLabelValues("release").Inc()
	return nil
}
