package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/sqlite"
)

func setupStore(t *testing.T, stock map[string]int) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for id, n := range stock {
		require.NoError(t, s.UpsertBook(ctx, sqlite.Book{ID: id, Title: id, Price: 1000}, n))
	}
	return s
}

func stockOf(t *testing.T, s *sqlite.Store, id string) orders.StockRecord {
	t.Helper()
	rec, err := s.Stock(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestReserveHoldsStock(t *testing.T) {
	s := setupStore(t, map[string]int{"b1": 5})
	l := NewLedger()

	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		return l.Reserve(context.Background(), tx, []orders.LineItem{{BookID: "b1", Quantity: 2}})
	})
	require.NoError(t, err)

	rec := stockOf(t, s, "b1")
	assert.Equal(t, 3, rec.Available)
	assert.Equal(t, 2, rec.Reserved)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	s := setupStore(t, map[string]int{"a": 5, "b": 1})
	l := NewLedger()

	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		return l.Reserve(context.Background(), tx, []orders.LineItem{
			{BookID: "a", Quantity: 2},
			{BookID: "b", Quantity: 2},
		})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, orders.ErrOutOfStock))

	var oos *orders.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, []orders.StockRejectedDetail{{BookID: "b", Required: 2, Available: 1}}, oos.Details)

	assert.Equal(t, 5, stockOf(t, s, "a").Available)
	assert.Equal(t, 0, stockOf(t, s, "a").Reserved)
	assert.Equal(t, 1, stockOf(t, s, "b").Available)
}

func TestReserveUnknownBookIsOutOfStock(t *testing.T) {
	s := setupStore(t, nil)
	err := s.InTx(context.Background(), func(tx orders.Tx) error {
		return NewLedger().Reserve(context.Background(), tx, []orders.LineItem{{BookID: "ghost", Quantity: 1}})
	})
	assert.True(t, errors.Is(err, orders.ErrOutOfStock))
}

func TestConcurrentReserveDoesNotOversell(t *testing.T) {
	s := setupStore(t, map[string]int{"last": 1})
	l := NewLedger()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(context.Background(), func(tx orders.Tx) error {
				return l.Reserve(context.Background(), tx, []orders.LineItem{{BookID: "last", Quantity: 1}})
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, orders.ErrOutOfStock), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	rec := stockOf(t, s, "last")
	assert.Equal(t, 0, rec.Available)
	assert.Equal(t, 1, rec.Reserved)
}

func heldOrder(t *testing.T, s *sqlite.Store, l *Ledger, items []orders.LineItem) *orders.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &orders.Order{
		ID: "o1", CustomerID: "c1", CartID: "cart1", Items: items,
		PaymentMethod: orders.MethodCard, Status: orders.StatusPending,
		InventoryState: orders.InventoryHeld, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx orders.Tx) error {
		if err := l.Reserve(context.Background(), tx, items); err != nil {
			return err
		}
		return tx.InsertOrder(context.Background(), o)
	}))
	return o
}

func TestCommitThenReleaseRestocks(t *testing.T) {
	s := setupStore(t, map[string]int{"b1": 5})
	l := NewLedger()
	ctx := context.Background()
	o := heldOrder(t, s, l, []orders.LineItem{{BookID: "b1", Quantity: 2}})

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return l.Commit(ctx, tx, o) }))
	assert.Equal(t, orders.InventoryCommitted, o.InventoryState)
	rec := stockOf(t, s, "b1")
	assert.Equal(t, 3, rec.Available)
	assert.Equal(t, 0, rec.Reserved)

	// second commit does nothing
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return l.Commit(ctx, tx, o) }))
	assert.Equal(t, 0, stockOf(t, s, "b1").Reserved)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return l.Release(ctx, tx, o) }))
	assert.Equal(t, orders.InventoryReleased, o.InventoryState)
	assert.Equal(t, 5, stockOf(t, s, "b1").Available)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := setupStore(t, map[string]int{"b1": 5})
	l := NewLedger()
	ctx := context.Background()
	o := heldOrder(t, s, l, []orders.LineItem{{BookID: "b1", Quantity: 2}})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return l.Release(ctx, tx, o) }))
	}
	rec := stockOf(t, s, "b1")
	assert.Equal(t, 5, rec.Available)
	assert.Equal(t, 0, rec.Reserved)

	// a released order cannot be committed back into a decrement
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return l.Commit(ctx, tx, o) }))
	assert.Equal(t, 5, stockOf(t, s, "b1").Available)
}
