package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/checkout"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/payment"
	"github.com/ariefcatur/go-bookstore-orders/internal/postgres"
)

// These tests run against a real server and are skipped unless
// POSTGRES_TEST_DSN points at a disposable database. Every table is
// truncated first.

func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 25)
	require.NoError(t, err)
	s := postgres.NewStore(pool)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureSchema(ctx))
	_, err = s.DB.Exec(ctx, `TRUNCATE settlement_attempts, order_items, orders, cart_items, carts, book_stock, books`)
	require.NoError(t, err)
	return s
}

func seedBook(t *testing.T, s *postgres.Store, id string, price int64, stock int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.DB.Exec(ctx, `INSERT INTO books (id, title, price) VALUES ($1, $2, $3)`, id, "Book "+id, price)
	require.NoError(t, err)
	_, err = s.DB.Exec(ctx, `INSERT INTO book_stock (book_id, available) VALUES ($1, $2)`, id, stock)
	require.NoError(t, err)
}

func seedCart(t *testing.T, s *postgres.Store, customer string, items map[string]int) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	_, err := s.DB.Exec(ctx, `INSERT INTO carts (id, customer_id) VALUES ($1, $2)`, id, customer)
	require.NoError(t, err)
	for book, qty := range items {
		_, err = s.DB.Exec(ctx, `INSERT INTO cart_items (cart_id, book_id, quantity) VALUES ($1, $2, $3)`, id, book, qty)
		require.NoError(t, err)
	}
	return id
}

func newService(s *postgres.Store) *checkout.Service {
	ledger := inventory.NewLedger()
	return &checkout.Service{
		Store:  s,
		Ledger: ledger,
		Payments: &payment.Coordinator{
			Store:         s,
			Ledger:        ledger,
			Capturer:      payment.SimulatedCapturer{},
			PaymentWindow: time.Minute,
		},
	}
}

func address() orders.Address {
	return orders.Address{FullName: "Ada", Email: "ada@example.com", Street: "1 Main", City: "Kampala", Country: "UG"}
}

// awaiting places a mobile money order for customer and dispatches it.
func awaiting(t *testing.T, s *postgres.Store, svc *checkout.Service, customer string, qty int) *orders.Order {
	t.Helper()
	ctx := context.Background()
	caller := checkout.Caller{ID: customer, Role: checkout.RoleCustomer}
	o, err := svc.CreateOrder(ctx, caller, checkout.CreateOrderInput{
		CartID:        seedCart(t, s, customer, map[string]int{"X": qty}),
		PaymentMethod: orders.MethodMTNMobileMoney,
		Billing:       address(),
	})
	require.NoError(t, err)
	res, err := svc.ProcessPayment(ctx, caller, o.ID, json.RawMessage(`{"phone_number":"0770000000"}`))
	require.NoError(t, err)
	require.Equal(t, orders.OutcomePending, res.Outcome)
	return o
}

func TestPostgresConcurrentReserveDoesNotOversell(t *testing.T) {
	s := openStore(t)
	seedBook(t, s, "X", 1000, 5)
	ledger := inventory.NewLedger()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, oos  int
		failures []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx orders.Tx) error {
				return ledger.Reserve(ctx, tx, []orders.LineItem{{BookID: "X", Quantity: 1}})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, orders.ErrOutOfStock):
				oos++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, oos)
	rec, err := s.Stock(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Available)
	assert.Equal(t, 5, rec.Reserved)
}

func TestPostgresCartYieldsOneOrder(t *testing.T) {
	s := openStore(t)
	seedBook(t, s, "X", 1000, 50)
	svc := newService(s)
	ctx := context.Background()
	alice := checkout.Caller{ID: "alice", Role: checkout.RoleCustomer}
	in := checkout.CreateOrderInput{
		CartID:        seedCart(t, s, "alice", map[string]int{"X": 2}),
		PaymentMethod: orders.MethodCard,
		Billing:       address(),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		others  []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, alice, in)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if !errors.Is(err, orders.ErrEmptyCart) {
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, created)
	rec, err := s.Stock(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 48, rec.Available)
}

func TestPostgresConcurrentDuplicateConfirmation(t *testing.T) {
	s := openStore(t)
	seedBook(t, s, "X", 1000, 5)
	svc := newService(s)
	ctx := context.Background()
	o := awaiting(t, s, svc, "alice", 2)

	system := checkout.Caller{ID: "mtn", Role: checkout.RoleSystem}
	in := checkout.UpdateStatusInput{OrderID: o.ID, Status: orders.StatusPaid, TransactionID: "MTN-1"}
	const n = 10
	results := make([]*orders.Order, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.UpdateStatus(ctx, system, in)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, orders.StatusPaid, results[i].Status)
		assert.Equal(t, results[0].Version, results[i].Version)
	}

	attempts, err := s.ListAttempts(ctx, o.ID)
	require.NoError(t, err)
	succeeded := 0
	for _, a := range attempts {
		if a.Outcome == orders.OutcomeSucceeded {
			succeeded++
			assert.Equal(t, "MTN-1", a.TransactionID)
		}
	}
	assert.Equal(t, 1, succeeded)

	rec, err := s.Stock(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestPostgresTransactionSettlesOneOrder(t *testing.T) {
	s := openStore(t)
	seedBook(t, s, "X", 1000, 20)
	svc := newService(s)
	ctx := context.Background()

	const n = 4
	placed := make([]*orders.Order, n)
	for i := range placed {
		placed[i] = awaiting(t, s, svc, fmt.Sprintf("customer-%d", i), 1)
	}

	system := checkout.Caller{ID: "mtn", Role: checkout.RoleSystem}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range placed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.UpdateStatus(ctx, system, checkout.UpdateStatusInput{
				OrderID: placed[i].ID, Status: orders.StatusPaid, TransactionID: "MTN-SHARED",
			})
		}(i)
	}
	wg.Wait()

	paid := 0
	for i, err := range errs {
		got, gerr := s.GetOrder(ctx, placed[i].ID)
		require.NoError(t, gerr)
		if err == nil {
			paid++
			assert.Equal(t, orders.StatusPaid, got.Status)
			continue
		}
		assert.ErrorIs(t, err, orders.ErrDuplicateTransaction)
		assert.Equal(t, orders.StatusAwaitingPayment, got.Status)
		assert.Nil(t, got.SettledAt)
	}
	assert.Equal(t, 1, paid)
}

func TestPostgresSaveOrderRejectsStaleVersion(t *testing.T) {
	s := openStore(t)
	seedBook(t, s, "X", 1000, 5)
	svc := newService(s)
	ctx := context.Background()
	o, err := svc.CreateOrder(ctx, checkout.Caller{ID: "alice", Role: checkout.RoleCustomer}, checkout.CreateOrderInput{
		CartID:        seedCart(t, s, "alice", map[string]int{"X": 1}),
		PaymentMethod: orders.MethodCard,
		Billing:       address(),
	})
	require.NoError(t, err)

	stale, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		cur, err := tx.LockOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		cur.UpdatedAt = time.Now().UTC()
		return tx.SaveOrder(ctx, cur)
	}))

	err = s.InTx(ctx, func(tx orders.Tx) error {
		stale.Status = orders.StatusCancelled
		return tx.SaveOrder(ctx, stale)
	})
	require.ErrorIs(t, err, orders.ErrConcurrentUpdate)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, o.Version+1, got.Version)
}

func TestPostgresExpiredAwaitingPayment(t *testing.T) {
	s := openStore(t)
	seedBook(t, s, "X", 1000, 5)
	svc := newService(s)
	ctx := context.Background()
	o := awaiting(t, s, svc, "alice", 2)

	ids, err := s.ExpiredAwaitingPayment(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	reaper := &payment.Reaper{Coordinator: &payment.Coordinator{
		Store:         s,
		Ledger:        inventory.NewLedger(),
		PaymentWindow: time.Minute,
		Now:           func() time.Time { return time.Now().Add(time.Hour) },
	}}
	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
	rec, err := s.Stock(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Available)
}
