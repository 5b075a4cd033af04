package orders

import (
	"context"
	"time"
)

// Store is implemented by the postgres and sqlite packages. Every mutation
// runs inside InTx; fn must only use the Tx it is given.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, q ListQuery) ([]Order, int, error)
	ListAttempts(ctx context.Context, orderID string) ([]SettlementAttempt, error)
	// ExpiredAwaitingPayment returns ids of awaiting_payment orders whose
	// payment_due_at is before now, oldest first.
	ExpiredAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]string, error)
	Stock(ctx context.Context, bookID string) (StockRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	// CartLines returns the active cart's items priced at the current catalog
	// price. A cart that is missing, not owned or not active yields no lines.
	CartLines(ctx context.Context, customerID, cartID string) ([]CartLine, error)
	CloseCart(ctx context.Context, cartID string) error

	// ReserveStock moves qty from available to reserved only if enough is
	// available; ok=false leaves the record untouched.
	ReserveStock(ctx context.Context, bookID string, qty int) (ok bool, err error)
	CommitStock(ctx context.Context, bookID string, qty int) error
	ReleaseStock(ctx context.Context, bookID string, qty int) error
	RestockStock(ctx context.Context, bookID string, qty int) error
	Stock(ctx context.Context, bookID string) (StockRecord, error)

	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder loads the order and holds it for the rest of the transaction.
	LockOrder(ctx context.Context, id string) (*Order, error)
	// SaveOrder persists status, inventory state and timestamps if the stored
	// version still equals o.Version, then bumps o.Version.
	SaveOrder(ctx context.Context, o *Order) error

	InsertAttempt(ctx context.Context, a *SettlementAttempt) error
	ResolveAttempt(ctx context.Context, a *SettlementAttempt) error
	PendingAttempt(ctx context.Context, orderID string) (*SettlementAttempt, error)
	SucceededAttempt(ctx context.Context, orderID string) (*SettlementAttempt, error)
	SucceededAttemptByTxn(ctx context.Context, txnID string) (*SettlementAttempt, error)
}

// Publisher receives lifecycle events after the owning transaction commits.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }

// OrderCache sits in front of Store.GetOrder and must be shared by every
// process that writes orders. Writers Put the committed order; Put never
// replaces a cached order with a lower Version, so a read that raced a
// commit cannot reinstate the old state. Misses and failures are silent;
// the store stays the source of truth.
type OrderCache interface {
	Get(ctx context.Context, id string) (*Order, bool)
	Put(ctx context.Context, o *Order)
}

// NopCache is used when no shared cache is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Order, bool) { return nil, false }
func (NopCache) Put(context.Context, *Order) {}
