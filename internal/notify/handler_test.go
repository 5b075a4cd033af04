package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/invoice"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/sqlite"
)

type inbox struct {
	mu   sync.Mutex
	msgs []Message
	fail error
}

func (i *inbox) Send(_ context.Context, m Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fail != nil {
		return i.fail
	}
	i.msgs = append(i.msgs, m)
	return nil
}

type seenSet map[string]bool

func (s seenSet) First(_ context.Context, id string) bool {
	if s[id] {
		return false
	}
	s[id] = true
	return true
}

func (s seenSet) Forget(_ context.Context, id string) { delete(s, id) }

func setup(t *testing.T) (*Handler, *inbox, *orders.Order) {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	o := &orders.Order{
		ID:             "a1b2c3d4e5",
		CustomerID:     "c1",
		CartID:         "cart1",
		Items:          []orders.LineItem{{BookID: "b1", Title: "Dune", UnitPrice: 1000, Quantity: 1}},
		Billing:        orders.Address{FullName: "Ada", Email: "ada@example.com", Street: "1 Main", City: "Kampala", Country: "UG"},
		PaymentMethod:  orders.MethodCard,
		Status:         orders.StatusPending,
		InventoryState: orders.InventoryHeld,
		Total:          1000,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.Shipping = o.Billing
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))

	box := &inbox{}
	h := &Handler{
		Store:    s,
		Invoices: invoice.NewGenerator(invoice.Company{}, 30, "", ""),
		Sender:   box,
		Dedup:    seenSet{},
	}
	return h, box, o
}

func TestInvoiceOnOrderCreated(t *testing.T) {
	h, box, o := setup(t)
	ev := orders.CreatedEvent("api", o)

	require.NoError(t, h.Handle(context.Background(), ev))
	require.NoError(t, h.Handle(context.Background(), ev)) // redelivery

	require.Len(t, box.msgs, 1)
	assert.Equal(t, "ada@example.com", box.msgs[0].To)
	assert.Equal(t, "Invoice #a1b2c3d4e5", box.msgs[0].Subject)
	assert.Equal(t, "INV-A1B2C3D4", box.msgs[0].Document.InvoiceDetails.InvoiceNumber)
}

// settle marks the stored order paid at delivery time.
func settle(t *testing.T, h *Handler, id string, to orders.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
		o.Status = to
		o.SettledAt = &now
		o.UpdatedAt = now
		return tx.SaveOrder(ctx, o)
	}))
}

func TestReceiptSkippedUntilSettled(t *testing.T) {
	h, box, o := setup(t)
	ev := orders.StatusEvent("api", orders.StatusChangedPayload{OrderID: o.ID, From: orders.StatusPending, To: orders.StatusPaid})

	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Empty(t, box.msgs)

	// the skipped claim is released, so a later redelivery still sends
	settle(t, h, o.ID, orders.StatusPaid)
	require.NoError(t, h.Handle(context.Background(), ev))
	require.Len(t, box.msgs, 1)
	assert.Equal(t, invoice.KindReceipt, box.msgs[0].Document.Kind)
}

func TestOneReceiptPerOrder(t *testing.T) {
	h, box, o := setup(t)
	ctx := context.Background()
	settle(t, h, o.ID, orders.StatusDelivered)

	collected := orders.PaymentCollectedEvent("api", orders.StatusChangedPayload{
		OrderID: o.ID, From: orders.StatusShipped, To: orders.StatusShipped, TransactionID: "CASH-1",
	})
	delivered := orders.StatusEvent("api", orders.StatusChangedPayload{
		OrderID: o.ID, From: orders.StatusShipped, To: orders.StatusDelivered,
	})
	require.NoError(t, h.Handle(ctx, collected))
	require.NoError(t, h.Handle(ctx, delivered))
	require.NoError(t, h.Handle(ctx, collected))

	require.Len(t, box.msgs, 1)
	assert.Equal(t, invoice.KindReceipt, box.msgs[0].Document.Kind)
}

func TestReceiptOnDeliveryWithoutTransaction(t *testing.T) {
	h, box, o := setup(t)
	settle(t, h, o.ID, orders.StatusDelivered)

	ev := orders.StatusEvent("api", orders.StatusChangedPayload{OrderID: o.ID, From: orders.StatusShipped, To: orders.StatusDelivered})
	require.NoError(t, h.Handle(context.Background(), ev))
	require.Len(t, box.msgs, 1)
	assert.Equal(t, invoice.KindReceipt, box.msgs[0].Document.Kind)
}

func TestFailedSendIsRetried(t *testing.T) {
	h, box, o := setup(t)
	ev := orders.CreatedEvent("api", o)

	box.fail = errors.New("smtp down")
	require.Error(t, h.Handle(context.Background(), ev))

	box.fail = nil
	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Len(t, box.msgs, 1)
}

func TestIgnoresOtherEvents(t *testing.T) {
	h, box, o := setup(t)
	ev := orders.StatusEvent("api", orders.StatusChangedPayload{OrderID: o.ID, From: orders.StatusPaid, To: orders.StatusProcessing})
	require.NoError(t, h.Handle(context.Background(), ev))

	require.NoError(t, h.HandleMessage(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.Empty(t, box.msgs)
}
