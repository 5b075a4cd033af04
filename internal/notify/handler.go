// Package notify turns order lifecycle events into customer documents: an
// invoice when the order is placed and a receipt once it is paid.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-bookstore-orders/internal/kafka"
	"github.com/ariefcatur/go-bookstore-orders/internal/invoice"
	"github.com/ariefcatur/go-bookstore-orders/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type Message struct {
	To       string
	Subject  string
	Document invoice.Document
}

// Sender delivers a rendered document. Mail transport lives outside this
// service.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes the message to the log instead of delivering it.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	body, err := m.Document.JSON()
	if err != nil {
		return err
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "to", m.To, "subject", m.Subject, "kind", m.Document.Kind, "bytes", len(body))
	return nil
}

// Deduper claims a document per order so redelivered or repeated events do
// not send it twice.
type Deduper interface {
	First(ctx context.Context, id string) bool
	Forget(ctx context.Context, id string)
}

type Handler struct {
	Store    orders.Store
	Invoices *invoice.Generator
	Sender   Sender
	Dedup    Deduper // optional
	Log      *slog.Logger
}

func (h *Handler) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// HandleMessage is the kafka consumer entry point.
func (h *Handler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// a poison message is logged and committed
		h.log().Error("drop undecodable event", "partition", m.Partition, "offset", m.Offset, "error", err)
		return nil
	}
	return h.Handle(ctx, env)
}

// Handle sends the document an event calls for. Events that need no
// document are ignored. Each order gets at most one document of each kind,
// however many events call for it.
func (h *Handler) Handle(ctx context.Context, env orders.Envelope) error {
	orderID, kind, ok := h.wants(env)
	if !ok {
		return nil
	}
	key := orderID + ":" + kind
	if h.Dedup != nil && !h.Dedup.First(ctx, key) {
		return nil
	}

	sent, err := h.send(ctx, orderID, kind)
	if !sent && h.Dedup != nil {
		h.Dedup.Forget(ctx, key)
	}
	return err
}

func (h *Handler) wants(env orders.Envelope) (orderID, kind string, ok bool) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return "", "", false
		}
		return p.OrderID, invoice.KindInvoice, true
	case orders.EventOrderPaid:
		return env.CorrelationID, invoice.KindReceipt, true
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		// collect-on-delivery orders may be settled by the time they are handed over
		if err != nil || p.To != orders.StatusDelivered {
			return "", "", false
		}
		return p.OrderID, invoice.KindReceipt, true
	}
	return "", "", false
}

// send reports whether the document went out.
func (h *Handler) send(ctx context.Context, orderID, kind string) (bool, error) {
	o, err := h.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		h.log().Warn("notification for unknown order", "order_id", orderID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load order %s: %w", orderID, err)
	}

	doc := h.Invoices.Generate(o)
	if doc.Kind != kind {
		// not settled yet, or already settled; a later event may still ask for it
		h.log().Debug("skip stale notification", "order_id", orderID, "want", kind, "have", doc.Kind)
		return false, nil
	}
	if err := h.Sender.Send(ctx, Message{To: o.Billing.Email, Subject: doc.Subject(), Document: doc}); err != nil {
		return false, fmt.Errorf("send %s for %s: %w", kind, orderID, err)
	}
	metrics.NotificationsSent.WithLabelValues(kind).Inc()
	return true, nil
}
