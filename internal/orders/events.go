package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderAwaitingPayment = "OrderAwaitingPayment"
	EventOrderPaid            = "OrderPaid"
	EventOrderFailed          = "OrderFailed"
	EventOrderCancelled       = "OrderCancelled"
	EventOrderRefunded        = "OrderRefunded"
	EventOrderStatusChanged   = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	BookID string `json:"book_id"`
	Qty    int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Items         []ItemQty     `json:"items"`
	Total         int64         `json:"total_amount"`
}

type StatusChangedPayload struct {
	OrderID       string `json:"order_id"`
	From          Status `json:"from"`
	To            Status `json:"to"`
	TransactionID string `json:"transaction_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// EventTypeFor picks the specific event name for entering a status.
func EventTypeFor(to Status) string {
	switch to {
	case StatusAwaitingPayment:
		return EventOrderAwaitingPayment
	case StatusPaid:
		return EventOrderPaid
	case StatusFailed:
		return EventOrderFailed
	case StatusCancelled:
		return EventOrderCancelled
	case StatusRefunded:
		return EventOrderRefunded
	}
	return EventOrderStatusChanged
}

// NewEnvelope wraps payload in a v1 envelope. It panics only if payload
// cannot be marshalled, which for the payload types above cannot happen.
func NewEnvelope(eventType, producer, orderID string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}
}

func CreatedEvent(producer string, o *Order) Envelope {
	items := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemQty{BookID: it.BookID, Qty: it.Quantity})
	}
	return NewEnvelope(EventOrderCreated, producer, o.ID, OrderCreatedPayload{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		PaymentMethod: o.PaymentMethod,
		Items:         items,
		Total:         o.Total,
	})
}

func StatusEvent(producer string, p StatusChangedPayload) Envelope {
	return NewEnvelope(EventTypeFor(p.To), producer, p.OrderID, p)
}

// PaymentCollectedEvent announces a cash collection. It is published even
// when the order status does not move, so the receipt is not tied to a
// later transition.
func PaymentCollectedEvent(producer string, p StatusChangedPayload) Envelope {
	return NewEnvelope(EventOrderPaid, producer, p.OrderID, p)
}
