package orders

import (
	"encoding/json"
	"time"
)

type PaymentMethod string

const (
	MethodCard              PaymentMethod = "card"
	MethodCollectOnDelivery PaymentMethod = "collect_on_delivery"
	MethodMTNMobileMoney    PaymentMethod = "mtn_mobile_money"
	MethodAirtelMoney       PaymentMethod = "airtel_money"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodCollectOnDelivery, MethodMTNMobileMoney, MethodAirtelMoney:
		return true
	}
	return false
}

// InventoryState is the per-order reservation flag.
type InventoryState string

const (
	InventoryHeld      InventoryState = "held"
	InventoryCommitted InventoryState = "committed"
	InventoryReleased  InventoryState = "released"
)

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Valid() bool {
	return o == OutcomePending || o == OutcomeSucceeded || o == OutcomeFailed
}

type Address struct {
	FullName   string `json:"full_name" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"omitempty,max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

// LineItem is one frozen cart line. Title and cover are captured with the price.
type LineItem struct {
	BookID    string `json:"book_id"`
	Title     string `json:"title"`
	CoverURL  string `json:"cover_url,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func (li LineItem) Subtotal() int64 { return li.UnitPrice * int64(li.Quantity) }

// CartLine is a cart item joined with the current catalog entry.
type CartLine struct {
	BookID    string
	Title     string
	CoverURL  string
	UnitPrice int64
	Quantity  int
}

// Snapshot is the immutable priced result of freezing a cart.
type Snapshot struct {
	Items []LineItem
	Total int64
}

type Order struct {
	ID             string         `json:"id"`
	CustomerID     string         `json:"customer_id"`
	CartID         string         `json:"cart_id"`
	Items          []LineItem     `json:"items"`
	Billing        Address        `json:"billing_address"`
	Shipping       Address        `json:"shipping_address"`
	PaymentMethod  PaymentMethod  `json:"payment_method"`
	Status         Status         `json:"status"`
	InventoryState InventoryState `json:"inventory_state"`
	Total          int64          `json:"total_amount"`
	Version        int64          `json:"version"`
	PaymentDueAt   *time.Time     `json:"payment_due_at,omitempty"`
	SettledAt      *time.Time     `json:"settled_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TransitionTo moves the order along the edge table. A move to the current
// status is a no-op and reports changed=false.
func (o *Order) TransitionTo(to Status, now time.Time) (changed bool, err error) {
	if o.Status == to {
		return false, nil
	}
	if !CanTransition(o.Status, to) {
		return false, transitionError(o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	if to != StatusAwaitingPayment {
		o.PaymentDueAt = nil
	}
	return true, nil
}

func (o *Order) OwnedBy(customerID string) bool {
	return customerID != "" && o.CustomerID == customerID
}

// LineTotal recomputes the total from the frozen items.
func (o *Order) LineTotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.Subtotal()
	}
	return sum
}

type SettlementAttempt struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Method        PaymentMethod   `json:"method"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Details       json.RawMessage `json:"details,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

type StockRecord struct {
	BookID    string `json:"book_id"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
}

type SortField string

const (
	SortCreatedAt   SortField = "created_at"
	SortTotalAmount SortField = "total_amount"
	SortStatus      SortField = "status"
)

type ListQuery struct {
	CustomerID string // empty lists every customer
	Status     Status // empty lists every status
	SortBy     SortField
	Desc       bool
	Page       int
	PerPage    int
}

// Normalize fills defaults and clamps paging.
func (q *ListQuery) Normalize() {
	switch q.SortBy {
	case SortCreatedAt, SortTotalAmount, SortStatus:
	default:
		q.SortBy = SortCreatedAt
		q.Desc = true
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 10
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
}

func (q ListQuery) Offset() int { return (q.Page - 1) * q.PerPage }
