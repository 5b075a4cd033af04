// Package checkout is the command and query surface for orders. Every
// command authorizes the caller, runs as one storage transaction and
// publishes its events after commit.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-bookstore-orders/internal/cart"
	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/invoice"
	"github.com/ariefcatur/go-bookstore-orders/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders/internal/payment"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system" // payment provider callbacks, workers
)

type Caller struct {
	ID   string
	Role Role
}

func (c Caller) privileged() bool { return c.Role == RoleAdmin || c.Role == RoleSystem }

func (c Caller) actor() string {
	if c.ID == "" {
		return string(c.Role)
	}
	return string(c.Role) + ":" + c.ID
}

type CreateOrderInput struct {
	CartID        string               `json:"cart_id" validate:"required"`
	PaymentMethod orders.PaymentMethod `json:"payment_method" validate:"required"`
	Billing       orders.Address       `json:"billing_address" validate:"required"`
	Shipping      *orders.Address      `json:"shipping_address,omitempty"`
}

type UpdateStatusInput struct {
	OrderID       string          `json:"-"`
	Status        orders.Status   `json:"status" validate:"required"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

type Page struct {
	Orders  []orders.Order `json:"orders"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

type Service struct {
	Store    orders.Store
	Ledger   *inventory.Ledger
	Payments *payment.Coordinator
	Invoices *invoice.Generator
	Events   orders.Publisher
	Cache    orders.OrderCache
	Log      *slog.Logger
	Producer string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Service) cache() orders.OrderCache {
	if s.Cache != nil {
		return s.Cache
	}
	return orders.NopCache{}
}

func (s *Service) publish(ctx context.Context, ev orders.Envelope) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.log().Warn("publish event", "event_type", ev.EventType, "order_id", ev.CorrelationID, "error", err)
	}
}

// CreateOrder turns the caller's active cart into a pending order with its
// stock held. The cart is closed in the same transaction.
func (s *Service) CreateOrder(ctx context.Context, caller Caller, in CreateOrderInput) (*orders.Order, error) {
	if caller.Role != RoleCustomer || caller.ID == "" {
		return nil, orders.ErrForbidden
	}
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", orders.ErrUnsupportedMethod, in.PaymentMethod)
	}
	shipping := in.Billing
	if in.Shipping != nil {
		shipping = *in.Shipping
	}

	var created *orders.Order
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		lines, err := tx.CartLines(ctx, caller.ID, in.CartID)
		if err != nil {
			return err
		}
		snap, err := cart.Build(lines)
		if err != nil {
			return err
		}
		if err := s.Ledger.Reserve(ctx, tx, snap.Items); err != nil {
			return err
		}

		now := s.now()
		o := &orders.Order{
			ID:             uuid.NewString(),
			CustomerID:     caller.ID,
			CartID:         in.CartID,
			Items:          snap.Items,
			Billing:        in.Billing,
			Shipping:       shipping,
			PaymentMethod:  in.PaymentMethod,
			Status:         orders.StatusPending,
			InventoryState: orders.InventoryHeld,
			Total:          snap.Total,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.CloseCart(ctx, in.CartID); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		metrics.CheckoutRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	s.cache().Put(ctx, created)
	metrics.OrdersCreated.Inc()
	s.log().Info("order created", "order_id", created.ID, "customer_id", created.CustomerID,
		"total", created.Total, "payment_method", created.PaymentMethod)
	s.publish(ctx, orders.CreatedEvent(s.Producer, created))
	return created, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, orders.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, orders.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, orders.ErrInvalidQuantity), errors.Is(err, orders.ErrInvalidPrice):
		return "invalid_cart"
	}
	return "error"
}

// GetOrder returns the order if the caller may see it. Orders owned by
// someone else are reported as missing.
func (s *Service) GetOrder(ctx context.Context, caller Caller, orderID string) (*orders.Order, error) {
	o, ok := s.cache().Get(ctx, orderID)
	if !ok {
		var err error
		o, err = s.Store.GetOrder(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil, orders.ErrOrderNotFound
		}
		if err != nil {
			return nil, err
		}
		s.cache().Put(ctx, o)
	}
	if !visible(caller, o) {
		return nil, orders.ErrOrderNotFound
	}
	return o, nil
}

func visible(caller Caller, o *orders.Order) bool {
	return caller.privileged() || o.OwnedBy(caller.ID)
}

// ListOrders pages through the caller's orders. Admins see every order
// unless they filter by customer.
func (s *Service) ListOrders(ctx context.Context, caller Caller, q orders.ListQuery) (Page, error) {
	switch {
	case caller.Role == RoleAdmin:
	case caller.Role == RoleCustomer && caller.ID != "":
		q.CustomerID = caller.ID
	default:
		return Page{}, orders.ErrForbidden
	}
	q.Normalize()
	list, total, err := s.Store.ListOrders(ctx, q)
	if err != nil {
		return Page{}, err
	}
	if list == nil {
		list = []orders.Order{}
	}
	return Page{Orders: list, Total: total, Page: q.Page, PerPage: q.PerPage}, nil
}

// ProcessPayment starts settlement with the order's payment method.
func (s *Service) ProcessPayment(ctx context.Context, caller Caller, orderID string, details json.RawMessage) (payment.Result, error) {
	o, err := s.GetOrder(ctx, caller, orderID)
	if err != nil {
		return payment.Result{}, err
	}
	if caller.Role == RoleSystem {
		return payment.Result{}, orders.ErrForbidden
	}
	return s.Payments.Initiate(ctx, o.ID, details)
}

// UpdateStatus applies a requested status. Settlement outcomes go through
// the payment coordinator; the rest are plain transitions.
func (s *Service) UpdateStatus(ctx context.Context, caller Caller, in UpdateStatusInput) (*orders.Order, error) {
	to, err := orders.ParseStatus(string(in.Status))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orders.ErrInvalidTransition, err)
	}
	o, err := s.GetOrder(ctx, caller, in.OrderID)
	if err != nil {
		return nil, err
	}

	switch {
	case to == orders.StatusCancelled:
		return s.Cancel(ctx, caller, in.OrderID, in.Reason)

	case o.PaymentMethod == orders.MethodCollectOnDelivery && in.TransactionID != "":
		if !caller.privileged() {
			return nil, orders.ErrForbidden
		}
		next := to
		if to == orders.StatusPaid {
			next = ""
		}
		return s.Payments.RecordCollection(ctx, payment.Collection{
			OrderID:       o.ID,
			TransactionID: in.TransactionID,
			Details:       in.Details,
			Next:          next,
			Actor:         caller.actor(),
		})

	case to == orders.StatusPaid || to == orders.StatusFailed:
		if !caller.privileged() {
			return nil, orders.ErrForbidden
		}
		outcome := orders.OutcomeSucceeded
		if to == orders.StatusFailed {
			outcome = orders.OutcomeFailed
		}
		return s.Payments.Confirm(ctx, payment.Confirmation{
			OrderID:       o.ID,
			TransactionID: in.TransactionID,
			Outcome:       outcome,
			Details:       in.Details,
			Reason:        in.Reason,
			Actor:         caller.actor(),
		})

	case to == orders.StatusPending || to == orders.StatusAwaitingPayment:
		return nil, fmt.Errorf("%w: %s is entered only by checkout and settlement", orders.ErrInvalidTransition, to)

	case o.Status == orders.StatusPending && to == orders.StatusProcessing:
		return nil, fmt.Errorf("%w: collect on delivery is acknowledged through payment", orders.ErrInvalidTransition)
	}

	if caller.Role != RoleAdmin {
		return nil, orders.ErrForbidden
	}
	return s.transition(ctx, o.ID, to, caller.actor(), in.Reason, nil)
}

// Cancel cancels an order the caller owns (or any order, for admins) and
// returns its stock. Customers may cancel until the order ships, but not
// once money has been taken: a settled order is cancelled by an admin.
func (s *Service) Cancel(ctx context.Context, caller Caller, orderID, reason string) (*orders.Order, error) {
	o, err := s.GetOrder(ctx, caller, orderID)
	if err != nil {
		return nil, err
	}
	if caller.Role != RoleAdmin && !o.OwnedBy(caller.ID) {
		return nil, orders.ErrForbidden
	}
	if reason == "" {
		reason = "cancelled by " + string(caller.Role)
	}
	return s.transition(ctx, orderID, orders.StatusCancelled, caller.actor(), reason, func(o *orders.Order) error {
		if caller.Role == RoleAdmin {
			return nil
		}
		switch o.Status {
		case orders.StatusCancelled:
			return nil
		case orders.StatusPending, orders.StatusAwaitingPayment, orders.StatusProcessing, orders.StatusPaid:
			if o.SettledAt != nil {
				return fmt.Errorf("%w: %s order is cancelled by an admin", orders.ErrForbidden, o.Status)
			}
			return nil
		}
		return fmt.Errorf("%w: %s order cannot be cancelled by the customer", orders.ErrInvalidTransition, o.Status)
	})
}

// transition moves the locked order to `to`, handing stock back where the
// target requires it and closing any open settlement attempt.
func (s *Service) transition(ctx context.Context, orderID string, to orders.Status, actor, reason string, guard func(*orders.Order) error) (*orders.Order, error) {
	var (
		out     *orders.Order
		from    orders.Status
		changed bool
	)
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return orders.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		out, from = o, o.Status
		if guard != nil {
			if err := guard(o); err != nil {
				return err
			}
		}

		now := s.now()
		changed, err = o.TransitionTo(to, now)
		if err != nil || !changed {
			return err
		}

		if from == orders.StatusAwaitingPayment {
			a, err := tx.PendingAttempt(ctx, o.ID)
			switch {
			case err == nil:
				a.Outcome = orders.OutcomeFailed
				a.FailureReason = "order " + string(to)
				a.ResolvedAt = &now
				if err := tx.ResolveAttempt(ctx, a); err != nil {
					return err
				}
			case !errors.Is(err, orders.ErrNotFound):
				return err
			}
		}
		// a refund happens before shipment, so the books go back on the shelf
		if to.ReleasesStock() || to == orders.StatusRefunded {
			if err := s.Ledger.Release(ctx, tx, o); err != nil {
				return err
			}
		}
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return out, nil
	}

	s.cache().Put(ctx, out)
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	s.log().Info("order status changed", "order_id", out.ID, "from", from, "to", to, "actor", actor, "reason", reason)
	s.publish(ctx, orders.StatusEvent(s.Producer, orders.StatusChangedPayload{
		OrderID: out.ID, From: from, To: to, Actor: actor, Reason: reason,
	}))
	return out, nil
}

// Invoice renders the invoice, or the receipt once paid, for a visible order.
func (s *Service) Invoice(ctx context.Context, caller Caller, orderID string) (invoice.Document, error) {
	o, err := s.GetOrder(ctx, caller, orderID)
	if err != nil {
		return invoice.Document{}, err
	}
	gen := s.Invoices
	if gen == nil {
		gen = invoice.NewGenerator(invoice.Company{}, 0, "", "")
	}
	return gen.Generate(o), nil
}

// ParseRole maps a token role claim onto a Role; unknown roles are customers.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(s)) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSystem:
		return RoleSystem
	}
	return RoleCustomer
}
