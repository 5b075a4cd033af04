// Package payment settles orders. It dispatches to the order's payment
// method, records settlement attempts and reconciles provider confirmations.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-bookstore-orders/internal/inventory"
	"github.com/ariefcatur/go-bookstore-orders/internal/metrics"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type Coordinator struct {
	Store    orders.Store
	Ledger   *inventory.Ledger
	Capturer Capturer
	Events   orders.Publisher
	Cache    orders.OrderCache
	Log      *slog.Logger
	Producer string

	PaymentWindow  time.Duration // how long an order may sit in awaiting_payment
	CaptureRetries int           // extra capture attempts after an infrastructure fault
	CaptureBackoff time.Duration

	Now func() time.Time
}

// Confirmation is a settlement outcome reported for an order.
type Confirmation struct {
	OrderID       string
	TransactionID string
	Outcome       orders.Outcome
	Method        orders.PaymentMethod // optional; defaults to the order's method
	Details       json.RawMessage
	Reason        string
	Actor         string
}

// Collection records money collected on delivery.
type Collection struct {
	OrderID       string
	TransactionID string
	Details       json.RawMessage
	Next          orders.Status // optional fulfillment status applied in the same write
	Actor         string
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (c *Coordinator) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func (c *Coordinator) window() time.Duration {
	if c.PaymentWindow > 0 {
		return c.PaymentWindow
	}
	return 30 * time.Minute
}

// Initiate starts settlement for a pending order using its payment method.
func (c *Coordinator) Initiate(ctx context.Context, orderID string, details json.RawMessage) (Result, error) {
	o, err := c.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return Result{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return Result{}, err
	}

	st, err := strategyFor(o.PaymentMethod)
	if err != nil {
		return Result{}, err
	}

	switch {
	case o.Status == orders.StatusPending:
	case o.Status == orders.StatusAwaitingPayment:
		return c.pendingResult(ctx, o)
	case o.Status.Settled():
		return Result{}, fmt.Errorf("%w: order is %s", orders.ErrAlreadySettled, o.Status)
	default:
		return Result{}, fmt.Errorf("%w: cannot settle a %s order", orders.ErrInvalidTransition, o.Status)
	}

	if err := st.validate(details); err != nil {
		return Result{}, err
	}
	return st.initiate(ctx, c, o, details)
}

// pendingResult reports an already dispatched settlement without starting another.
func (c *Coordinator) pendingResult(ctx context.Context, o *orders.Order) (Result, error) {
	attempts, err := c.Store.ListAttempts(ctx, o.ID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Outcome: orders.OutcomePending, OrderID: o.ID, Order: o}
	for _, a := range attempts {
		if a.Outcome == orders.OutcomePending {
			res.AttemptID = a.ID
			res.ExternalRef = a.ExternalRef
		}
	}
	return res, nil
}

// claim registers a pending attempt and moves the order to awaiting_payment.
// Only one caller can claim a pending order.
func (c *Coordinator) claim(ctx context.Context, orderID string, details json.RawMessage) (*orders.Order, *orders.SettlementAttempt, error) {
	var (
		claimed *orders.Order
		attempt *orders.SettlementAttempt
		from    orders.Status
	)
	err := c.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusPending {
			if o.Status.Settled() {
				return fmt.Errorf("%w: order is %s", orders.ErrAlreadySettled, o.Status)
			}
			return fmt.Errorf("%w: cannot settle a %s order", orders.ErrInvalidTransition, o.Status)
		}

		now := c.now()
		attempt = &orders.SettlementAttempt{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			Method:      o.PaymentMethod,
			ExternalRef: uuid.NewString(),
			Outcome:     orders.OutcomePending,
			Details:     details,
			CreatedAt:   now,
		}
		if err := tx.InsertAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("register attempt: %w", err)
		}

		from = o.Status
		if _, err := o.TransitionTo(orders.StatusAwaitingPayment, now); err != nil {
			return err
		}
		due := now.Add(c.window())
		o.PaymentDueAt = &due
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		claimed = o
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.statusChanged(ctx, claimed, from, "", "settlement", "settlement dispatched")
	return claimed, attempt, nil
}

// acknowledgeDelivery accepts a collect-on-delivery order for fulfillment.
// Stock is committed now since the goods leave the warehouse unpaid.
func (c *Coordinator) acknowledgeDelivery(ctx context.Context, orderID string) (*orders.Order, error) {
	var acked *orders.Order
	err := c.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if _, err := o.TransitionTo(orders.StatusProcessing, c.now()); err != nil {
			return err
		}
		if err := c.Ledger.Commit(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		acked = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Settlements.WithLabelValues(string(acked.PaymentMethod), string(OutcomeDeferred)).Inc()
	c.statusChanged(ctx, acked, orders.StatusPending, "", "settlement", "collect on delivery acknowledged")
	return acked, nil
}

// Confirm applies a settlement outcome. It is idempotent on the transaction
// id: repeating a recorded success returns the order unchanged.
func (c *Coordinator) Confirm(ctx context.Context, in Confirmation) (*orders.Order, error) {
	switch in.Outcome {
	case orders.OutcomeSucceeded:
		if in.TransactionID == "" {
			return nil, fmt.Errorf("%w: transaction id required", orders.ErrInvalidPaymentDetails)
		}
	case orders.OutcomeFailed:
	default:
		return nil, fmt.Errorf("%w: outcome %q", orders.ErrInvalidPaymentDetails, in.Outcome)
	}

	var (
		out     *orders.Order
		from    orders.Status
		changed bool
	)
	err := c.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := lockOrder(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		out = o

		if dup, err := duplicateOf(ctx, tx, o, in.TransactionID); err != nil || dup {
			return err
		}

		now := c.now()
		from = o.Status
		switch in.Outcome {
		case orders.OutcomeSucceeded:
			if o.SettledAt != nil {
				return fmt.Errorf("%w: order %s", orders.ErrAlreadySettled, o.ID)
			}
			if !orders.CanTransition(o.Status, orders.StatusPaid) {
				return fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, orders.StatusPaid)
			}
			if err := c.recordAttempt(ctx, tx, o, in, now); err != nil {
				return err
			}
			if _, err := o.TransitionTo(orders.StatusPaid, now); err != nil {
				return err
			}
			if err := c.Ledger.Commit(ctx, tx, o); err != nil {
				return err
			}
			o.SettledAt = &now

		case orders.OutcomeFailed:
			if o.Status == orders.StatusFailed {
				return nil
			}
			if !orders.CanTransition(o.Status, orders.StatusFailed) {
				if o.SettledAt != nil || o.Status.Settled() {
					return fmt.Errorf("%w: order is %s", orders.ErrAlreadySettled, o.Status)
				}
				return fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, orders.StatusFailed)
			}
			if err := c.recordAttempt(ctx, tx, o, in, now); err != nil {
				return err
			}
			if _, err := o.TransitionTo(orders.StatusFailed, now); err != nil {
				return err
			}
			if err := c.Ledger.Release(ctx, tx, o); err != nil {
				return err
			}
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		return nil
	})

	if errors.Is(err, orders.ErrDuplicateTransaction) && in.Outcome == orders.OutcomeSucceeded {
		// a concurrent writer won the unique index; its result stands
		return c.afterDuplicate(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.Settlements.WithLabelValues(string(out.PaymentMethod), string(in.Outcome)).Inc()
		c.statusChanged(ctx, out, from, in.TransactionID, in.Actor, in.Reason)
	}
	return out, nil
}

// RecordCollection settles a collect-on-delivery order with a synthetic
// succeeded attempt, optionally advancing fulfillment in the same write.
func (c *Coordinator) RecordCollection(ctx context.Context, in Collection) (*orders.Order, error) {
	if in.TransactionID == "" {
		return nil, fmt.Errorf("%w: transaction id required", orders.ErrInvalidPaymentDetails)
	}

	var (
		out     *orders.Order
		from    orders.Status
		changed bool
	)
	err := c.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := lockOrder(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentMethod != orders.MethodCollectOnDelivery {
			return fmt.Errorf("%w: %s orders settle through confirmation", orders.ErrInvalidTransition, o.PaymentMethod)
		}
		if dup, err := duplicateOf(ctx, tx, o, in.TransactionID); err != nil || dup {
			return err
		}
		if o.SettledAt != nil {
			return fmt.Errorf("%w: order %s", orders.ErrAlreadySettled, o.ID)
		}
		switch o.Status {
		case orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered:
		default:
			return fmt.Errorf("%w: cannot collect payment for a %s order", orders.ErrInvalidTransition, o.Status)
		}

		now := c.now()
		if err := tx.InsertAttempt(ctx, &orders.SettlementAttempt{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			Method:        o.PaymentMethod,
			TransactionID: in.TransactionID,
			Outcome:       orders.OutcomeSucceeded,
			Details:       in.Details,
			CreatedAt:     now,
			ResolvedAt:    &now,
		}); err != nil {
			return err
		}
		o.SettledAt = &now
		o.UpdatedAt = now

		from = o.Status
		if in.Next != "" {
			if _, err := o.TransitionTo(in.Next, now); err != nil {
				return err
			}
			if in.Next.ReleasesStock() {
				if err := c.Ledger.Release(ctx, tx, o); err != nil {
					return err
				}
			}
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if errors.Is(err, orders.ErrDuplicateTransaction) {
		return c.afterDuplicate(ctx, Confirmation{OrderID: in.OrderID, TransactionID: in.TransactionID})
	}
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.Settlements.WithLabelValues(string(out.PaymentMethod), string(orders.OutcomeSucceeded)).Inc()
		c.remember(ctx, out)
		c.log().Info("payment collected on delivery", "order_id", out.ID, "transaction_id", in.TransactionID, "actor", in.Actor)
		c.publish(ctx, orders.PaymentCollectedEvent(c.Producer, orders.StatusChangedPayload{
			OrderID: out.ID, From: from, To: out.Status, TransactionID: in.TransactionID, Actor: in.Actor, Reason: "payment collected",
		}))
		if from != out.Status {
			c.statusChanged(ctx, out, from, in.TransactionID, in.Actor, "payment collected")
		}
	}
	return out, nil
}

// Expire fails an awaiting_payment order whose payment window has passed.
// It reports whether the order was expired by this call.
func (c *Coordinator) Expire(ctx context.Context, orderID string) (bool, error) {
	var expired *orders.Order
	err := c.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		now := c.now()
		if o.Status != orders.StatusAwaitingPayment || o.PaymentDueAt == nil || o.PaymentDueAt.After(now) {
			return nil
		}

		a, err := tx.PendingAttempt(ctx, o.ID)
		switch {
		case err == nil:
			a.Outcome = orders.OutcomeFailed
			a.FailureReason = "payment window expired"
			a.ResolvedAt = &now
			if err := tx.ResolveAttempt(ctx, a); err != nil {
				return err
			}
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}

		if _, err := o.TransitionTo(orders.StatusFailed, now); err != nil {
			return err
		}
		if err := c.Ledger.Release(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		expired = o
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}
	metrics.ReaperExpired.Inc()
	metrics.Settlements.WithLabelValues(string(expired.PaymentMethod), string(orders.OutcomeFailed)).Inc()
	c.statusChanged(ctx, expired, orders.StatusAwaitingPayment, "", "reaper", "payment window expired")
	return true, nil
}

// recordAttempt resolves the order's pending attempt, or inserts one when
// the confirmation arrives without a prior dispatch.
func (c *Coordinator) recordAttempt(ctx context.Context, tx orders.Tx, o *orders.Order, in Confirmation, now time.Time) error {
	a, err := tx.PendingAttempt(ctx, o.ID)
	switch {
	case err == nil:
		a.Outcome = in.Outcome
		a.TransactionID = in.TransactionID
		if len(in.Details) > 0 {
			a.Details = in.Details
		}
		a.FailureReason = in.Reason
		a.ResolvedAt = &now
		return tx.ResolveAttempt(ctx, a)
	case errors.Is(err, orders.ErrNotFound):
		method := o.PaymentMethod
		if in.Method != "" {
			method = in.Method
		}
		return tx.InsertAttempt(ctx, &orders.SettlementAttempt{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			Method:        method,
			TransactionID: in.TransactionID,
			Outcome:       in.Outcome,
			Details:       in.Details,
			FailureReason: in.Reason,
			CreatedAt:     now,
			ResolvedAt:    &now,
		})
	default:
		return err
	}
}

// duplicateOf reports whether txnID already settled this order, and fails
// with ErrDuplicateTransaction when it settled a different one.
func duplicateOf(ctx context.Context, tx orders.Tx, o *orders.Order, txnID string) (bool, error) {
	if txnID == "" {
		return false, nil
	}
	prior, err := tx.SucceededAttemptByTxn(ctx, txnID)
	if errors.Is(err, orders.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if prior.OrderID != o.ID {
		return false, fmt.Errorf("%w: %s already settled another order", orders.ErrDuplicateTransaction, txnID)
	}
	return true, nil
}

func (c *Coordinator) afterDuplicate(ctx context.Context, in Confirmation) (*orders.Order, error) {
	var out *orders.Order
	err := c.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := lockOrder(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		dup, err := duplicateOf(ctx, tx, o, in.TransactionID)
		if err != nil {
			return err
		}
		if !dup {
			return fmt.Errorf("%w: %s", orders.ErrDuplicateTransaction, in.TransactionID)
		}
		out = o
		return nil
	})
	return out, err
}

func lockOrder(ctx context.Context, tx orders.Tx, id string) (*orders.Order, error) {
	o, err := tx.LockOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, orders.ErrOrderNotFound
	}
	return o, err
}

// remember writes the committed order through to the shared cache.
func (c *Coordinator) remember(ctx context.Context, o *orders.Order) {
	if c.Cache != nil {
		c.Cache.Put(ctx, o)
	}
}

func (c *Coordinator) publish(ctx context.Context, ev orders.Envelope) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, ev); err != nil {
		c.log().Warn("publish event", "order_id", ev.CorrelationID, "event_type", ev.EventType, "error", err)
	}
}

func (c *Coordinator) statusChanged(ctx context.Context, o *orders.Order, from orders.Status, txnID, actor, reason string) {
	c.remember(ctx, o)
	metrics.Transitions.WithLabelValues(string(o.Status)).Inc()
	c.log().Info("order status changed",
		"order_id", o.ID, "from", from, "to", o.Status, "transaction_id", txnID, "actor", actor, "reason", reason)
	c.publish(ctx, orders.StatusEvent(c.Producer, orders.StatusChangedPayload{
		OrderID: o.ID, From: from, To: o.Status, TransactionID: txnID, Actor: actor, Reason: reason,
	}))
}
