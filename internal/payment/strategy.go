package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// OutcomeDeferred is reported for collect-on-delivery: the order moves on
// and money is collected later.
const OutcomeDeferred orders.Outcome = "deferred"

// Result is what Initiate reports back to the caller.
type Result struct {
	Outcome       orders.Outcome `json:"outcome"`
	OrderID       string         `json:"order_id"`
	AttemptID     string         `json:"attempt_id,omitempty"`
	ExternalRef   string         `json:"external_ref,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Order         *orders.Order  `json:"order,omitempty"`
}

// strategy is one payment method. The set is closed: strategyFor is the
// only constructor.
type strategy interface {
	validate(details json.RawMessage) error
	initiate(ctx context.Context, c *Coordinator, o *orders.Order, details json.RawMessage) (Result, error)
}

func strategyFor(m orders.PaymentMethod) (strategy, error) {
	switch m {
	case orders.MethodCard:
		return cardStrategy{}, nil
	case orders.MethodCollectOnDelivery:
		return collectOnDeliveryStrategy{}, nil
	case orders.MethodMTNMobileMoney, orders.MethodAirtelMoney:
		return mobileMoneyStrategy{provider: m}, nil
	}
	return nil, fmt.Errorf("%w: %q", orders.ErrUnsupportedMethod, m)
}

type cardStrategy struct{}

func (cardStrategy) validate(json.RawMessage) error { return nil }

// initiate captures synchronously: the outcome is final when it returns.
func (cardStrategy) initiate(ctx context.Context, c *Coordinator, o *orders.Order, details json.RawMessage) (Result, error) {
	claimed, attempt, err := c.claim(ctx, o.ID, details)
	if err != nil {
		return Result{}, err
	}

	res, err := c.capture(ctx, CaptureRequest{
		OrderID:     claimed.ID,
		ExternalRef: attempt.ExternalRef,
		Amount:      claimed.Total,
		PayerEmail:  claimed.Billing.Email,
		Details:     details,
	})
	conf := Confirmation{
		OrderID:       claimed.ID,
		TransactionID: res.TransactionID,
		Outcome:       orders.OutcomeSucceeded,
		Details:       details,
		Actor:         "card-capture",
	}
	switch {
	case err != nil:
		conf.Outcome = orders.OutcomeFailed
		conf.Reason = err.Error()
	case !res.Approved:
		conf.Outcome = orders.OutcomeFailed
		conf.Reason = res.Reason
		if conf.Reason == "" {
			conf.Reason = "declined"
		}
	}

	final, err := c.Confirm(ctx, conf)
	if err != nil {
		if conf.Outcome == orders.OutcomeSucceeded {
			c.log().Error("captured payment could not be applied; refund required",
				"order_id", claimed.ID, "transaction_id", conf.TransactionID, "error", err)
		}
		return Result{}, err
	}
	return Result{
		Outcome:       conf.Outcome,
		OrderID:       final.ID,
		AttemptID:     attempt.ID,
		ExternalRef:   attempt.ExternalRef,
		TransactionID: conf.TransactionID,
		Reason:        conf.Reason,
		Order:         final,
	}, nil
}

type collectOnDeliveryStrategy struct{}

func (collectOnDeliveryStrategy) validate(json.RawMessage) error { return nil }

func (collectOnDeliveryStrategy) initiate(ctx context.Context, c *Coordinator, o *orders.Order, _ json.RawMessage) (Result, error) {
	acked, err := c.acknowledgeDelivery(ctx, o.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeDeferred, OrderID: acked.ID, Order: acked}, nil
}

type mobileMoneyStrategy struct {
	provider orders.PaymentMethod
}

type mobileMoneyDetails struct {
	PhoneNumber string `json:"phone_number"`
}

func (s mobileMoneyStrategy) validate(details json.RawMessage) error {
	var d mobileMoneyDetails
	if len(details) > 0 {
		if err := json.Unmarshal(details, &d); err != nil {
			return fmt.Errorf("%w: %v", orders.ErrInvalidPaymentDetails, err)
		}
	}
	if strings.TrimSpace(d.PhoneNumber) == "" {
		return fmt.Errorf("%w: %s requires phone_number", orders.ErrInvalidPaymentDetails, s.provider)
	}
	return nil
}

// initiate only registers the pending attempt; the provider confirms later.
func (s mobileMoneyStrategy) initiate(ctx context.Context, c *Coordinator, o *orders.Order, details json.RawMessage) (Result, error) {
	claimed, attempt, err := c.claim(ctx, o.ID, details)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Outcome:     orders.OutcomePending,
		OrderID:     claimed.ID,
		AttemptID:   attempt.ID,
		ExternalRef: attempt.ExternalRef,
		Order:       claimed,
	}, nil
}
