package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusPending, StatusAwaitingPayment},
		{StatusPending, StatusPaid},
		{StatusPending, StatusProcessing},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusAwaitingPayment, StatusPaid},
		{StatusAwaitingPayment, StatusFailed},
		{StatusAwaitingPayment, StatusCancelled},
		{StatusPaid, StatusProcessing},
		{StatusPaid, StatusRefunded},
		{StatusPaid, StatusCancelled},
		{StatusProcessing, StatusShipped},
		{StatusProcessing, StatusCancelled},
		{StatusShipped, StatusDelivered},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	illegal := [][2]Status{
		{StatusPending, StatusShipped},
		{StatusPending, StatusDelivered},
		{StatusAwaitingPayment, StatusProcessing},
		{StatusShipped, StatusCancelled},
		{StatusDelivered, StatusRefunded},
		{StatusCancelled, StatusPending},
		{StatusFailed, StatusPaid},
		{StatusRefunded, StatusPaid},
		{StatusPaid, StatusPending},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusFailed, StatusRefunded} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusAwaitingPayment, StatusPaid, StatusProcessing, StatusShipped} {
		assert.False(t, s.Terminal(), s)
	}
	assert.False(t, Status("bogus").Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("SHIPPED")
	assert.Error(t, err)
}

func TestTransitionTo(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	t.Run("illegal edge leaves order untouched", func(t *testing.T) {
		o := &Order{Status: StatusPending}
		changed, err := o.TransitionTo(StatusShipped, now)
		assert.False(t, changed)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		assert.Equal(t, StatusPending, o.Status)
		assert.True(t, o.UpdatedAt.IsZero())
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		o := &Order{Status: StatusPaid}
		changed, err := o.TransitionTo(StatusPaid, now)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("leaving awaiting_payment clears the due date", func(t *testing.T) {
		o := &Order{Status: StatusAwaitingPayment, PaymentDueAt: &due}
		changed, err := o.TransitionTo(StatusPaid, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Nil(t, o.PaymentDueAt)
		assert.Equal(t, now, o.UpdatedAt)
	})
}

func TestLineTotal(t *testing.T) {
	o := &Order{Items: []LineItem{
		{BookID: "a", UnitPrice: 1000, Quantity: 2},
		{BookID: "b", UnitPrice: 250, Quantity: 3},
	}}
	assert.Equal(t, int64(2750), o.LineTotal())
}

func TestListQueryNormalize(t *testing.T) {
	q := ListQuery{SortBy: "price", Page: 0, PerPage: 500}
	q.Normalize()
	assert.Equal(t, SortCreatedAt, q.SortBy)
	assert.True(t, q.Desc)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 100, q.PerPage)
	assert.Equal(t, 0, q.Offset())

	q = ListQuery{SortBy: SortTotalAmount, Page: 3, PerPage: 20}
	q.Normalize()
	assert.False(t, q.Desc)
	assert.Equal(t, 40, q.Offset())
}

func TestOutOfStockErrorUnwraps(t *testing.T) {
	err := error(&OutOfStockError{Details: []StockRejectedDetail{{BookID: "x", Required: 2, Available: 1}}})
	assert.True(t, errors.Is(err, ErrOutOfStock))
	assert.Contains(t, err.Error(), "x (required 2, available 1)")
}
