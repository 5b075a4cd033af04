package orders

import "fmt"

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusFailed          Status = "failed"
	StatusRefunded        Status = "refunded"
)

// validNext is the complete edge table; anything missing here is rejected.
// pending -> processing is the collect-on-delivery acknowledgment.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusAwaitingPayment: true,
		StatusPaid:            true,
		StatusProcessing:      true,
		StatusFailed:          true,
		StatusCancelled:       true,
	},
	StatusAwaitingPayment: {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:            {StatusProcessing: true, StatusRefunded: true, StatusCancelled: true},
	StatusProcessing:      {StatusShipped: true, StatusCancelled: true},
	StatusShipped:         {StatusDelivered: true},
	StatusDelivered:       {},
	StatusCancelled:       {},
	StatusFailed:          {},
	StatusRefunded:        {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Settled reports whether an order in this status has already gone past payment.
func (s Status) Settled() bool {
	switch s {
	case StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusRefunded:
		return true
	}
	return false
}

// ReleasesStock reports whether entering s must hand the order's stock back.
func (s Status) ReleasesStock() bool {
	return s == StatusCancelled || s == StatusFailed
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
