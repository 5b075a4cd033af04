package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Business outcomes. Callers match them with errors.Is.
var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrOutOfStock            = errors.New("out of stock")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
	ErrAlreadySettled        = errors.New("order already settled")
	ErrOrderNotFound         = errors.New("order not found")
	ErrForbidden             = errors.New("forbidden")
	ErrUnsupportedMethod     = errors.New("unsupported payment method")
	ErrInvalidPaymentDetails = errors.New("invalid payment details")
)

// Storage-level conditions.
var (
	ErrNotFound         = errors.New("not found")
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

type StockRejectedDetail struct {
	BookID    string `json:"book_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// OutOfStockError lists every line that could not be reserved.
type OutOfStockError struct {
	Details []StockRejectedDetail
}

func (e *OutOfStockError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s (required %d, available %d)", d.BookID, d.Required, d.Available))
	}
	return "out of stock: " + strings.Join(parts, ", ")
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
