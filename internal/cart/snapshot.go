// Package cart freezes a customer's cart into the priced line items an order
// is built from.
package cart

import (
	"fmt"
	"math"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// MaxLineQuantity bounds the copies of one book in a single order.
const MaxLineQuantity = 10_000

// Build validates the cart lines and returns the immutable snapshot. Lines for
// the same book are merged at the position of their first occurrence.
func Build(lines []orders.CartLine) (orders.Snapshot, error) {
	if len(lines) == 0 {
		return orders.Snapshot{}, orders.ErrEmptyCart
	}

	items := make([]orders.LineItem, 0, len(lines))
	pos := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > MaxLineQuantity {
			return orders.Snapshot{}, fmt.Errorf("%w: book %s quantity %d", orders.ErrInvalidQuantity, l.BookID, l.Quantity)
		}
		if l.UnitPrice < 0 {
			return orders.Snapshot{}, fmt.Errorf("%w: book %s price %d", orders.ErrInvalidPrice, l.BookID, l.UnitPrice)
		}
		if i, ok := pos[l.BookID]; ok {
			if items[i].Quantity+l.Quantity > MaxLineQuantity {
				return orders.Snapshot{}, fmt.Errorf("%w: book %s quantity over %d", orders.ErrInvalidQuantity, l.BookID, MaxLineQuantity)
			}
			items[i].Quantity += l.Quantity
			continue
		}
		pos[l.BookID] = len(items)
		items = append(items, orders.LineItem{
			BookID:    l.BookID,
			Title:     l.Title,
			CoverURL:  l.CoverURL,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}

	var total int64
	for _, it := range items {
		if it.UnitPrice > math.MaxInt64/int64(it.Quantity) {
			return orders.Snapshot{}, fmt.Errorf("%w: book %s line total overflows", orders.ErrInvalidPrice, it.BookID)
		}
		sub := it.Subtotal()
		if total > math.MaxInt64-sub {
			return orders.Snapshot{}, fmt.Errorf("%w: order total overflows", orders.ErrInvalidPrice)
		}
		total += sub
	}
	return orders.Snapshot{Items: items, Total: total}, nil
}
