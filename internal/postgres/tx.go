package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type pgTx struct {
	tx pgx.Tx
}

var _ orders.Tx = (*pgTx)(nil)

func (t *pgTx) CartLines(ctx context.Context, customerID, cartID string) ([]orders.CartLine, error) {
	// lock the cart so two checkouts of it serialize here
	var owner string
	err := t.tx.QueryRow(ctx, `
		SELECT customer_id FROM carts WHERE id = $1 AND status = 'active' FOR UPDATE`, cartID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != customerID) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT ci.book_id, b.title, b.cover_url, b.price, ci.quantity
		FROM cart_items ci
		JOIN books b ON b.id = ci.book_id
		WHERE ci.cart_id = $1
		ORDER BY ci.added_at, ci.book_id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []orders.CartLine
	for rows.Next() {
		var l orders.CartLine
		if err := rows.Scan(&l.BookID, &l.Title, &l.CoverURL, &l.UnitPrice, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *pgTx) CloseCart(ctx context.Context, cartID string) error {
	ct, err := t.tx.Exec(ctx, `UPDATE carts SET status = 'checked_out' WHERE id = $1 AND status = 'active'`, cartID)
	if err != nil {
		return err
	}
	return expectOne(ct, orders.ErrEmptyCart)
}

func (t *pgTx) ReserveStock(ctx context.Context, bookID string, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE book_stock SET available = available - $2, reserved = reserved + $2
		WHERE book_id = $1 AND available >= $2`, bookID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) CommitStock(ctx context.Context, bookID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE book_stock SET reserved = reserved - $2
		WHERE book_id = $1 AND reserved >= $2`, bookID, qty)
	if err != nil {
		return err
	}
	return expectOne(ct, fmt.Errorf("book %s: reserved below %d", bookID, qty))
}

func (t *pgTx) ReleaseStock(ctx context.Context, bookID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE book_stock SET available = available + $2, reserved = reserved - $2
		WHERE book_id = $1 AND reserved >= $2`, bookID, qty)
	if err != nil {
		return err
	}
	return expectOne(ct, fmt.Errorf("book %s: reserved below %d", bookID, qty))
}

func (t *pgTx) RestockStock(ctx context.Context, bookID string, qty int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE book_stock SET available = available + $2 WHERE book_id = $1`, bookID, qty)
	if err != nil {
		return err
	}
	return expectOne(ct, orders.ErrNotFound)
}

func (t *pgTx) Stock(ctx context.Context, bookID string) (orders.StockRecord, error) {
	return getStock(ctx, t.tx, bookID)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	billing, err := json.Marshal(o.Billing)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return err
	}
	if o.Version == 0 {
		o.Version = 1
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.CustomerID, o.CartID, string(o.PaymentMethod), string(o.Status), string(o.InventoryState), o.Total,
		billing, shipping, o.Version, o.PaymentDueAt, o.SettledAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, position, book_id, title, cover_url, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, i, it.BookID, it.Title, it.CoverURL, it.UnitPrice, it.Quantity)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) SaveOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $3, inventory_state = $4, payment_due_at = $5, settled_at = $6,
			updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version, string(o.Status), string(o.InventoryState), o.PaymentDueAt, o.SettledAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if err := expectOne(ct, orders.ErrConcurrentUpdate); err != nil {
		return err
	}
	o.Version++
	return nil
}

func detailsParam(d json.RawMessage) any {
	if len(d) == 0 {
		return nil
	}
	return []byte(d)
}

func (t *pgTx) InsertAttempt(ctx context.Context, a *orders.SettlementAttempt) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO settlement_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OrderID, string(a.Method), a.ExternalRef, nullIfEmpty(a.TransactionID), string(a.Outcome),
		detailsParam(a.Details), a.FailureReason, a.CreatedAt, a.ResolvedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", orders.ErrDuplicateTransaction, err)
	}
	return err
}

func (t *pgTx) ResolveAttempt(ctx context.Context, a *orders.SettlementAttempt) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE settlement_attempts
		SET outcome = $2, transaction_id = $3, details = $4, failure_reason = $5, resolved_at = $6
		WHERE id = $1 AND outcome = 'pending'`,
		a.ID, string(a.Outcome), nullIfEmpty(a.TransactionID), detailsParam(a.Details), a.FailureReason, a.ResolvedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", orders.ErrDuplicateTransaction, err)
	}
	if err != nil {
		return err
	}
	return expectOne(ct, orders.ErrNotFound)
}

func (t *pgTx) PendingAttempt(ctx context.Context, orderID string) (*orders.SettlementAttempt, error) {
	return scanAttempt(t.tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE order_id = $1 AND outcome = 'pending'`, orderID))
}

func (t *pgTx) SucceededAttempt(ctx context.Context, orderID string) (*orders.SettlementAttempt, error) {
	return scanAttempt(t.tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE order_id = $1 AND outcome = 'succeeded'`, orderID))
}

func (t *pgTx) SucceededAttemptByTxn(ctx context.Context, txnID string) (*orders.SettlementAttempt, error) {
	return scanAttempt(t.tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE transaction_id = $1 AND outcome = 'succeeded'`, txnID))
}

func expectOne(ct pgconn.CommandTag, otherwise error) error {
	if ct.RowsAffected() != 1 {
		return otherwise
	}
	return nil
}
