package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

type sqliteTx struct {
	tx *sql.Tx
}

var _ orders.Tx = (*sqliteTx)(nil)

func (t *sqliteTx) CartLines(ctx context.Context, customerID, cartID string) ([]orders.CartLine, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT ci.book_id, b.title, b.cover_url, b.price, ci.quantity
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		JOIN books b ON b.id = ci.book_id
		WHERE ci.cart_id = ? AND c.customer_id = ? AND c.status = 'active'
		ORDER BY ci.added_at, ci.book_id`, cartID, customerID)
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

func (t *sqliteTx) CloseCart(ctx context.Context, cartID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE carts SET status = 'checked_out' WHERE id = ? AND status = 'active'`, cartID)
	if err != nil {
		return err
	}
	return expectOne(res, orders.ErrEmptyCart)
}

func (t *sqliteTx) ReserveStock(ctx context.Context, bookID string, qty int) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE book_stock SET available = available - ?, reserved = reserved + ?
		WHERE book_id = ? AND available >= ?`, qty, qty, bookID, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *sqliteTx) CommitStock(ctx context.Context, bookID string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE book_stock SET reserved = reserved - ?
		WHERE book_id = ? AND reserved >= ?`, qty, bookID, qty)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("book %s: reserved below %d", bookID, qty))
}

func (t *sqliteTx) ReleaseStock(ctx context.Context, bookID string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE book_stock SET available = available + ?, reserved = reserved - ?
		WHERE book_id = ? AND reserved >= ?`, qty, qty, bookID, qty)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("book %s: reserved below %d", bookID, qty))
}

func (t *sqliteTx) RestockStock(ctx context.Context, bookID string, qty int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE book_stock SET available = available + ? WHERE book_id = ?`, qty, bookID)
	if err != nil {
		return err
	}
	return expectOne(res, orders.ErrNotFound)
}

func (t *sqliteTx) Stock(ctx context.Context, bookID string) (orders.StockRecord, error) {
	return getStock(ctx, t.tx, bookID)
}

func (t *sqliteTx) InsertOrder(ctx context.Context, o *orders.Order) error {
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
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, o.CartID, string(o.PaymentMethod), string(o.Status), string(o.InventoryState), o.Total,
		string(billing), string(shipping), o.Version, fmtNullTime(o.PaymentDueAt), fmtNullTime(o.SettledAt),
		fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, book_id, title, cover_url, unit_price, quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, i, it.BookID, it.Title, it.CoverURL, it.UnitPrice, it.Quantity); err != nil {
			return fmt.Errorf("insert item %s: %w", it.BookID, err)
		}
	}
	return nil
}

func (t *sqliteTx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, t.tx, id)
}

func (t *sqliteTx) SaveOrder(ctx context.Context, o *orders.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, inventory_state = ?, payment_due_at = ?, settled_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(o.Status), string(o.InventoryState), fmtNullTime(o.PaymentDueAt), fmtNullTime(o.SettledAt),
		fmtTime(o.UpdatedAt), o.ID, o.Version)
	if err != nil {
		return err
	}
	if err := expectOne(res, orders.ErrConcurrentUpdate); err != nil {
		return err
	}
	o.Version++
	return nil
}

const attemptColumns = `id, order_id, method, external_ref, transaction_id, outcome, details,
	failure_reason, created_at, resolved_at`

func scanAttempt(row rowScanner) (*orders.SettlementAttempt, error) {
	var (
		a               orders.SettlementAttempt
		method, outcome string
		txn, details    sql.NullString
		createdAt       string
		resolved        sql.NullString
	)
	err := row.Scan(&a.ID, &a.OrderID, &method, &a.ExternalRef, &txn, &outcome, &details,
		&a.FailureReason, &createdAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Method = orders.PaymentMethod(method)
	a.Outcome = orders.Outcome(outcome)
	a.TransactionID = txn.String
	if details.Valid {
		a.Details = json.RawMessage(details.String)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.ResolvedAt, err = parseNullTime(resolved); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *sqliteTx) InsertAttempt(ctx context.Context, a *orders.SettlementAttempt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settlement_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrderID, string(a.Method), a.ExternalRef, nullString(a.TransactionID), string(a.Outcome),
		nullString(string(a.Details)), a.FailureReason, fmtTime(a.CreatedAt), fmtNullTime(a.ResolvedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", orders.ErrDuplicateTransaction, err)
	}
	return err
}

func (t *sqliteTx) ResolveAttempt(ctx context.Context, a *orders.SettlementAttempt) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE settlement_attempts
		SET outcome = ?, transaction_id = ?, details = ?, failure_reason = ?, resolved_at = ?
		WHERE id = ? AND outcome = 'pending'`,
		string(a.Outcome), nullString(a.TransactionID), nullString(string(a.Details)), a.FailureReason,
		fmtNullTime(a.ResolvedAt), a.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", orders.ErrDuplicateTransaction, err)
	}
	if err != nil {
		return err
	}
	return expectOne(res, orders.ErrNotFound)
}

func (t *sqliteTx) PendingAttempt(ctx context.Context, orderID string) (*orders.SettlementAttempt, error) {
	return scanAttempt(t.tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE order_id = ? AND outcome = 'pending'`, orderID))
}

func (t *sqliteTx) SucceededAttempt(ctx context.Context, orderID string) (*orders.SettlementAttempt, error) {
	return scanAttempt(t.tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE order_id = ? AND outcome = 'succeeded'`, orderID))
}

func (t *sqliteTx) SucceededAttemptByTxn(ctx context.Context, txnID string) (*orders.SettlementAttempt, error) {
	return scanAttempt(t.tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE transaction_id = ? AND outcome = 'succeeded'`, txnID))
}

func (s *Store) ListAttempts(ctx context.Context, orderID string) ([]orders.SettlementAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.SettlementAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return otherwise
	}
	return nil
}
