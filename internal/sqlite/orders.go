package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

const orderColumns = `id, customer_id, cart_id, payment_method, status, inventory_state, total,
	billing, shipping, version, payment_due_at, settled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*orders.Order, error) {
	var (
		o                    orders.Order
		method, st, inv      string
		billing, shipping    string
		due, settled         sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.CartID, &method, &st, &inv, &o.Total,
		&billing, &shipping, &o.Version, &due, &settled, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = orders.PaymentMethod(method)
	o.Status = orders.Status(st)
	o.InventoryState = orders.InventoryState(inv)

	if err := json.Unmarshal([]byte(billing), &o.Billing); err != nil {
		return nil, fmt.Errorf("decode billing: %w", err)
	}
	if err := json.Unmarshal([]byte(shipping), &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	if o.PaymentDueAt, err = parseNullTime(due); err != nil {
		return nil, err
	}
	if o.SettledAt, err = parseNullTime(settled); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]orders.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT book_id, title, cover_url, unit_price, quantity
		FROM order_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []orders.LineItem
	for rows.Next() {
		var it orders.LineItem
		if err := rows.Scan(&it.BookID, &it.Title, &it.CoverURL, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getOrder(ctx context.Context, q querier, id string) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = loadItems(ctx, q, id); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, s.db, id)
}

var sortColumns = map[orders.SortField]string{
	orders.SortCreatedAt:   "created_at",
	orders.SortTotalAmount: "total",
	orders.SortStatus:      "status",
}

func (s *Store) ListOrders(ctx context.Context, q orders.ListQuery) ([]orders.Order, int, error) {
	q.Normalize()

	var (
		where []string
		args  []any
	)
	if q.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, q.CustomerID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		orderColumns, clause, sortColumns[q.SortBy], dir, dir)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.PerPage, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	var list []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		list = append(list, *o)
	}
	if err := rows.Close(); err != nil {
		return nil, 0, err
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// items are loaded after the cursor is closed; the pool has one connection
	for i := range list {
		if list[i].Items, err = loadItems(ctx, s.db, list[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

func (s *Store) ExpiredAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = ? AND payment_due_at IS NOT NULL AND payment_due_at < ?
		ORDER BY payment_due_at LIMIT ?`,
		string(orders.StatusAwaitingPayment), fmtTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Stock(ctx context.Context, bookID string) (orders.StockRecord, error) {
	return getStock(ctx, s.db, bookID)
}

func getStock(ctx context.Context, q querier, bookID string) (orders.StockRecord, error) {
	rec := orders.StockRecord{BookID: bookID}
	err := q.QueryRowContext(ctx, `SELECT available, reserved FROM book_stock WHERE book_id = ?`, bookID).
		Scan(&rec.Available, &rec.Reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, orders.ErrNotFound
	}
	return rec, err
}
