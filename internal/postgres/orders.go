package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

const orderColumns = `id, customer_id, cart_id, payment_method, status, inventory_state, total,
	billing, shipping, version, payment_due_at, settled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                 orders.Order
		method, st, inv   string
		billing, shipping []byte
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.CartID, &method, &st, &inv, &o.Total,
		&billing, &shipping, &o.Version, &o.PaymentDueAt, &o.SettledAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = orders.PaymentMethod(method)
	o.Status = orders.Status(st)
	o.InventoryState = orders.InventoryState(inv)
	if err := json.Unmarshal(billing, &o.Billing); err != nil {
		return nil, fmt.Errorf("decode billing: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]orders.LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT book_id, title, cover_url, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
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

func getOrder(ctx context.Context, q querier, id string, lock bool) (*orders.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = loadItems(ctx, q, id); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, s.DB, id, false)
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
		args = append(args, q.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		orderColumns, clause, sortColumns[q.SortBy], dir, dir, len(args)+1, len(args)+2)
	rows, err := s.DB.Query(ctx, query, append(args, q.PerPage, q.Offset())...)
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range list {
		if list[i].Items, err = loadItems(ctx, s.DB, list[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

func (s *Store) ExpiredAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND payment_due_at IS NOT NULL AND payment_due_at < $2
		ORDER BY payment_due_at LIMIT $3`,
		string(orders.StatusAwaitingPayment), now, limit)
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
	return getStock(ctx, s.DB, bookID)
}

func getStock(ctx context.Context, q querier, bookID string) (orders.StockRecord, error) {
	rec := orders.StockRecord{BookID: bookID}
	err := q.QueryRow(ctx, `SELECT available, reserved FROM book_stock WHERE book_id = $1`, bookID).
		Scan(&rec.Available, &rec.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, orders.ErrNotFound
	}
	return rec, err
}

const attemptColumns = `id, order_id, method, external_ref, transaction_id, outcome, details,
	failure_reason, created_at, resolved_at`

func scanAttempt(row pgx.Row) (*orders.SettlementAttempt, error) {
	var (
		a               orders.SettlementAttempt
		method, outcome string
		txn             *string
		details         []byte
	)
	err := row.Scan(&a.ID, &a.OrderID, &method, &a.ExternalRef, &txn, &outcome, &details,
		&a.FailureReason, &a.CreatedAt, &a.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Method = orders.PaymentMethod(method)
	a.Outcome = orders.Outcome(outcome)
	if txn != nil {
		a.TransactionID = *txn
	}
	if len(details) > 0 {
		a.Details = json.RawMessage(details)
	}
	return &a, nil
}

func (s *Store) ListAttempts(ctx context.Context, orderID string) ([]orders.SettlementAttempt, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE order_id = $1 ORDER BY created_at, id`, orderID)
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
