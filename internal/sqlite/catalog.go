package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Book is the catalog row the embedded store keeps for checkout pricing.
type Book struct {
	ID       string
	Title    string
	CoverURL string
	Price    int64
}

// UpsertBook writes the catalog entry and sets its available stock.
func (s *Store) UpsertBook(ctx context.Context, b Book, available int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO books (id, title, cover_url, price) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, cover_url = excluded.cover_url, price = excluded.price`,
		b.ID, b.Title, b.CoverURL, b.Price); err != nil {
		return fmt.Errorf("upsert book: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO book_stock (book_id, available, reserved) VALUES (?, ?, 0)
		ON CONFLICT (book_id) DO UPDATE SET available = excluded.available`,
		b.ID, available); err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return tx.Commit()
}

// SetPrice changes the live catalog price only.
func (s *Store) SetPrice(ctx context.Context, bookID string, price int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE books SET price = ? WHERE id = ?`, price, bookID)
	return err
}

// CreateCart opens an active cart for the customer.
func (s *Store) CreateCart(ctx context.Context, customerID string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO carts (id, customer_id) VALUES (?, ?)`, id, customerID); err != nil {
		return "", err
	}
	return id, nil
}

// AddCartItem adds qty of a book, replacing an existing line for it.
func (s *Store) AddCartItem(ctx context.Context, cartID, bookID string, qty int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, book_id, quantity, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (cart_id, book_id) DO UPDATE SET quantity = excluded.quantity`,
		cartID, bookID, qty, fmtTime(time.Now()))
	return err
}

// CartStatus reports the cart's lifecycle status.
func (s *Store) CartStatus(ctx context.Context, cartID string) (string, error) {
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM carts WHERE id = ?`, cartID).Scan(&st)
	return st, err
}
