package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

//go:embed migrations.sql
var migrationSQL string

var (
	// ErrCartEmpty is returned by Checkout when the account has no lines.
	ErrCartEmpty = errors.New("cart empty")
	// ErrUnknownProduct is returned by SaveCart when a line names a product
	// that is not in the catalog.
	ErrUnknownProduct = errors.New("unknown product")
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

// ProductRow, CartRow, OrderRow etc are simple structs representing DB rows
type ProductRow struct {
	ID                int64
	Name              string
	Description       sql.NullString
	Price             float64
	Image             string
	Stock             int
	LowStockThreshold int
	CreatedAt         time.Time
}

// CartRow is one line of an account's cart document. Product holds the JSON
// product snapshot exactly as the client sent it.
type CartRow struct {
	ProductID int64
	Product   []byte
	Quantity  int
}

type OrderRow struct {
	ID        int64
	AccountID string
	Total     float64
	CreatedAt time.Time
}

type OrderItemRow struct {
	ProductID int64
	Name      string
	Quantity  int
	Price     float64
}

// PostgresStore is a Store backed by Postgres and has in-process locks
type PostgresStore struct {
	DB *sql.DB

	// per-account mutexes so two requests in this process do not interleave
	// writes to the same cart. Keys are account_id -> *sync.Mutex
	locks sync.Map
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{DB: db}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, migrationSQL)
	return err
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// helper: acquire per-account lock (process-local). Returns unlock func.
func (s *PostgresStore) lockForAccount(accountID string) func() {
	if v, ok := s.locks.Load(accountID); ok {
		m := v.(*sync.Mutex)
		m.Lock()
		return m.Unlock
	}

	m := &sync.Mutex{}
	actual, _ := s.locks.LoadOrStore(accountID, m)
	mtx := actual.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}

// inTx runs fn in a transaction, rolling back when fn or the commit fails.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateProduct inserts a product and returns its id
func (s *PostgresStore) CreateProduct(ctx context.Context, p ProductRow) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO products (name, description, price, image, stock, low_stock_threshold) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.Name, p.Description, p.Price, p.Image, p.Stock, p.LowStockThreshold,
	).Scan(&id)
	return id, err
}

const productColumns = `id, name, description, price, image, stock, low_stock_threshold, created_at`

func scanProduct(sc interface{ Scan(...any) error }) (ProductRow, error) {
	var p ProductRow
	err := sc.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Image, &p.Stock, &p.LowStockThreshold, &p.CreatedAt)
	return p, err
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]ProductRow, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ProductRow{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProduct returns sql.ErrNoRows for an unknown id.
func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (ProductRow, error) {
	return scanProduct(s.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *PostgresStore) FetchCart(ctx context.Context, accountID string) ([]CartRow, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT product_id, product, quantity FROM cart_items WHERE account_id = $1 ORDER BY position`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CartRow{}
	for rows.Next() {
		var c CartRow
		if err := rows.Scan(&c.ProductID, &c.Product, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCart replaces every line of the account's cart. The slice order is
// stored as the display order. Last writer wins.
func (s *PostgresStore) SaveCart(ctx context.Context, accountID string, rows []CartRow) error {
	unlock := s.lockForAccount(accountID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO carts (account_id, updated_at) VALUES ($1, now()) ON CONFLICT (account_id) DO UPDATE SET updated_at = now()`,
			accountID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO cart_items (account_id, position, product_id, product, quantity) VALUES ($1,$2,$3,$4,$5)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range rows {
			if _, err := stmt.ExecContext(ctx, accountID, i, r.ProductID, r.Product, r.Quantity); err != nil {
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
					return fmt.Errorf("%w: %d", ErrUnknownProduct, r.ProductID)
				}
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ClearCart(ctx context.Context, accountID string) error {
	unlock := s.lockForAccount(accountID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE account_id = $1`, accountID)
		return err
	})
}

// Checkout turns the account's cart into an order at current catalog prices,
// takes the ordered quantities out of stock and clears the cart.
func (s *PostgresStore) Checkout(ctx context.Context, accountID string) (OrderRow, []OrderItemRow, error) {
	var order OrderRow
	var items []OrderItemRow

	unlock := s.lockForAccount(accountID)
	defer unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// lock product rows in id order to avoid deadlocks between checkouts
		rows, err := tx.QueryContext(ctx, `
		SELECT ci.product_id, ci.quantity, p.name, p.price, p.stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.account_id = $1
		ORDER BY p.id
		FOR UPDATE OF p`, accountID)
		if err != nil {
			return err
		}
		var total float64
		for rows.Next() {
			var it OrderItemRow
			var stock int
			if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Name, &it.Price, &stock); err != nil {
				rows.Close()
				return err
			}
			if stock < it.Quantity {
				rows.Close()
				return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity, Available: stock}
			}
			items = append(items, it)
			total += float64(it.Quantity) * it.Price
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(items) == 0 {
			return ErrCartEmpty
		}

		var orderID int64
		var createdAt time.Time
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (account_id, total) VALUES ($1,$2) RETURNING id, created_at`,
			accountID, total).Scan(&orderID, &createdAt); err != nil {
			return err
		}

		itemStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO order_items (order_id, product_id, name, quantity, price) VALUES ($1,$2,$3,$4,$5)`)
		if err != nil {
			return err
		}
		defer itemStmt.Close()
		for _, it := range items {
			if _, err := itemStmt.ExecContext(ctx, orderID, it.ProductID, it.Name, it.Quantity, it.Price); err != nil {
				return err
			}
		}

		stockStmt, err := tx.PrepareContext(ctx, `UPDATE products SET stock = stock - $1 WHERE id = $2`)
		if err != nil {
			return err
		}
		defer stockStmt.Close()
		for _, it := range items {
			if _, err := stockStmt.ExecContext(ctx, it.Quantity, it.ProductID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		order = OrderRow{ID: orderID, AccountID: accountID, Total: total, CreatedAt: createdAt}
		return nil
	})
	if err != nil {
		return OrderRow{}, nil, err
	}
	return order, items, nil
}
