package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrInsufficientStock is matched by every *InsufficientStockError.
var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError reports the first product that cannot cover its line.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// UpdateStock sets the absolute stock for a product (admin operation).
func (s *PostgresStore) UpdateStock(ctx context.Context, productID int64, newStock int) error {
	if newStock < 0 {
		return errors.New("stock cannot be negative")
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE products SET stock=$1 WHERE id=$2`, newStock, productID)
	if err != nil {
		return err
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// StockLevel is a product's stock with the threshold at which it counts as low.
type StockLevel struct {
	ProductID         int64
	Stock             int
	LowStockThreshold int
}

// Low reports whether the level is at or below a non-zero threshold.
func (l StockLevel) Low() bool {
	return l.LowStockThreshold > 0 && l.Stock <= l.LowStockThreshold
}

// GetStock reads the stock level of one product. An unknown product yields
// sql.ErrNoRows.
func (s *PostgresStore) GetStock(ctx context.Context, productID int64) (StockLevel, error) {
	l := StockLevel{ProductID: productID}
	err := s.DB.QueryRowContext(ctx, `SELECT stock, low_stock_threshold FROM products WHERE id = $1`, productID).
		Scan(&l.Stock, &l.LowStockThreshold)
	if err != nil {
		return StockLevel{}, err
	}
	return l, nil
}
