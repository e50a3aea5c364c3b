package cart

import (
	"errors"
	"fmt"
)

var (
	// ErrStockExceeded is matched by every *StockError.
	ErrStockExceeded = errors.New("quantity exceeds available stock")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("cart manager closed")
	// ErrNotAuthenticated is returned by Reconcile when the session is not
	// authenticated as the requested account.
	ErrNotAuthenticated = errors.New("session is not authenticated for account")
	// ErrSessionChanged aborts a reconciliation whose session ended mid-flight.
	ErrSessionChanged = errors.New("session changed during reconciliation")
)

// StockError rejects a mutation that would push a line past the snapshot stock.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("only %d items available in stock for %s (requested %d)", e.Available, e.ProductID, e.Requested)
}

func (e *StockError) Is(target error) bool { return target == ErrStockExceeded }
