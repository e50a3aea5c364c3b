package store

import "context"

// Store is the server's persistence layer: the product catalog, one cart
// document per account, and orders.
type Store interface {
	CreateProduct(ctx context.Context, p ProductRow) (int64, error)
	ListProducts(ctx context.Context) ([]ProductRow, error)
	GetProduct(ctx context.Context, id int64) (ProductRow, error)
	UpdateStock(ctx context.Context, productID int64, newStock int) error
	GetStock(ctx context.Context, productID int64) (StockLevel, error)

	// FetchCart returns the account's lines in stored order; no rows means
	// an empty cart, not an error.
	FetchCart(ctx context.Context, accountID string) ([]CartRow, error)
	// SaveCart replaces the account's cart with rows.
	SaveCart(ctx context.Context, accountID string, rows []CartRow) error
	ClearCart(ctx context.Context, accountID string) error

	Checkout(ctx context.Context, accountID string) (OrderRow, []OrderItemRow, error)

	Close() error
}
