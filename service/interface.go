package service

import (
	"context"

	"shop-cart/model"
)

type ServiceInterface interface {
	CreateProduct(ctx context.Context, in ProductInput) (int64, error)
	ListProducts(ctx context.Context) ([]ProductDTO, error)
	GetProduct(ctx context.Context, id string) (ProductDTO, error)
	UpdateStock(ctx context.Context, productID string, newStock int) error
	GetStock(ctx context.Context, productID string) (StockDTO, error)

	GetCart(ctx context.Context, accountID string) ([]model.CartItem, error)
	SaveCart(ctx context.Context, accountID string, items []model.CartItem) error
	ClearCart(ctx context.Context, accountID string) error
	Checkout(ctx context.Context, accountID string) (model.Order, error)
}
