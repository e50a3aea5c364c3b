package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"shop-cart/model"
	"shop-cart/store"
)

var (
	// ErrValidation marks a request the caller must fix.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown product.
	ErrNotFound = errors.New("not found")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// ProductInput is the body of a create-product request.
type ProductInput struct {
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	Price             float64 `json:"price"`
	Image             string  `json:"image"`
	Stock             int     `json:"stock"`
	LowStockThreshold int     `json:"lowStockThreshold"`
}

// ProductDTO is a catalog entry. It flattens to the same JSON as the
// snapshot a client stores in its cart.
type ProductDTO struct {
	model.ProductSnapshot
	CreatedAt time.Time `json:"createdAt"`
}

func toProductDTO(r store.ProductRow) ProductDTO {
	p := ProductDTO{
		ProductSnapshot: model.ProductSnapshot{
			ID:                strconv.FormatInt(r.ID, 10),
			Name:              r.Name,
			Price:             r.Price,
			Image:             r.Image,
			Stock:             r.Stock,
			LowStockThreshold: r.LowStockThreshold,
		},
		CreatedAt: r.CreatedAt,
	}
	if r.Description.Valid {
		p.Description = r.Description.String
	}
	return p
}

func parseProductID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, invalid("product id %q is not a catalog id", id)
	}
	return n, nil
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (int64, error) {
	if in.Name == "" {
		return 0, invalid("name required")
	}
	if in.Price < 0 {
		return 0, invalid("price must be >= 0")
	}
	if in.Stock < 0 || in.LowStockThreshold < 0 {
		return 0, invalid("stock and threshold must be >= 0")
	}
	return s.store.CreateProduct(ctx, store.ProductRow{
		Name:              in.Name,
		Description:       sql.NullString{String: in.Description, Valid: in.Description != ""},
		Price:             in.Price,
		Image:             in.Image,
		Stock:             in.Stock,
		LowStockThreshold: in.LowStockThreshold,
	})
}

func (s *Service) ListProducts(ctx context.Context) ([]ProductDTO, error) {
	rows, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProductDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, toProductDTO(r))
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (ProductDTO, error) {
	pid, err := parseProductID(id)
	if err != nil {
		return ProductDTO{}, err
	}
	row, err := s.store.GetProduct(ctx, pid)
	if errors.Is(err, sql.ErrNoRows) {
		return ProductDTO{}, fmt.Errorf("product %d: %w", pid, ErrNotFound)
	}
	if err != nil {
		return ProductDTO{}, err
	}
	return toProductDTO(row), nil
}

func (s *Service) UpdateStock(ctx context.Context, productID string, newStock int) error {
	pid, err := parseProductID(productID)
	if err != nil {
		return err
	}
	if newStock < 0 {
		return invalid("stock cannot be negative")
	}
	err = s.store.UpdateStock(ctx, pid, newStock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %d: %w", pid, ErrNotFound)
	}
	return err
}

// StockDTO is the live stock of a catalog product, for clients that want to
// check availability without refetching the whole entry.
type StockDTO struct {
	ProductID         string `json:"productId"`
	Stock             int    `json:"stock"`
	LowStockThreshold int    `json:"lowStockThreshold,omitempty"`
	LowStock          bool   `json:"lowStock"`
}

func (s *Service) GetStock(ctx context.Context, productID string) (StockDTO, error) {
	pid, err := parseProductID(productID)
	if err != nil {
		return StockDTO{}, err
	}
	level, err := s.store.GetStock(ctx, pid)
	if errors.Is(err, sql.ErrNoRows) {
		return StockDTO{}, fmt.Errorf("product %d: %w", pid, ErrNotFound)
	}
	if err != nil {
		return StockDTO{}, err
	}
	return StockDTO{
		ProductID:         strconv.FormatInt(level.ProductID, 10),
		Stock:             level.Stock,
		LowStockThreshold: level.LowStockThreshold,
		LowStock:          level.Low(),
	}, nil
}

// GetCart returns the account's stored cart document. An account that never
// saved a cart has an empty one.
func (s *Service) GetCart(ctx context.Context, accountID string) ([]model.CartItem, error) {
	if accountID == "" {
		return nil, invalid("account required")
	}
	rows, err := s.store.FetchCart(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]model.CartItem, 0, len(rows))
	for _, r := range rows {
		var snap model.ProductSnapshot
		if len(r.Product) > 0 {
			if err := json.Unmarshal(r.Product, &snap); err != nil {
				return nil, fmt.Errorf("decode snapshot for product %d: %w", r.ProductID, err)
			}
		}
		id := strconv.FormatInt(r.ProductID, 10)
		snap.ID = id
		out = append(out, model.CartItem{ProductID: id, Product: snap, Quantity: r.Quantity})
	}
	return out, nil
}

// SaveCart replaces the account's cart document with items, in order.
func (s *Service) SaveCart(ctx context.Context, accountID string, items []model.CartItem) error {
	if accountID == "" {
		return invalid("account required")
	}
	rows := make([]store.CartRow, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		pid, err := parseProductID(it.ProductID)
		if err != nil {
			return err
		}
		if it.Quantity <= 0 {
			return invalid("quantity for product %d must be > 0", pid)
		}
		if seen[pid] {
			return invalid("product %d appears more than once", pid)
		}
		seen[pid] = true

		snap := it.Product
		snap.ID = it.ProductID
		raw, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		rows = append(rows, store.CartRow{ProductID: pid, Product: raw, Quantity: it.Quantity})
	}
	err := s.store.SaveCart(ctx, accountID, rows)
	if errors.Is(err, store.ErrUnknownProduct) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func (s *Service) ClearCart(ctx context.Context, accountID string) error {
	if accountID == "" {
		return invalid("account required")
	}
	return s.store.ClearCart(ctx, accountID)
}

// Checkout places an order from the account's stored cart.
func (s *Service) Checkout(ctx context.Context, accountID string) (model.Order, error) {
	if accountID == "" {
		return model.Order{}, invalid("account required")
	}
	orderRow, items, err := s.store.Checkout(ctx, accountID)
	if errors.Is(err, store.ErrCartEmpty) {
		return model.Order{}, invalid("cart is empty")
	}
	if err != nil {
		return model.Order{}, err
	}
	od := model.Order{
		ID:        orderRow.ID,
		AccountID: orderRow.AccountID,
		Total:     orderRow.Total,
		CreatedAt: orderRow.CreatedAt,
		Items:     make([]model.OrderLine, 0, len(items)),
	}
	for _, it := range items {
		od.Items = append(od.Items, model.OrderLine{
			ProductID: strconv.FormatInt(it.ProductID, 10),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}
	return od, nil
}
