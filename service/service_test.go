package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"shop-cart/model"
	"shop-cart/store"
)

// ---- fakeStore implementing store.Store for tests ----
type fakeStore struct {
	CreateProductFn func(p store.ProductRow) (int64, error)
	ListProductsFn  func() ([]store.ProductRow, error)
	GetProductFn    func(id int64) (store.ProductRow, error)
	UpdateStockFn   func(productID int64, newStock int) error
	GetStockFn      func(productID int64) (store.StockLevel, error)
	FetchCartFn     func(accountID string) ([]store.CartRow, error)
	SaveCartFn      func(accountID string, rows []store.CartRow) error
	ClearCartFn     func(accountID string) error
	CheckoutFn      func(accountID string) (store.OrderRow, []store.OrderItemRow, error)
}

func (f *fakeStore) CreateProduct(_ context.Context, p store.ProductRow) (int64, error) {
	return f.CreateProductFn(p)
}
func (f *fakeStore) ListProducts(context.Context) ([]store.ProductRow, error) {
	return f.ListProductsFn()
}
func (f *fakeStore) GetProduct(_ context.Context, id int64) (store.ProductRow, error) {
	return f.GetProductFn(id)
}
func (f *fakeStore) UpdateStock(_ context.Context, productID int64, newStock int) error {
	return f.UpdateStockFn(productID, newStock)
}
func (f *fakeStore) GetStock(_ context.Context, productID int64) (store.StockLevel, error) {
	return f.GetStockFn(productID)
}
func (f *fakeStore) FetchCart(_ context.Context, accountID string) ([]store.CartRow, error) {
	return f.FetchCartFn(accountID)
}
func (f *fakeStore) SaveCart(_ context.Context, accountID string, rows []store.CartRow) error {
	return f.SaveCartFn(accountID, rows)
}
func (f *fakeStore) ClearCart(_ context.Context, accountID string) error {
	return f.ClearCartFn(accountID)
}
func (f *fakeStore) Checkout(_ context.Context, accountID string) (store.OrderRow, []store.OrderItemRow, error) {
	return f.CheckoutFn(accountID)
}
func (f *fakeStore) Close() error { return nil }

var ctx = context.Background()

// ---- Tests ----

func TestCreateProductValidationAndForwarding(t *testing.T) {
	var got store.ProductRow
	svc := NewService(&fakeStore{
		CreateProductFn: func(p store.ProductRow) (int64, error) {
			got = p
			return 123, nil
		},
	})

	if _, err := svc.CreateProduct(ctx, ProductInput{Price: 10}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, ProductInput{Name: "n", Price: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative price, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, ProductInput{Name: "n", Stock: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative stock, got %v", err)
	}

	id, err := svc.CreateProduct(ctx, ProductInput{Name: "n", Description: "desc", Price: 12.5, Stock: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 123 {
		t.Fatalf("expected id 123, got %d", id)
	}
	if !got.Description.Valid || got.Description.String != "desc" || got.Stock != 4 {
		t.Fatalf("unexpected row forwarded: %+v", got)
	}
}

func TestListProductsMapping(t *testing.T) {
	sRows := []store.ProductRow{
		{ID: 1, Name: "p1", Description: sql.NullString{String: "d1", Valid: true}, Price: 99.5, Stock: 3, LowStockThreshold: 5},
		{ID: 2, Name: "p2", Description: sql.NullString{Valid: false}, Price: 10.0},
	}
	svc := NewService(&fakeStore{
		ListProductsFn: func() ([]store.ProductRow, error) { return sRows, nil },
	})

	out, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 products, got %d", len(out))
	}
	if out[0].ID != "1" || out[0].Description != "d1" || !out[0].LowStock() {
		t.Fatalf("unexpected first product: %+v", out[0])
	}
	if out[1].Description != "" {
		t.Fatalf("expected empty desc for second product, got %q", out[1].Description)
	}
}

func TestListProductsStoreError(t *testing.T) {
	svc := NewService(&fakeStore{
		ListProductsFn: func() ([]store.ProductRow, error) { return nil, errors.New("db down") },
	})
	if _, err := svc.ListProducts(ctx); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}

func TestGetProduct(t *testing.T) {
	svc := NewService(&fakeStore{
		GetProductFn: func(id int64) (store.ProductRow, error) {
			if id == 9 {
				return store.ProductRow{ID: 9, Name: "mug", Price: 7}, nil
			}
			return store.ProductRow{}, sql.ErrNoRows
		},
	})

	p, err := svc.GetProduct(ctx, "9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "9" || p.Name != "mug" {
		t.Fatalf("unexpected product: %+v", p)
	}
	if _, err := svc.GetProduct(ctx, "10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetProduct(ctx, "abc"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-numeric id, got %v", err)
	}
}

func TestUpdateStockValidationAndForwarding(t *testing.T) {
	svc := NewService(&fakeStore{})
	if err := svc.UpdateStock(ctx, "1", -5); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected error for negative stock, got %v", err)
	}

	called := false
	svc2 := NewService(&fakeStore{
		UpdateStockFn: func(productID int64, newStock int) error {
			called = true
			if productID == 8 {
				return sql.ErrNoRows
			}
			if productID != 7 || newStock != 10 {
				return fmt.Errorf("unexpected args")
			}
			return nil
		},
	})
	if err := svc2.UpdateStock(ctx, "7", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected UpdateStock to call store")
	}
	if err := svc2.UpdateStock(ctx, "8", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStock(t *testing.T) {
	svc := NewService(&fakeStore{
		GetStockFn: func(productID int64) (store.StockLevel, error) {
			switch productID {
			case 3:
				return store.StockLevel{ProductID: 3, Stock: 2, LowStockThreshold: 5}, nil
			case 4:
				return store.StockLevel{}, errors.New("db down")
			}
			return store.StockLevel{}, sql.ErrNoRows
		},
	})

	got, err := svc.GetStock(ctx, "3")
	if err != nil {
		t.Fatalf("GetStock error: %v", err)
	}
	want := StockDTO{ProductID: "3", Stock: 2, LowStockThreshold: 5, LowStock: true}
	if got != want {
		t.Fatalf("GetStock = %+v, want %+v", got, want)
	}
	if _, err := svc.GetStock(ctx, "abc"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.GetStock(ctx, "9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetStock(ctx, "4"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestGetCartDecodesSnapshots(t *testing.T) {
	fs := &fakeStore{
		FetchCartFn: func(accountID string) ([]store.CartRow, error) {
			return []store.CartRow{
				{ProductID: 101, Product: []byte(`{"id":"101","name":"mug","price":50}`), Quantity: 2},
				{ProductID: 102, Quantity: 1},
			}, nil
		},
	}
	svc := NewService(fs)

	items, err := svc.GetCart(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ProductID != "101" || items[0].Product.Name != "mug" || items[0].Quantity != 2 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Product.ID != "102" {
		t.Fatalf("snapshot id should follow the line, got %+v", items[1])
	}
	if total := model.TotalPrice(items); total != 100.0 {
		t.Fatalf("expected total 100.0, got %v", total)
	}

	if _, err := svc.GetCart(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty account, got %v", err)
	}
}

func TestGetCartEmptyAndStoreError(t *testing.T) {
	svc := NewService(&fakeStore{
		FetchCartFn: func(string) ([]store.CartRow, error) { return []store.CartRow{}, nil },
	})
	items, err := svc.GetCart(ctx, "new")
	if err != nil || items == nil || len(items) != 0 {
		t.Fatalf("expected empty cart, got %#v, %v", items, err)
	}

	svc2 := NewService(&fakeStore{
		FetchCartFn: func(string) ([]store.CartRow, error) { return nil, errors.New("db fail") },
	})
	if _, err := svc2.GetCart(ctx, "u"); err == nil {
		t.Fatalf("expected error from FetchCart to propagate")
	}
}

func TestSaveCartValidation(t *testing.T) {
	called := false
	svc := NewService(&fakeStore{
		SaveCartFn: func(string, []store.CartRow) error { called = true; return nil },
	})

	cases := []struct {
		name    string
		account string
		items   []model.CartItem
	}{
		{"missing account", "", nil},
		{"non-numeric id", "u", []model.CartItem{{ProductID: "p1", Quantity: 1}}},
		{"zero quantity", "u", []model.CartItem{{ProductID: "1", Quantity: 0}}},
		{"duplicate product", "u", []model.CartItem{{ProductID: "1", Quantity: 1}, {ProductID: "1", Quantity: 2}}},
	}
	for _, tc := range cases {
		if err := svc.SaveCart(ctx, tc.account, tc.items); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
	if called {
		t.Fatalf("store should not be reached for invalid carts")
	}
}

func TestSaveCartForwardsRowsInOrder(t *testing.T) {
	var gotAccount string
	var gotRows []store.CartRow
	svc := NewService(&fakeStore{
		SaveCartFn: func(accountID string, rows []store.CartRow) error {
			gotAccount, gotRows = accountID, rows
			return nil
		},
	})

	err := svc.SaveCart(ctx, "u1", []model.CartItem{
		{ProductID: "5", Product: model.ProductSnapshot{Name: "pen", Price: 2}, Quantity: 3},
		{ProductID: "2", Product: model.ProductSnapshot{ID: "2", Name: "ink"}, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAccount != "u1" || len(gotRows) != 2 {
		t.Fatalf("unexpected forward: %s %+v", gotAccount, gotRows)
	}
	if gotRows[0].ProductID != 5 || gotRows[0].Quantity != 3 || gotRows[1].ProductID != 2 {
		t.Fatalf("rows out of order: %+v", gotRows)
	}
	want := `{"id":"5","name":"pen","price":2,"stock":0}`
	if string(gotRows[0].Product) != want {
		t.Fatalf("unexpected snapshot json: %s", gotRows[0].Product)
	}
}

func TestSaveCartUnknownProduct(t *testing.T) {
	svc := NewService(&fakeStore{
		SaveCartFn: func(string, []store.CartRow) error {
			return fmt.Errorf("%w: 404", store.ErrUnknownProduct)
		},
	})
	err := svc.SaveCart(ctx, "u", []model.CartItem{{ProductID: "404", Quantity: 1}})
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, store.ErrUnknownProduct) {
		t.Fatalf("expected ErrNotFound wrapping ErrUnknownProduct, got %v", err)
	}
}

func TestClearCart(t *testing.T) {
	var cleared string
	svc := NewService(&fakeStore{
		ClearCartFn: func(accountID string) error { cleared = accountID; return nil },
	})
	if err := svc.ClearCart(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.ClearCart(ctx, "u9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared != "u9" {
		t.Fatalf("expected clear for u9, got %q", cleared)
	}
}

func TestCheckoutFlow(t *testing.T) {
	svc := NewService(&fakeStore{})
	if _, err := svc.Checkout(ctx, ""); err == nil {
		t.Fatalf("expected error for empty account")
	}

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		CheckoutFn: func(accountID string) (store.OrderRow, []store.OrderItemRow, error) {
			return store.OrderRow{ID: 55, AccountID: accountID, Total: 200.0, CreatedAt: created},
				[]store.OrderItemRow{{ProductID: 11, Name: "lamp", Quantity: 2, Price: 100.0}},
				nil
		},
	}
	od, err := NewService(fs).Checkout(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := model.Order{
		ID:        55,
		AccountID: "u1",
		Total:     200.0,
		CreatedAt: created,
		Items:     []model.OrderLine{{ProductID: "11", Name: "lamp", Quantity: 2, UnitPrice: 100.0}},
	}
	if !reflect.DeepEqual(od, want) {
		t.Fatalf("unexpected order. got %+v, want %+v", od, want)
	}
}

func TestCheckoutErrors(t *testing.T) {
	empty := NewService(&fakeStore{
		CheckoutFn: func(string) (store.OrderRow, []store.OrderItemRow, error) {
			return store.OrderRow{}, nil, store.ErrCartEmpty
		},
	})
	if _, err := empty.Checkout(ctx, "u1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty cart to be a validation error, got %v", err)
	}

	short := NewService(&fakeStore{
		CheckoutFn: func(string) (store.OrderRow, []store.OrderItemRow, error) {
			return store.OrderRow{}, nil, &store.InsufficientStockError{ProductID: 1, Requested: 3, Available: 1}
		},
	})
	if _, err := short.Checkout(ctx, "u1"); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock to propagate, got %v", err)
	}
}
