package model

// ProductSnapshot is the catalog data captured when a product is put in a cart.
// It is stored with the line item and is not refreshed afterwards.
type ProductSnapshot struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Price             float64 `json:"price"`
	Image             string  `json:"image,omitempty"`
	Stock             int     `json:"stock"`
	LowStockThreshold int     `json:"lowStockThreshold,omitempty"`
}

// LowStock reports whether the snapshot is at or below its low-stock threshold.
func (p ProductSnapshot) LowStock() bool {
	return p.LowStockThreshold > 0 && p.Stock <= p.LowStockThreshold
}
