package cart

import (
	"encoding/json"

	"shop-cart/model"
)

// Merge keeps every item of primary in order, then appends the items of
// secondary whose product is not already present. Quantities from primary
// win. Lines with a non-positive quantity or empty product id are dropped.
func Merge(primary, secondary []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, 0, len(primary)+len(secondary))
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	for _, list := range [][]model.CartItem{primary, secondary} {
		for _, it := range list {
			if it.ProductID == "" || it.Quantity <= 0 {
				continue
			}
			if _, ok := seen[it.ProductID]; ok {
				continue
			}
			seen[it.ProductID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

// Encode serializes a cart for device-local storage.
func Encode(items []model.CartItem) (string, error) {
	if items == nil {
		items = []model.CartItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a serialized cart and normalizes it.
func Decode(data string) ([]model.CartItem, error) {
	var items []model.CartItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, err
	}
	return Merge(items, nil), nil
}

func indexOf(items []model.CartItem, productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}
