package cart

import "shop-cart/model"

type opKind int

const (
	opAdd opKind = iota
	opRemove
	opSet
	opClear
)

// cartOp is a mutation made while a reconciliation is in flight. The merged
// cart replays them in order so they survive adoption.
type cartOp struct {
	kind      opKind
	productID string
	product   model.ProductSnapshot
	qty       int
}

// replay applies ops to a copy of items. Quantities are capped at the line's
// snapshot stock; a line capped to nothing is dropped.
func replay(items []model.CartItem, ops []cartOp) []model.CartItem {
	out := model.CloneItems(items)
	for _, op := range ops {
		switch op.kind {
		case opAdd:
			if i := indexOf(out, op.productID); i >= 0 {
				out = setQuantity(out, i, out[i].Quantity+op.qty, op.product.Stock)
			} else {
				out = append(out, model.CartItem{ProductID: op.productID, Product: op.product})
				out = setQuantity(out, len(out)-1, op.qty, op.product.Stock)
			}
		case opRemove:
			if i := indexOf(out, op.productID); i >= 0 {
				out = append(out[:i:i], out[i+1:]...)
			}
		case opSet:
			if i := indexOf(out, op.productID); i >= 0 {
				out = setQuantity(out, i, op.qty, out[i].Product.Stock)
			}
		case opClear:
			out = nil
		}
	}
	if out == nil {
		out = []model.CartItem{}
	}
	return out
}

func setQuantity(items []model.CartItem, i, qty, stock int) []model.CartItem {
	if qty > stock {
		qty = stock
	}
	if qty <= 0 {
		return append(items[:i:i], items[i+1:]...)
	}
	items[i].Quantity = qty
	return items
}
