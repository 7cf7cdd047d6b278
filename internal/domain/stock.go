package domain

// ApplyStockDelta returns current adjusted by delta, clamped at zero.
func ApplyStockDelta(current, delta int) int {
	next := current + delta
	if next < 0 {
		return 0
	}
	return next
}

// StockDeltasFor returns one signed quantity per line item, grouped by product in first-seen order.
// sign is +1 to credit stock back and -1 to consume it.
func StockDeltasFor(items []OrderItem, sign int) []ProductQuantity {
	index := make(map[string]int, len(items))
	var out []ProductQuantity
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			out[i].Quantity += sign * item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, ProductQuantity{ProductID: item.ProductID, Quantity: sign * item.Quantity})
	}
	return out
}

// ProductQuantity pairs a product with a quantity.
type ProductQuantity struct {
	ProductID string
	Quantity  int
}
