package domain

import "math"

const (
	// DefaultTaxRateBasisPoints is the flat 10% tax applied to the order subtotal.
	DefaultTaxRateBasisPoints = 1000
	// DefaultFreeShippingThreshold is the subtotal above which shipping is free.
	DefaultFreeShippingThreshold int64 = 5000
	// DefaultFlatShippingFee is charged when the subtotal does not exceed the threshold.
	DefaultFlatShippingFee int64 = 500
)

// PricingPolicy captures the flat tax and shipping rules applied at checkout.
type PricingPolicy struct {
	TaxRateBasisPoints    int64
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// DefaultPricingPolicy returns the policy used when configuration leaves values unset.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRateBasisPoints:    DefaultTaxRateBasisPoints,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
	}
}

// Tax returns the rounded tax owed for the subtotal.
func (p PricingPolicy) Tax(subtotal int64) int64 {
	if subtotal <= 0 || p.TaxRateBasisPoints <= 0 {
		return 0
	}
	return RoundCurrency(float64(subtotal) * float64(p.TaxRateBasisPoints) / 10000)
}

// Shipping returns the shipping fee for the subtotal. Strictly greater than the threshold ships free.
func (p PricingPolicy) Shipping(subtotal int64) int64 {
	if subtotal > p.FreeShippingThreshold {
		return 0
	}
	return p.FlatShippingFee
}

// Totals computes the order totals for the given line items and discount. The discount is clamped to
// the subtotal so the total never drops below tax plus shipping.
func (p PricingPolicy) Totals(items []OrderItem, discount int64) OrderTotals {
	var subtotal int64
	for _, item := range items {
		subtotal += LineTotal(item.UnitPrice, item.Quantity)
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	tax := p.Tax(subtotal)
	shipping := p.Shipping(subtotal)
	return OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal + tax + shipping - discount,
	}
}

// LineTotal multiplies a unit price by quantity.
func LineTotal(unitPrice int64, quantity int) int64 {
	if quantity <= 0 {
		return 0
	}
	return unitPrice * int64(quantity)
}

// RoundCurrency rounds to the nearest whole currency unit, halves away from zero.
func RoundCurrency(value float64) int64 {
	return int64(math.Round(value))
}
