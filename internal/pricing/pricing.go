// Package pricing computes order totals. Every function is pure.
package pricing

import (
	"math"

	"printshop-orders/internal/models"
)

// Defaults used by the storefront
const (
	DefaultTaxRate               = 0.18
	DefaultFreeShippingThreshold = 5000
	DefaultFlatShippingFee       = 250
)

// Rules holds the tax and shipping parameters
type Rules struct {
	TaxRate               float64
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// DefaultRules returns the storefront's standard rules
func DefaultRules() Rules {
	return Rules{
		TaxRate:               DefaultTaxRate,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
	}
}

// Breakdown is the full price of a checkout
type Breakdown struct {
	Subtotal     int64 `json:"subtotal"`
	Tax          int64 `json:"tax"`
	ShippingCost int64 `json:"shipping_cost"`
	Total        int64 `json:"total"`
}

// Subtotal sums unit price times quantity
func Subtotal(items []models.OrderItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return subtotal
}

// Tax rounds subtotal*rate half-up to a whole currency unit. The rate is
// applied in basis points so the rounding is exact.
func (r Rules) Tax(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	bp := int64(math.Round(r.TaxRate * 10000))
	return (subtotal*bp + 5000) / 10000
}

// Shipping picks the shipping cost. A selected live quote wins over the
// free-shipping threshold, which wins over the flat fallback fee.
func (r Rules) Shipping(subtotal int64, quote *models.ShippingRateQuote) int64 {
	if subtotal <= 0 {
		return 0
	}
	if quote != nil {
		return quote.RateAmount
	}
	if subtotal >= r.FreeShippingThreshold {
		return 0
	}
	return r.FlatShippingFee
}

// Price computes the breakdown for items and an optional selected quote
func (r Rules) Price(items []models.OrderItem, quote *models.ShippingRateQuote) Breakdown {
	subtotal := Subtotal(items)
	tax := r.Tax(subtotal)
	shipping := r.Shipping(subtotal, quote)
	return Breakdown{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        subtotal + tax + shipping,
	}
}

// ToMinorUnits converts whole currency units to the gateway's minor units
func ToMinorUnits(amount int64) int64 {
	return amount * 100
}
