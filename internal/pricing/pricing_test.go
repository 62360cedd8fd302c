package pricing

import (
	"testing"

	"printshop-orders/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestPriceBelowFreeShippingThreshold(t *testing.T) {
	items := []models.OrderItem{{ProductID: "vase", UnitPrice: 1000, Quantity: 2}}

	b := DefaultRules().Price(items, nil)

	assert.Equal(t, int64(2000), b.Subtotal)
	assert.Equal(t, int64(360), b.Tax)
	assert.Equal(t, int64(250), b.ShippingCost)
	assert.Equal(t, int64(2610), b.Total)
}

func TestPriceAtFreeShippingThreshold(t *testing.T) {
	items := []models.OrderItem{{ProductID: "lamp", UnitPrice: 2500, Quantity: 2}}

	b := DefaultRules().Price(items, nil)

	assert.Equal(t, int64(5000), b.Subtotal)
	assert.Equal(t, int64(900), b.Tax)
	assert.Zero(t, b.ShippingCost)
	assert.Equal(t, b.Subtotal+b.Tax, b.Total)
}

func TestSelectedQuoteTakesPrecedence(t *testing.T) {
	items := []models.OrderItem{{UnitPrice: 6000, Quantity: 1}}
	quote := &models.ShippingRateQuote{CourierName: "Delhivery", RateAmount: 150}

	b := DefaultRules().Price(items, quote)

	assert.Equal(t, int64(150), b.ShippingCost)
	assert.Equal(t, int64(6000+1080+150), b.Total)
}

func TestEmptyCartIsAllZero(t *testing.T) {
	b := DefaultRules().Price(nil, &models.ShippingRateQuote{RateAmount: 80})

	assert.Equal(t, Breakdown{}, b)
}

func TestTaxRoundsHalfUp(t *testing.T) {
	r := DefaultRules()

	// 25 * 0.18 = 4.5
	assert.Equal(t, int64(5), r.Tax(25))
	// 24 * 0.18 = 4.32
	assert.Equal(t, int64(4), r.Tax(24))
	// 1 * 0.18 = 0.18
	assert.Equal(t, int64(0), r.Tax(1))
}

func TestTotalInvariantHolds(t *testing.T) {
	r := DefaultRules()
	for _, price := range []int64{1, 99, 499, 1234, 4999, 5000, 12345} {
		for qty := 1; qty <= 4; qty++ {
			b := r.Price([]models.OrderItem{{UnitPrice: price, Quantity: qty}}, nil)
			assert.Equal(t, b.Subtotal+b.Tax+b.ShippingCost, b.Total)
			assert.Equal(t, r.Tax(b.Subtotal), b.Tax)
		}
	}
}
