package resolver

import "github.com/shopspring/decimal"

// roundCents rounds to 2 decimal places, half-up at the cent.
func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// clampDiscount enforces 0 <= discount <= subtotal, then rounds to cents.
func clampDiscount(discount, subtotal float64) float64 {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return roundCents(discount)
}

// formatMoney renders a money value with exactly two decimals for
// customer-facing messages.
func formatMoney(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
