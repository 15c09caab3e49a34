// Package pricing derives order totals from order items.
package pricing

import (
	"github.com/shopspring/decimal"

	"restaurant-orders/internal/models"
)

// MinorUnits is the number of decimal places of the currency
const MinorUnits = 2

// LineTotal returns unit_price * quantity plus the sum of the item's modification deltas
func LineTotal(item models.OrderItem) decimal.Decimal {
	total := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	for _, m := range item.Modifications {
		total = total.Add(m.PriceChange)
	}
	return total
}

// ComputeTotal sums LineTotal over items. Rounding to the minor unit happens once, at the end.
func ComputeTotal(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item))
	}
	return total.Round(MinorUnits)
}
