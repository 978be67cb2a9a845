package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// OrderTotal is the amount a buyer owes for an item: list price plus the flat shipping surcharge.
func OrderTotal(price decimal.Decimal, shippingCents int64) decimal.Decimal {
	return price.Add(decimal.New(shippingCents, -2)).Round(2)
}

// Cents converts a dollar amount to integer cents, rounding half away from zero.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
