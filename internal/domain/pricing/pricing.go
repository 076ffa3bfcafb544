// Package pricing resolves the sale price of a catalog item from its base
// price, optional MRP and optional discount percentage.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Input holds the price attributes of a product. MRP and DiscountPercent are
// optional; nil means "not set".
type Input struct {
	Base            decimal.Decimal
	MRP             *decimal.Decimal
	DiscountPercent *decimal.Decimal
}

// Resolve returns the final sale price at full precision:
//
//   - MRP and discount set: MRP - MRP*discount/100
//   - only discount set:    Base - Base*discount/100
//   - otherwise:            Base
//
// A discount without an MRP applies to the base price. Use Display to round
// for presentation; accumulate totals from the unrounded value.
func Resolve(in Input) decimal.Decimal {
	if in.DiscountPercent == nil {
		return in.Base
	}
	from := in.Base
	if in.MRP != nil {
		from = *in.MRP
	}
	return from.Sub(from.Mul(*in.DiscountPercent).Div(hundred))
}

// Display rounds a price to two decimal places.
func Display(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal returns unitPrice × quantity at full precision.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
