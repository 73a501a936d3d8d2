package booking

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// basketTotal reads price_total from the client's basket snapshot.
func basketTotal(basket json.RawMessage) (decimal.Decimal, bool) {
	if len(basket) == 0 {
		return decimal.Zero, false
	}
	r := gjson.GetBytes(basket, "price_total")
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// finalTotal clamps net by the declared and basket totals. A zero from either
// source means the booking was settled outside this cart, so the total is zero
// and the booking counts as prepaid.
func finalTotal(net decimal.Decimal, declared *decimal.Decimal, basket json.RawMessage) (decimal.Decimal, bool) {
	total := net
	if declared != nil {
		if declared.IsZero() {
			return decimal.Zero, true
		}
		total = decimal.Min(total, *declared)
	}
	if b, ok := basketTotal(basket); ok {
		if !b.IsPositive() {
			return decimal.Zero, true
		}
		total = decimal.Min(total, b)
	}
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2), total.IsZero()
}
