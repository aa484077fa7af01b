package terms

import (
	"fmt"

	"P2PDesk/internal/models"

	"github.com/shopspring/decimal"
)

// tolerance absorbs rounding drift between the server's total and a local
// recompute; anything past eight decimal places is noise for fiat rails.
var tolerance = decimal.New(1, -8)

// Total computes the settlement total for the given requested amount and unit
// price.
func Total(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price)
}

// WithinBounds reports whether amount sits inside the originating offer's
// min/max range. A zero bound means the offer left that side unconstrained.
func WithinBounds(amount, min, max decimal.Decimal) bool {
	if !min.IsZero() && amount.LessThan(min) {
		return false
	}
	if !max.IsZero() && amount.GreaterThan(max) {
		return false
	}
	return true
}

// Verify cross-checks the server-reported terms of an order: the total must
// match amount*price and the amount must respect the offer bounds. Server
// fields are never trusted without this check; a mismatch is reported, not
// corrected, since the server stays authoritative.
func Verify(o *models.Order) error {
	if o.Amount.Sign() <= 0 {
		return fmt.Errorf("amount %s is not positive", o.Amount)
	}
	if o.Price.Sign() <= 0 {
		return fmt.Errorf("price %s is not positive", o.Price)
	}
	want := Total(o.Amount, o.Price)
	if diff := o.Total.Sub(want).Abs(); diff.GreaterThan(tolerance) {
		return fmt.Errorf("total %s does not match %s * %s = %s", o.Total, o.Amount, o.Price, want)
	}
	if !WithinBounds(o.Amount, o.MinAmount, o.MaxAmount) {
		return fmt.Errorf("amount %s outside offer bounds [%s, %s]", o.Amount, o.MinAmount, o.MaxAmount)
	}
	return nil
}
