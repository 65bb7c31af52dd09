package currency

import (
	"fmt"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/subscription-billing/internal"
)

// Moyasar deals exclusively in integral minor units (halalas for SAR);
// 1 major unit = 100 minor units for every currency we charge in.
const minorUnitsPerMajor = 100

var hundred = decimal.NewFromInt(minorUnitsPerMajor)

// ToMinorUnit converts a display-currency amount to the gateway's integral
// minor unit, rounding half-up. Negative amounts are rejected.
func ToMinorUnit(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, errors.NewValidationError(
			fmt.Sprintf("amount cannot be negative: %s", amount.String()),
			errors.ErrCodeInvalidAmount,
		)
	}
	// Round(0) is half away from zero, which equals half-up for the
	// non-negative values that survive the guard above.
	return amount.Mul(hundred).Round(0).IntPart(), nil
}

// ToMajorUnit converts an integral minor-unit amount back to display currency.
func ToMajorUnit(minor int64) (decimal.Decimal, error) {
	if minor < 0 {
		return decimal.Zero, errors.NewValidationError(
			fmt.Sprintf("minor-unit amount cannot be negative: %d", minor),
			errors.ErrCodeInvalidAmount,
		)
	}
	return decimal.NewFromInt(minor).Div(hundred), nil
}

// ParseAmount parses caller-supplied amount text. Anything non-numeric or
// negative fails with the converter's InvalidAmount code.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.NewValidationError(
			fmt.Sprintf("amount is not numeric: %q", s),
			errors.ErrCodeInvalidAmount,
		).WithCause(err)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.NewValidationError(
			fmt.Sprintf("amount cannot be negative: %s", d.String()),
			errors.ErrCodeInvalidAmount,
		)
	}
	return d, nil
}
