package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of fractional digits an amount may carry.
const MinorUnits = 2

// MaxAmount is the largest single amount accepted. Its minor units, and the
// per-user running totals built from them, stay well inside int64.
var MaxAmount = decimal.New(1, 12)

// ToMinor converts an amount to integer minor units (e.g. paise).
// The amount must already satisfy ValidateAmount.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(MinorUnits).IntPart()
}

// FromMinor converts integer minor units back to a decimal amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -MinorUnits)
}

// ValidateAmount checks that an amount is strictly positive, has at most
// two fractional digits and does not exceed MaxAmount.
func ValidateAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%s must be greater than 0, got %s: %w", field, d.String(), ErrInvalidArgument)
	}
	if !d.Equal(d.Round(MinorUnits)) {
		return fmt.Errorf("%s must have at most %d decimal places, got %s: %w", field, MinorUnits, d.String(), ErrInvalidArgument)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%s must be at most %s, got %s: %w", field, MaxAmount.StringFixed(MinorUnits), d.String(), ErrInvalidArgument)
	}
	return nil
}
