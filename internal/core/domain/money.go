package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every amount is held to.
const MoneyScale = 2

// ValidAmount reports whether a is a positive amount with at most two decimal places.
func ValidAmount(a decimal.Decimal) bool {
	return a.IsPositive() && a.Equal(a.Truncate(MoneyScale))
}

// ParseAmount parses a decimal string. It does not check sign or scale.
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
