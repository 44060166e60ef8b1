package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

// ParseMinor converts an upstream decimal amount string (e.g. "1250.75",
// "-43.20") into currency minor units. Upstream platforms disagree on sign
// conventions, so the sign is preserved here and interpreted by the caller.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if value.Exponent() < -2 {
		return 0, ErrTooManyDecimals
	}
	return value.Shift(2).IntPart(), nil
}

// Abs returns the unsigned magnitude of a minor-unit amount.
func Abs(minor int64) int64 {
	if minor < 0 {
		return -minor
	}
	return minor
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/100, value%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}
