// Package money converts between decimal currency amounts and integer
// minor units (cents). All arithmetic in the engine happens on minor
// units; binary floating point is never used for scaling, so sums of
// minor-unit integers can never reintroduce rounding error.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when an amount is not numeric or carries
// more than two fractional digits.
var ErrInvalidAmount = errors.New("money: invalid amount")

// ToMinorUnits parses a decimal amount (e.g. "12.34") into minor units
// (1234). The input must be numeric with at most two fractional digits.
func ToMinorUnits(amount string) (int64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidAmount)
	}

	negative := false
	if s[0] == '+' || s[0] == '-' {
		negative = s[0] == '-'
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}

	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q has more than 2 fractional digits", ErrInvalidAmount, amount)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	// Pad the fraction to exactly two digits so "5", "5.1" and "5.10"
	// all scale to the same integer.
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	// Scaling to cents must not wrap around int64.
	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, amount)
	}

	value := units*100 + cents
	if negative {
		value = -value
	}
	return value, nil
}

// ToDecimal renders minor units as a canonical decimal string with
// exactly two fractional digits (1234 -> "12.34").
func ToDecimal(minorUnits int64) string {
	sign := ""
	if minorUnits < 0 {
		sign = "-"
		minorUnits = -minorUnits
	}
	return fmt.Sprintf("%s%d.%02d", sign, minorUnits/100, minorUnits%100)
}

// FormatDisplay renders minor units as a decimal string with thousands
// grouping (123456789 -> "1,234,567.89").
func FormatDisplay(minorUnits int64) string {
	sign := ""
	if minorUnits < 0 {
		sign = "-"
		minorUnits = -minorUnits
	}

	whole := strconv.FormatInt(minorUnits/100, 10)
	var b strings.Builder
	b.WriteString(sign)
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	fmt.Fprintf(&b, ".%02d", minorUnits%100)
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
