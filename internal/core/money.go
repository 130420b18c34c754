// Package core defines the domain types of the recurring-transaction
// system: calendar dates, money amounts, recurrence rules and the expense
// records they generate.
//
// Amounts are carried as integer cents to keep arithmetic exact; decimal
// strings only appear at the API boundary.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a positive amount in cents.
type Money struct {
	Cents int64
}

// maxAmountCents bounds parsed amounts well below int64 overflow.
const maxAmountCents = int64(1) << 50

// ParseAmount converts a decimal string to Money with half-up rounding on
// the third decimal place. Both dot and comma decimal separators are
// accepted. Zero and negative amounts are rejected.
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsPositive() || cents.GreaterThan(decimal.NewFromInt(maxAmountCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the amount as an exact decimal value in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount as a plain decimal, e.g. "12.34".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a decimal string, e.g. "4.50".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or bare number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
