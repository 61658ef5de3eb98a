package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every amount.
const Scale = 2

var ErrInvalidAmount = errors.New("invalid_amount")

var hundred = decimal.NewFromInt(100)

// Money is a currency amount with cent precision.
// The zero value is a valid zero amount.
type Money struct {
	d decimal.Decimal
}

func Zero() Money { return Money{} }

// New rounds d to cents.
func New(d decimal.Decimal) Money {
	return Money{d: d.Round(Scale)}
}

// FromMinor builds an amount from integer cents.
func FromMinor(cents int64) Money {
	return Money{d: decimal.New(cents, -Scale)}
}

// FromFloat converts a float, rejecting NaN and infinities.
func FromFloat(v float64) (Money, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Money{}, ErrInvalidAmount
	}
	return New(decimal.NewFromFloat(v)), nil
}

// Parse reads a decimal string such as "230.00".
func Parse(value string) (Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidAmount, value)
	}
	return New(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(value string) Money {
	m, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// MultiplyByRate applies a percentage expressed in percent units (2 means 2%).
func (m Money) MultiplyByRate(percentage decimal.Decimal) Money {
	return New(m.d.Mul(percentage).Div(hundred))
}

// Mul multiplies by an arbitrary factor and rounds to cents.
func (m Money) Mul(factor decimal.Decimal) Money {
	return New(m.d.Mul(factor))
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

func (m Money) RoundToCents() Money { return New(m.d) }

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) IsNegative() bool { return m.d.IsNegative() }

func (m Money) Decimal() decimal.Decimal { return m.d }

// Minor returns the amount in integer cents.
func (m Money) Minor() int64 {
	return m.d.Shift(Scale).Round(0).IntPart()
}

func (m Money) String() string { return m.d.StringFixed(Scale) }

// Sum adds amounts left to right.
func Sum(values ...Money) Money {
	total := Zero()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Value stores amounts as integer cents.
func (m Money) Value() (driver.Value, error) {
	return m.Minor(), nil
}

func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Zero()
	case int64:
		*m = FromMinor(v)
	case int32:
		*m = FromMinor(int64(v))
	case int:
		*m = FromMinor(int64(v))
	case float64:
		*m = FromMinor(int64(math.Round(v)))
	case []byte:
		return m.scanString(string(v))
	case string:
		return m.scanString(v)
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
	return nil
}

func (m *Money) scanString(v string) error {
	cents, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err == nil {
		*m = FromMinor(cents)
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = FromMinor(d.Round(0).IntPart())
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Zero()
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// GormDataType keeps migrations on an integer column.
func (Money) GormDataType() string { return "bigint" }
