package money

import (
	"database/sql/driver"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"referral-bot/internal/errs"
)

// Precision is the number of fractional digits an Amount carries.
const Precision = 2

const scale = 100

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Amount is a fixed-point monetary value stored as hundredths of a unit
// (stars or rubles). It is never represented as a float.
type Amount int64

// Units builds an Amount from whole units.
func Units(n int64) Amount {
	return Amount(n * scale)
}

// Parse reads a decimal string like "50", "0.1" or "12,50".
// More than Precision fractional digits is rejected rather than rounded.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(normalize(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -Precision && !d.Equal(d.Truncate(Precision)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d fractional digits", s, Precision)
	}
	minor := d.Shift(Precision)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("amount %q out of range: %w", s, errs.ErrInvalidAmount)
	}
	return Amount(minor.IntPart()), nil
}

func normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case ' ', '\t':
		case ',':
			out = append(out, '.')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Decimal converts the amount for formatting and arithmetic in display code.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Precision)
}

// String renders the amount without trailing zeros: 5, 0.1, 12.5.
func (a Amount) String() string {
	return a.Decimal().String()
}

func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) Neg() Amount { return -a }

// Value implements driver.Valuer so gorm stores the raw minor units.
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = 0
	case int64:
		*a = Amount(v)
	case int32:
		*a = Amount(v)
	case int:
		*a = Amount(v)
	case float64:
		*a = Amount(int64(v))
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("scan amount: %w", err)
		}
		*a = Amount(d.IntPart())
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan amount: %w", err)
		}
		*a = Amount(d.IntPart())
	default:
		return fmt.Errorf("scan amount: unsupported type %T", src)
	}
	return nil
}
