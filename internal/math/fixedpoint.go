// internal/math/fixedpoint.go
package math

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"PerpAMM/internal/errs"

	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32 // Number of decimal places
}

var (
	// WadConfig is the contract's integer representation: value * 10^18.
	WadConfig = DecimalConfig{DecimalPrecision: 18}
	// QuotientConfig is the precision every division is rounded to.
	QuotientConfig = DecimalConfig{DecimalPrecision: 20}
)

type RoundingMode int

const (
	RoundHalfUp RoundingMode = iota // ties away from zero
	RoundDown                       // toward zero
)

// Decimal is an arbitrary-precision signed decimal. Addition, subtraction and
// multiplication are exact; division is rounded half-up to
// QuotientConfig.DecimalPrecision places. Any other truncation is explicit
// through Round.
//
// The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

var (
	Zero = Decimal{}
	One  = New(1)
	Two  = New(2)
)

// New returns i as a Decimal.
func New(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i)}
}

// NewFromString parses a plain or exponent-form decimal string.
func NewFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, errs.InvalidArgument("invalid decimal %q", s)
	}
	return Decimal{d: d}, nil
}

// MustFromString panics if s does not parse. Intended for constants and tests.
func MustFromString(s string) Decimal {
	d, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromWad de-scales a raw contract integer (value * 10^18).
func FromWad(raw *big.Int) Decimal {
	if raw == nil {
		return Zero
	}
	return Decimal{d: decimal.NewFromBigInt(raw, -WadConfig.DecimalPrecision)}
}

// ToWad re-scales to the contract integer representation, truncating toward zero.
func (x Decimal) ToWad() *big.Int {
	return x.d.Shift(WadConfig.DecimalPrecision).BigInt()
}

func (x Decimal) Add(y Decimal) Decimal { return Decimal{d: x.d.Add(y.d)} }
func (x Decimal) Sub(y Decimal) Decimal { return Decimal{d: x.d.Sub(y.d)} }
func (x Decimal) Mul(y Decimal) Decimal { return Decimal{d: x.d.Mul(y.d)} }

// Div returns x / y rounded half-up to QuotientConfig places.
// Callers must rule out y == 0; it panics otherwise.
func (x Decimal) Div(y Decimal) Decimal {
	return Decimal{d: x.d.DivRound(y.d, QuotientConfig.DecimalPrecision)}
}

func (x Decimal) Neg() Decimal { return Decimal{d: x.d.Neg()} }
func (x Decimal) Abs() Decimal { return Decimal{d: x.d.Abs()} }

// Shift multiplies by 10^n exactly.
func (x Decimal) Shift(n int32) Decimal { return Decimal{d: x.d.Shift(n)} }

// Round rounds to the given number of decimal places.
func (x Decimal) Round(places int32, mode RoundingMode) Decimal {
	switch mode {
	case RoundDown:
		return Decimal{d: x.d.Truncate(places)}
	default:
		return Decimal{d: x.d.Round(places)}
	}
}

// RoundWad rounds half-up to the contract's 18 places.
func (x Decimal) RoundWad() Decimal {
	return x.Round(WadConfig.DecimalPrecision, RoundHalfUp)
}

func (x Decimal) Sign() int                      { return x.d.Sign() }
func (x Decimal) Equal(y Decimal) bool           { return x.d.Equal(y.d) }
func (x Decimal) IsZero() bool                   { return x.d.IsZero() }
func (x Decimal) IsPositive() bool               { return x.d.IsPositive() }
func (x Decimal) IsNegative() bool               { return x.d.IsNegative() }
func (x Decimal) LessThan(y Decimal) bool        { return x.d.LessThan(y.d) }
func (x Decimal) LessThanOrEqual(y Decimal) bool { return x.d.LessThanOrEqual(y.d) }
func (x Decimal) GreaterThan(y Decimal) bool     { return x.d.GreaterThan(y.d) }
func (x Decimal) GreaterThanOrEqual(y Decimal) bool {
	return x.d.GreaterThanOrEqual(y.d)
}

// BigInt returns the integer part, truncated toward zero.
func (x Decimal) BigInt() *big.Int { return x.d.BigInt() }

// IntPart returns the integer part as int64, truncated toward zero.
func (x Decimal) IntPart() int64 { return x.d.IntPart() }

// Float64 is lossy; use only for metrics and logs.
func (x Decimal) Float64() float64 {
	f, _ := x.d.Float64()
	return f
}

func (x Decimal) String() string { return x.d.String() }

func (x Decimal) MarshalJSON() ([]byte, error) { return x.d.MarshalJSON() }

func (x *Decimal) UnmarshalJSON(data []byte) error {
	if err := x.d.UnmarshalJSON(data); err != nil {
		return errs.InvalidArgument("invalid decimal %s", string(data))
	}
	return nil
}

// Value implements driver.Valuer so decimals map onto NUMERIC columns.
func (x Decimal) Value() (driver.Value, error) { return x.d.Value() }

// Scan implements sql.Scanner.
func (x *Decimal) Scan(value interface{}) error {
	if err := x.d.Scan(value); err != nil {
		return fmt.Errorf("scan decimal: %w", err)
	}
	return nil
}

func Max(x, y Decimal) Decimal {
	if x.GreaterThan(y) {
		return x
	}
	return y
}

func Min(x, y Decimal) Decimal {
	if x.LessThan(y) {
		return x
	}
	return y
}

// HasTheSameSign reports whether x and y do not have strictly opposite signs.
// Zero has the same sign as everything.
func HasTheSameSign(x, y Decimal) bool {
	if x.IsZero() || y.IsZero() {
		return true
	}
	return x.Sign() == y.Sign()
}

// Ratio is a non-negative quantity that may legitimately be infinite
// (leverage and margin ratio once the margin is exhausted).
type Ratio struct {
	Value Decimal
	Inf   bool
}

// Infinity is the +Inf ratio.
var Infinity = Ratio{Inf: true}

func FiniteRatio(v Decimal) Ratio {
	return Ratio{Value: v}
}

func (r Ratio) IsInf() bool { return r.Inf }

func (r Ratio) String() string {
	if r.Inf {
		return "Infinity"
	}
	return r.Value.String()
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Inf {
		return []byte(`"Infinity"`), nil
	}
	return r.Value.MarshalJSON()
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == `"Infinity"` {
		*r = Infinity
		return nil
	}
	r.Inf = false
	return r.Value.UnmarshalJSON(data)
}
