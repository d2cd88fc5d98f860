package schema

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidDecimal is returned for text that is not a decimal literal.
var ErrInvalidDecimal = errors.New("invalid decimal")

// Decimal is an exact decimal number: value = coefficient * 10^(-scale).
//
// Decimal is IMMUTABLE; the zero value is 0. Values travel as strings in
// JSON and MessagePack unless the encoder is configured for numbers.
type Decimal struct {
	coef  *big.Int
	scale int32
}

// NewDecimal returns coef * 10^(-scale).
func NewDecimal(coef *big.Int, scale int32) Decimal {
	return Decimal{coef: new(big.Int).Set(coef), scale: scale}
}

// DecimalFromInt64 returns v as a decimal with scale 0.
func DecimalFromInt64(v int64) Decimal {
	return Decimal{coef: big.NewInt(v)}
}

// DecimalFromFloat64 returns the shortest decimal that round-trips to f.
func DecimalFromFloat64(f float64) (Decimal, error) {
	return ParseDecimal(strconv.FormatFloat(f, 'g', -1, 64))
}

// ParseDecimal parses [+-]digits[.digits][e[+-]digits].
func ParseDecimal(s string) (Decimal, error) {
	orig := s
	if s == "" {
		return Decimal{}, ErrInvalidDecimal
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	exp := int64(0)
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		e, err := strconv.ParseInt(s[i+1:], 10, 32)
		if err != nil {
			return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, orig)
		}
		exp = e
		s = s[:i]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, orig)
	}
	for _, part := range []string{intPart, fracPart} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, orig)
			}
		}
	}
	coef, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, orig)
	}
	if neg {
		coef.Neg(coef)
	}
	scale := int64(len(fracPart)) - exp
	if scale > 1<<31-1 || scale < -(1<<31) {
		return Decimal{}, fmt.Errorf("%w: exponent out of range", ErrInvalidDecimal)
	}
	return Decimal{coef: coef, scale: int32(scale)}, nil
}

// Coefficient returns a copy of the unscaled value.
func (d Decimal) Coefficient() *big.Int {
	if d.coef == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.coef)
}

// Scale returns the number of digits after the decimal point.
func (d Decimal) Scale() int32 { return d.scale }

// String returns the plain (non-exponent) text form. Negative scales are
// written with an exponent to avoid expanding huge magnitudes.
func (d Decimal) String() string {
	c := d.Coefficient()
	if d.scale == 0 {
		return c.String()
	}
	if d.scale < 0 {
		return c.String() + "E+" + strconv.Itoa(int(-d.scale))
	}
	digits := c.String()
	neg := false
	if digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}
	for len(digits) < int(d.scale)+1 {
		digits = "0" + digits
	}
	at := len(digits) - int(d.scale)
	out := digits[:at] + "." + digits[at:]
	if neg {
		out = "-" + out
	}
	return out
}

// Float64 returns the nearest float64.
func (d Decimal) Float64() float64 {
	f, _ := strconv.ParseFloat(d.String(), 64)
	return f
}

// Cmp compares numerically: -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int {
	a, b := d.Coefficient(), o.Coefficient()
	switch {
	case d.scale < o.scale:
		a.Mul(a, pow10(int64(o.scale)-int64(d.scale)))
	case d.scale > o.scale:
		b.Mul(b, pow10(int64(d.scale)-int64(o.scale)))
	}
	return a.Cmp(b)
}

// Equal reports numeric equality (1.0 equals 1.00).
func (d Decimal) Equal(o Decimal) bool { return d.Cmp(o) == 0 }

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool { return d.coef == nil || d.coef.Sign() == 0 }

// Sign returns -1, 0 or +1.
func (d Decimal) Sign() int {
	if d.coef == nil {
		return 0
	}
	return d.coef.Sign()
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal) UnmarshalText(b []byte) error {
	v, err := ParseDecimal(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalJSON accepts JSON strings and numbers.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return d.UnmarshalText([]byte(s))
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
