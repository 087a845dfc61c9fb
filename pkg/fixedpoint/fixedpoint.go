// Package fixedpoint defines the exact-precision decimal type used
// throughout the streaming engine for prices and sizes.
//
// Binary floating point is never used on the order book data path: prices
// are ladder keys and feed a cryptographic digest, so two representations
// of "the same" price must compare exactly equal. FixedDecimal wraps
// shopspring/decimal, which stores an arbitrary-precision integer
// coefficient plus a power-of-ten exponent, giving exact equality instead
// of float64's rounding.
package fixedpoint

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FixedDecimal is an arbitrary-precision signed decimal with exact equality.
// The zero value is the decimal zero, which is a valid (if unusual) value.
type FixedDecimal struct {
	d decimal.Decimal
}

// Zero is the sentinel "remove this level" size.
var Zero = FixedDecimal{d: decimal.Zero}

// Parse reads a decimal from its canonical or numeric string form,
// e.g. "0.52", "10", "-1.5". Returns an error for non-numeric input.
func Parse(s string) (FixedDecimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return FixedDecimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return FixedDecimal{d: d}, nil
}

// FromFloat builds a FixedDecimal from a float64. The wire decoder does not
// use it (numeric JSON literals are parsed from their exact text); prefer
// Parse for anything that arrived as text.
func FromFloat(f float64) FixedDecimal {
	return FixedDecimal{d: decimal.NewFromFloat(f)}
}

// FromInt builds a FixedDecimal from an integer, exact by construction.
func FromInt(i int64) FixedDecimal {
	return FixedDecimal{d: decimal.NewFromInt(i)}
}

// IsZero reports whether the value is exactly zero.
func (f FixedDecimal) IsZero() bool { return f.d.IsZero() }

// Sign returns -1, 0, or 1.
func (f FixedDecimal) Sign() int { return f.d.Sign() }

// Positive reports whether the value is strictly greater than zero.
func (f FixedDecimal) Positive() bool { return f.d.Sign() > 0 }

// Equal reports exact equality (same numeric value, any scale).
func (f FixedDecimal) Equal(o FixedDecimal) bool { return f.d.Equal(o.d) }

// Cmp compares two values: -1, 0, or 1.
func (f FixedDecimal) Cmp(o FixedDecimal) int { return f.d.Cmp(o.d) }

// LessThan reports f < o.
func (f FixedDecimal) LessThan(o FixedDecimal) bool { return f.d.Cmp(o.d) < 0 }

// GreaterThanOrEqual reports f >= o.
func (f FixedDecimal) GreaterThanOrEqual(o FixedDecimal) bool { return f.d.Cmp(o.d) >= 0 }

// Add returns f + o.
func (f FixedDecimal) Add(o FixedDecimal) FixedDecimal { return FixedDecimal{d: f.d.Add(o.d)} }

// Sub returns f - o.
func (f FixedDecimal) Sub(o FixedDecimal) FixedDecimal { return FixedDecimal{d: f.d.Sub(o.d)} }

// Mul returns f * o.
func (f FixedDecimal) Mul(o FixedDecimal) FixedDecimal { return FixedDecimal{d: f.d.Mul(o.d)} }

// Div returns f / o.
func (f FixedDecimal) Div(o FixedDecimal) FixedDecimal { return FixedDecimal{d: f.d.Div(o.d)} }

// Float64 returns the nearest float64, only for display/derived metrics
// (mid price, spread bps) that never feed back into book state or the digest.
func (f FixedDecimal) Float64() float64 {
	v, _ := f.d.Float64()
	return v
}

// Canonical renders the value with no leading zeros beyond one. A
// non-negative scale truncates toward zero to at most `scale` fractional
// digits; a negative scale keeps the value's own minimal representation,
// with trailing fractional zeros removed. An integral value is rendered
// without a decimal point ("10", not "10.0").
func (f FixedDecimal) Canonical(scale int32) string {
	v := f.d
	if scale >= 0 {
		v = v.Truncate(scale)
	}
	s := v.String()
	// decimal.String() already avoids leading zeros and uses '.', but can
	// carry trailing zeros when Truncate pads to a fixed scale; strip them
	// back down to the minimal exact representation unless scale was
	// explicitly requested (tick precision must be preserved verbatim).
	if scale < 0 && strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
		if s == "" || s == "-" {
			s += "0"
		}
	}
	return s
}

// String renders the canonical minimal representation (scale = -1).
func (f FixedDecimal) String() string { return f.Canonical(-1) }

// RoundToTick truncates f toward zero to the nearest multiple of tick.
// Used when a TickSizeChange leaves existing ladder entries unaligned.
func (f FixedDecimal) RoundToTick(tick FixedDecimal) FixedDecimal {
	if tick.IsZero() {
		return f
	}
	quotient := f.d.Div(tick.d).Truncate(0)
	return FixedDecimal{d: quotient.Mul(tick.d)}
}

// MarshalText implements encoding.TextMarshaler so FixedDecimal can be used
// directly as a map key in encoding/gob-serialized recorder records and in
// JSON payloads without losing precision.
func (f FixedDecimal) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FixedDecimal) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// GobEncode implements gob.GobEncoder, routing through the same canonical
// text form as JSON/recorder persistence so a FixedDecimal round-trips
// through encoding/gob-based session records without precision loss (the
// wrapped decimal.Decimal has no exported fields for gob to see directly).
func (f FixedDecimal) GobEncode() ([]byte, error) {
	return f.MarshalText()
}

// GobDecode implements gob.GobDecoder.
func (f *FixedDecimal) GobDecode(data []byte) error {
	return f.UnmarshalText(data)
}
