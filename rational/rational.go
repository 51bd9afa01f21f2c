// Package rational implements the exact fraction arithmetic required by
// the Section 273 count. Every transfer value and tally in the count is
// a Rational; none of them ever touch a floating point type.
package rational

import (
	"fmt"
	"math/big"
)

// Rational is an exact fraction, always kept in canonical (reduced,
// positive-denominator) form.
type Rational struct {
	r big.Rat
}

// Zero is the additive identity.
var Zero = FromInt(0)

// One is the multiplicative identity.
var One = FromInt(1)

// FromInt builds a Rational equal to n/1.
func FromInt(n int64) Rational {
	var r Rational
	r.r.SetInt64(n)
	return r
}

// FromFraction builds a Rational equal to num/den. It panics if den is
// zero, mirroring big.Rat's own behaviour; every call site in this
// codebase passes a literal, non-zero denominator.
func FromFraction(num, den int64) Rational {
	var r Rational
	r.r.SetFrac64(num, den)
	return r
}

// FromBigInts builds a Rational equal to num/den using arbitrary
// precision integers.
func FromBigInts(num, den *big.Int) Rational {
	var r Rational
	r.r.SetFrac(num, den)
	return r
}

// Add returns a+b.
func Add(a, b Rational) Rational {
	var out Rational
	out.r.Add(&a.r, &b.r)
	return out
}

// Sub returns a-b.
func Sub(a, b Rational) Rational {
	var out Rational
	out.r.Sub(&a.r, &b.r)
	return out
}

// Mul returns a*b.
func Mul(a, b Rational) Rational {
	var out Rational
	out.r.Mul(&a.r, &b.r)
	return out
}

// Div returns a/b. It panics on division by zero; see FromFraction.
func Div(a, b Rational) Rational {
	var out Rational
	out.r.Quo(&a.r, &b.r)
	return out
}

// Cmp returns -1, 0 or +1 as a is less than, equal to, or greater than b.
func Cmp(a, b Rational) int {
	return a.r.Cmp(&b.r)
}

// Equal reports whether a and b denote the same value.
func Equal(a, b Rational) bool {
	return Cmp(a, b) == 0
}

// LessThan reports whether a < b.
func LessThan(a, b Rational) bool {
	return Cmp(a, b) < 0
}

// GreaterThanOrEqual reports whether a >= b.
func GreaterThanOrEqual(a, b Rational) bool {
	return Cmp(a, b) >= 0
}

// IsNegative reports whether a < 0.
func (a Rational) IsNegative() bool {
	return a.r.Sign() < 0
}

// IsZero reports whether a == 0.
func (a Rational) IsZero() bool {
	return a.r.Sign() == 0
}

// Floor returns the greatest integer <= a, and the remainder a-floor(a)
// as a Rational in [0,1). This is the "integer division (with
// remainder)" and "floor" operation spec.md §4.1 requires.
func (a Rational) Floor() (floor *big.Int, remainder Rational) {
	num := a.r.Num()
	den := a.r.Denom()

	q := new(big.Int)
	m := new(big.Int)
	q.DivMod(num, den, m) // Euclidean division: 0 <= m < den for den > 0.

	var rem Rational
	rem.r.SetFrac(m, den)
	return q, rem
}

// FloorInt returns Floor truncated to an int. It is a convenience used
// where the spec's formulas (e.g. the Droop quota) are known to fit in
// a machine int given realistic election sizes.
func (a Rational) FloorInt() int {
	f, _ := a.Floor()
	return int(f.Int64())
}

// Min returns the smaller of a and b, capping rule used by the transfer
// value formula (spec.md §4.1: "the TV of a redistributed parcel is
// capped at its incoming TV").
func Min(a, b Rational) Rational {
	if LessThan(a, b) {
		return a
	}
	return b
}

// String renders the value as "p/q" in fully reduced form, per spec.md
// §6's wire format for rationals.
func (a Rational) String() string {
	return a.r.String()
}

// Decimal renders a truncated (never rounded) decimal approximation
// with the given number of fractional digits, for display only. The
// count itself must never depend on this value (spec.md §4.1).
func (a Rational) Decimal(digits int) string {
	neg := a.r.Sign() < 0
	num := new(big.Int).Abs(a.r.Num())
	den := a.r.Denom()

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	scaled := new(big.Int).Mul(num, scale)
	q := new(big.Int).Quo(scaled, den)

	s := q.String()
	for len(s) <= digits {
		s = "0" + s
	}
	intPart := s[:len(s)-digits]
	fracPart := s[len(s)-digits:]

	out := intPart
	if digits > 0 {
		out = fmt.Sprintf("%s.%s", intPart, fracPart)
	}
	if neg && (intPart != "0" || fracPart != "") {
		out = "-" + out
	}
	return out
}

// MarshalJSON renders the Rational as a JSON string "p/q", per spec.md
// §6 ("Rationals are serialised as strings... to avoid any
// binary-representation loss").
func (a Rational) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string "p/q" back into a Rational.
func (a *Rational) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("rational: invalid JSON %q, expected a quoted p/q string", data)
	}
	s := string(data[1 : len(data)-1])
	if _, ok := a.r.SetString(s); !ok {
		return fmt.Errorf("rational: cannot parse %q as a fraction", s)
	}
	return nil
}
