// Package fraction provides exact rational arithmetic for media timestamps
// and frame rates, avoiding the rounding drift that floating point
// accumulates over long-running streams.
package fraction

import (
	"fmt"
	"strconv"
	"strings"
)

// Fraction is a signed rational number Num/Den. Den is always kept positive
// and the pair reduced to lowest terms by Reduce.
type Fraction struct {
	Num int64
	Den int64
}

// New returns num/den reduced to lowest terms with a positive denominator.
// A zero denominator panics: a fraction with no denominator is a
// programming error, not a runtime condition to recover from.
func New(num, den int64) Fraction {
	if den == 0 {
		panic("fraction: zero denominator")
	}
	return Fraction{Num: num, Den: den}.Reduce()
}

// Zero is the additive identity.
var Zero = Fraction{Num: 0, Den: 1}

// Reduce divides Num and Den by their GCD and normalizes the sign so Den > 0.
func (f Fraction) Reduce() Fraction {
	if f.Den < 0 {
		f.Num, f.Den = -f.Num, -f.Den
	}
	g := gcd(abs(f.Num), f.Den)
	if g == 0 {
		return Fraction{Num: 0, Den: 1}
	}
	return Fraction{Num: f.Num / g, Den: f.Den / g}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}

// Add returns f+o.
func (f Fraction) Add(o Fraction) Fraction {
	return New(f.Num*o.Den+o.Num*f.Den, f.Den*o.Den)
}

// Sub returns f-o.
func (f Fraction) Sub(o Fraction) Fraction {
	return New(f.Num*o.Den-o.Num*f.Den, f.Den*o.Den)
}

// Mul returns f*o.
func (f Fraction) Mul(o Fraction) Fraction {
	return New(f.Num*o.Num, f.Den*o.Den)
}

// MulInt returns f*n.
func (f Fraction) MulInt(n int64) Fraction {
	return New(f.Num*n, f.Den)
}

// Inverse returns 1/f. Panics if f is zero.
func (f Fraction) Inverse() Fraction {
	if f.Num == 0 {
		panic("fraction: inverse of zero")
	}
	return New(f.Den, f.Num)
}

// Cmp returns -1, 0 or 1 as f is less than, equal to, or greater than o.
func (f Fraction) Cmp(o Fraction) int {
	lhs := f.Num * o.Den
	rhs := o.Num * f.Den
	switch {
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	default:
		return 0
	}
}

// ToFloat returns the floating point approximation of f.
func (f Fraction) ToFloat() float64 {
	return float64(f.Num) / float64(f.Den)
}

// ToTicks converts the fraction (interpreted as seconds) to an integer tick
// count at the given rate (ticks per second), truncating towards zero.
func (f Fraction) ToTicks(rate int64) int64 {
	return (f.Num * rate) / f.Den
}

// FromTicks builds a Fraction of seconds from a tick count at the given rate.
func FromTicks(ticks, rate int64) Fraction {
	return New(ticks, rate)
}

// String renders the fraction as "num/den".
func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Parse parses a "num/den" or plain integer string into a Fraction.
func Parse(s string) (Fraction, error) {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		num, err := strconv.ParseInt(s[:idx], 10, 64)
		if err != nil {
			return Fraction{}, fmt.Errorf("fraction: invalid numerator %q: %w", s, err)
		}
		den, err := strconv.ParseInt(s[idx+1:], 10, 64)
		if err != nil {
			return Fraction{}, fmt.Errorf("fraction: invalid denominator %q: %w", s, err)
		}
		return New(num, den), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Fraction{}, fmt.Errorf("fraction: invalid value %q: %w", s, err)
	}
	return New(n, 1), nil
}
