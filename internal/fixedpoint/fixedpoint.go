// Package fixedpoint implements the signed 17.14 fixed-point numbers used by
// the feedback-queue scheduler for load_avg and recent_cpu.
//
// Values are stored in 32 bits. Products and quotients are computed in 64
// bits and narrowed once, so only a final result outside the 17.14 range
// can wrap. Chains that scale up and back down, such as MulDivInt and
// Hundredths, never narrow the scaled intermediate.
package fixedpoint

import "fmt"

// FractionBits is the number of fractional bits.
const FractionBits = 14

// Fixed is a 17.14 fixed-point number.
type Fixed int32

// One is 1.0 in fixed point.
const One Fixed = 1 << FractionBits

// FromInt converts an integer to fixed point.
func FromInt(n int) Fixed {
	return Fixed(int64(n) << FractionBits)
}

// Int converts to an integer, rounding toward zero.
func (x Fixed) Int() int {
	return int(int64(x) / int64(One))
}

// Round converts to the nearest integer, rounding halves away from zero.
func (x Fixed) Round() int {
	if x >= 0 {
		return int((int64(x) + int64(One)/2) / int64(One))
	}
	return int((int64(x) - int64(One)/2) / int64(One))
}

// Add returns x + y.
func (x Fixed) Add(y Fixed) Fixed { return x + y }

// Sub returns x - y.
func (x Fixed) Sub(y Fixed) Fixed { return x - y }

// AddInt returns x + n.
func (x Fixed) AddInt(n int) Fixed { return x + FromInt(n) }

// SubInt returns x - n.
func (x Fixed) SubInt(n int) Fixed { return x - FromInt(n) }

// Mul returns x * y.
func (x Fixed) Mul(y Fixed) Fixed {
	return Fixed(int64(x) * int64(y) / int64(One))
}

// MulInt returns x * n.
func (x Fixed) MulInt(n int) Fixed {
	return Fixed(int64(x) * int64(n))
}

// MulDivInt returns x * num / den with the product held in 64 bits.
// den must not be zero.
func (x Fixed) MulDivInt(num, den int) Fixed {
	return Fixed(int64(x) * int64(num) / int64(den))
}

// Div returns x / y. y must not be zero.
func (x Fixed) Div(y Fixed) Fixed {
	return Fixed(int64(x) * int64(One) / int64(y))
}

// DivInt returns x / n. n must not be zero.
func (x Fixed) DivInt(n int) Fixed {
	return Fixed(int64(x) / int64(n))
}

// Hundredths returns 100*x rounded to the nearest integer, the form in
// which load_avg and recent_cpu are reported.
func (x Fixed) Hundredths() int {
	v := int64(x) * 100
	if v >= 0 {
		return int((v + int64(One)/2) / int64(One))
	}
	return int((v - int64(One)/2) / int64(One))
}

// Float64 converts to a float for display.
func (x Fixed) Float64() float64 {
	return float64(x) / float64(One)
}

func (x Fixed) String() string {
	return fmt.Sprintf("%.4f", x.Float64())
}
