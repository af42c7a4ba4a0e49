package datatype

import (
	"math"
	"time"
)

// Interval is a closed float interval used to propagate bounds through
// arithmetic. Infinite endpoints mean unbounded.
type Interval struct {
	Lo, Hi float64
}

// FullInterval is the unbounded interval.
var FullInterval = Interval{Lo: math.Inf(-1), Hi: math.Inf(1)}

// BoundsOf returns the numeric interval of t, unwrapping Optional. Booleans
// count as [0 1]. The second result is false for non-numeric types.
func BoundsOf(t DataType) (Interval, bool) {
	inner, _ := Unwrap(t)
	switch x := inner.(type) {
	case Integer:
		return Interval{Lo: intToFloat(x.Min), Hi: intToFloat(x.Max)}, true
	case Float:
		return Interval{Lo: x.Min, Hi: x.Max}, true
	case Boolean:
		if len(x.PossibleValues) == 1 {
			if x.PossibleValues[0] {
				return Interval{Lo: 1, Hi: 1}, true
			}
			return Interval{Lo: 0, Hi: 0}, true
		}
		return Interval{Lo: 0, Hi: 1}, true
	}
	return FullInterval, false
}

// IsBounded reports whether both endpoints are finite.
func (a Interval) IsBounded() bool {
	return !math.IsInf(a.Lo, 0) && !math.IsInf(a.Hi, 0)
}

// Width is Hi-Lo, possibly +Inf.
func (a Interval) Width() float64 {
	return a.Hi - a.Lo
}

// MaxAbs is the largest absolute value in the interval.
func (a Interval) MaxAbs() float64 {
	return math.Max(math.Abs(a.Lo), math.Abs(a.Hi))
}

// Contains reports whether v lies in the interval.
func (a Interval) Contains(v float64) bool {
	return v >= a.Lo && v <= a.Hi
}

func (a Interval) Add(b Interval) Interval {
	return Interval{Lo: a.Lo + b.Lo, Hi: a.Hi + b.Hi}.sanitize()
}

func (a Interval) Sub(b Interval) Interval {
	return a.Add(b.Neg())
}

func (a Interval) Neg() Interval {
	return Interval{Lo: -a.Hi, Hi: -a.Lo}
}

func (a Interval) Mul(b Interval) Interval {
	return hullOf(mulEnd(a.Lo, b.Lo), mulEnd(a.Lo, b.Hi), mulEnd(a.Hi, b.Lo), mulEnd(a.Hi, b.Hi))
}

// Div is unbounded whenever the divisor may be zero.
func (a Interval) Div(b Interval) Interval {
	if b.Contains(0) {
		return FullInterval
	}
	return hullOf(divEnd(a.Lo, b.Lo), divEnd(a.Lo, b.Hi), divEnd(a.Hi, b.Lo), divEnd(a.Hi, b.Hi))
}

func (a Interval) Abs() Interval {
	switch {
	case a.Lo >= 0:
		return a
	case a.Hi <= 0:
		return a.Neg()
	}
	return Interval{Lo: 0, Hi: math.Max(-a.Lo, a.Hi)}
}

// Hull is the smallest interval containing a and b.
func (a Interval) Hull(b Interval) Interval {
	return Interval{Lo: math.Min(a.Lo, b.Lo), Hi: math.Max(a.Hi, b.Hi)}
}

// Intersect clips a to b; an empty result collapses to b's nearest endpoint.
func (a Interval) Intersect(b Interval) Interval {
	lo, hi := math.Max(a.Lo, b.Lo), math.Min(a.Hi, b.Hi)
	if lo > hi {
		return Interval{Lo: lo, Hi: lo}
	}
	return Interval{Lo: lo, Hi: hi}
}

// Map applies a monotone non-decreasing function to both endpoints.
func (a Interval) Map(f func(float64) float64) Interval {
	return Interval{Lo: f(a.Lo), Hi: f(a.Hi)}.sanitize()
}

// Scale multiplies both endpoints by k.
func (a Interval) Scale(k float64) Interval {
	return a.Mul(Interval{Lo: k, Hi: k})
}

// AsInteger converts the interval to an Integer type, rounding outward and
// saturating at the int64 limits.
func (a Interval) AsInteger() Integer {
	return IntegerRange(SaturateInt(math.Floor(a.Lo)), SaturateInt(math.Ceil(a.Hi)))
}

// AsFloat converts the interval to a Float type.
func (a Interval) AsFloat() Float {
	return FloatRange(a.Lo, a.Hi)
}

func (a Interval) sanitize() Interval {
	if math.IsNaN(a.Lo) {
		a.Lo = math.Inf(-1)
	}
	if math.IsNaN(a.Hi) {
		a.Hi = math.Inf(1)
	}
	return a
}

func hullOf(vals ...float64) Interval {
	out := Interval{Lo: math.Inf(1), Hi: math.Inf(-1)}
	for _, v := range vals {
		if math.IsNaN(v) {
			return FullInterval
		}
		out.Lo = math.Min(out.Lo, v)
		out.Hi = math.Max(out.Hi, v)
	}
	return out
}

// mulEnd treats 0 * inf as 0.
func mulEnd(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a * b
}

func divEnd(a, b float64) float64 {
	if math.IsInf(a, 0) && math.IsInf(b, 0) {
		return math.NaN()
	}
	return a / b
}

// SaturateInt converts f to int64, clamping at the limits.
func SaturateInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// intToFloat maps the int64 limits to infinities.
func intToFloat(v int64) float64 {
	switch v {
	case math.MinInt64:
		return math.Inf(-1)
	case math.MaxInt64:
		return math.Inf(1)
	}
	return float64(v)
}

func timeWithin(lo, hi, outerLo, outerHi time.Time) bool {
	if !outerLo.IsZero() && (lo.IsZero() || lo.Before(outerLo)) {
		return false
	}
	if !outerHi.IsZero() && (hi.IsZero() || hi.After(outerHi)) {
		return false
	}
	return true
}

func timeHull(aLo, aHi, bLo, bHi time.Time) (time.Time, time.Time) {
	var lo, hi time.Time
	if !aLo.IsZero() && !bLo.IsZero() {
		lo = aLo
		if bLo.Before(lo) {
			lo = bLo
		}
	}
	if !aHi.IsZero() && !bHi.IsZero() {
		hi = aHi
		if bHi.After(hi) {
			hi = bHi
		}
	}
	return lo, hi
}
