package common

import "math"

// https://stackoverflow.com/questions/18390266/how-can-we-truncate-float64-type-to-a-particular-precision
// Round rounds half away from zero.
// Note that this differs from Python's round (half to even) for x.5 values.
func Round(num float64) int {
	return int(num + math.Copysign(0.5, num))
}

// RoundHalfEven rounds to the nearest integer, ties to even,
// so 18.5 rounds to 18 and 15.5 to 16.
func RoundHalfEven(num float64) int {
	return int(math.RoundToEven(num))
}

func DecimalToFixed(num float64, precision int) float64 {
	output := math.Pow(10, float64(precision))
	return float64(Round(num*output)) / output
}

// Clamp returns v bounded by [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ClampInt returns v bounded by [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsFinite returns false for NaN and +/-Inf.
func IsFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
