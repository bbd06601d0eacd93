// Package stats provides the descriptive statistics shared by the feature
// extractors, the baseline calibrator and the threshold engine.
package stats

import (
	"math"
	"sort"
)

// Epsilon stabilizes Z-score denominators when a baseline std is near zero.
const Epsilon = 1e-6

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance (denominator n).
func Variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(xs))
}

// SampleVariance returns the Bessel-corrected variance (denominator n-1).
// Fewer than two values yield 0.
func SampleVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(xs)-1)
}

// Std returns the population standard deviation.
func Std(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// SampleStd returns the Bessel-corrected standard deviation.
func SampleStd(xs []float64) float64 {
	return math.Sqrt(SampleVariance(xs))
}

// Min returns the smallest value, or 0 for an empty slice.
func Min(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// Max returns the largest value, or 0 for an empty slice.
func Max(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// Median returns the median without modifying xs.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := sortedCopy(xs)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Skewness returns the biased sample skewness m3/m2^1.5.
// Degenerate inputs (fewer than 3 values or zero variance) yield 0.
func Skewness(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	m2, m3, _ := centralMoments(xs)
	if m2 == 0 {
		return 0
	}
	return m3 / math.Pow(m2, 1.5)
}

// Kurtosis returns the biased excess (Fisher) kurtosis m4/m2^2 - 3.
// Degenerate inputs (fewer than 4 values or zero variance) yield 0.
func Kurtosis(xs []float64) float64 {
	if len(xs) < 4 {
		return 0
	}
	m2, _, m4 := centralMoments(xs)
	if m2 == 0 {
		return 0
	}
	return m4/(m2*m2) - 3
}

// Percentile returns the p-th percentile (0..100) using linear
// interpolation between closest ranks.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := sortedCopy(xs)
	p = Clamp(p, 0, 100)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// StableZ returns (m - mean) / (std + Epsilon). The result is always
// finite: NaN maps to 0 and overflow saturates at ±MaxFloat64.
func StableZ(m, mean, std float64) float64 {
	z := (m - mean) / (std + Epsilon)
	switch {
	case math.IsNaN(z):
		return 0
	case math.IsInf(z, 0):
		return math.Copysign(math.MaxFloat64, z)
	}
	return z
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sigmoid is the logistic function 1 / (1 + e^-x).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func centralMoments(xs []float64) (m2, m3, m4 float64) {
	m := Mean(xs)
	n := float64(len(xs))
	for _, x := range xs {
		d := x - m
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	return m2 / n, m3 / n, m4 / n
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}
