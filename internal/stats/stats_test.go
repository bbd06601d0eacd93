package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndVariance(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.InDelta(t, 5.0, Mean(xs), 1e-12)
	assert.InDelta(t, 4.0, Variance(xs), 1e-12)
	assert.InDelta(t, 2.0, Std(xs), 1e-12)
	assert.InDelta(t, 32.0/7.0, SampleVariance(xs), 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), SampleStd(xs), 1e-12)
}

func TestEmptyInputs(t *testing.T) {
	var empty []float64
	for name, got := range map[string]float64{
		"mean":       Mean(empty),
		"variance":   Variance(empty),
		"sample_var": SampleVariance([]float64{3}),
		"min":        Min(empty),
		"max":        Max(empty),
		"median":     Median(empty),
		"percentile": Percentile(empty, 98),
		"skew":       Skewness([]float64{1, 2}),
		"kurtosis":   Kurtosis([]float64{1, 2, 3}),
	} {
		if got != 0 {
			t.Errorf("%s of degenerate input = %v, want 0", name, got)
		}
	}
}

func TestMedianDoesNotMutate(t *testing.T) {
	xs := []float64{3, 1, 2, 4}
	assert.Equal(t, 2.5, Median(xs))
	assert.Equal(t, []float64{3, 1, 2, 4}, xs)
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
}

func TestSkewnessAndKurtosis(t *testing.T) {
	symmetric := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 0.0, Skewness(symmetric), 1e-12)
	// Uniform-like spread has negative excess kurtosis.
	assert.InDelta(t, -1.3, Kurtosis(symmetric), 1e-12)

	rightTail := []float64{1, 1, 1, 1, 10}
	assert.Greater(t, Skewness(rightTail), 0.0)

	flat := []float64{2, 2, 2, 2}
	assert.Equal(t, 0.0, Skewness(flat))
	assert.Equal(t, 0.0, Kurtosis(flat))
}

func TestPercentile(t *testing.T) {
	xs := []float64{5, 1, 4, 2, 3}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{50, 3},
		{100, 5},
		{25, 2},
		{98, 4.92},
		{150, 5},
	}
	for _, tt := range tests {
		if got := Percentile(xs, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestStableZFinite(t *testing.T) {
	tests := []struct {
		m, mean, std float64
	}{
		{1, 0, 0},
		{0, 0, 0},
		{1e300, -1e300, 0},
		{math.Inf(1), 0, 1},
		{math.Inf(1), math.Inf(1), 1},
		{-5, 5, 1e-12},
	}
	for _, tt := range tests {
		z := StableZ(tt.m, tt.mean, tt.std)
		if math.IsNaN(z) || math.IsInf(z, 0) {
			t.Errorf("StableZ(%v, %v, %v) = %v, want finite", tt.m, tt.mean, tt.std, z)
		}
	}

	// As std approaches zero the result approaches (m - mean) / Epsilon.
	assert.InDelta(t, 1/Epsilon, StableZ(1, 0, 0), 1e-3)
	assert.InDelta(t, 0.0, StableZ(0.5, 0.5, 1.0), 1e-12)
}

func TestClampAndSigmoid(t *testing.T) {
	assert.Equal(t, 0.35, Clamp(0.1, 0.35, 0.85))
	assert.Equal(t, 0.85, Clamp(2, 0.35, 0.85))
	assert.Equal(t, 0.5, Clamp(0.5, 0.35, 0.85))
	assert.Equal(t, 0.0, Clamp(math.NaN(), 0, 1))

	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.Greater(t, Sigmoid(3), 0.95)
	assert.Less(t, Sigmoid(-3), 0.05)
}
