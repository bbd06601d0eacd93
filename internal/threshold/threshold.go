// Package threshold derives a student's personal decision threshold from
// calibration scores.
package threshold

import (
	"errors"
	"fmt"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/fusion"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

const (
	// MinSamples is the fewest calibration samples a derivation accepts.
	MinSamples = 5
	// Fallback is used when there are too few samples.
	Fallback = 0.7

	DefaultK          = 1.25
	DefaultLow        = 0.35
	DefaultHigh       = 0.85
	DefaultPercentile = 98.0
)

// Method names a derivation strategy.
type Method string

const (
	MethodMoment     Method = "moment"
	MethodPercentile Method = "percentile"
	MethodFallback   Method = "fallback"
)

// ErrInsufficientSamples reports fewer than MinSamples inputs.
var ErrInsufficientSamples = errors.New("threshold: insufficient calibration samples")

// Result is an immutable derived threshold.
type Result struct {
	Value       float64 `json:"threshold"`
	Method      Method  `json:"method"`
	Fallback    bool    `json:"fallback"`
	Mean        float64 `json:"fusion_mean"`
	Std         float64 `json:"fusion_std"`
	SampleCount int     `json:"sample_count"`
}

func fallback(n int, mean, std float64) Result {
	return Result{Value: Fallback, Method: MethodFallback, Fallback: true, Mean: mean, Std: std, SampleCount: n}
}

// MomentConfig parameterizes Moment.
type MomentConfig struct {
	K    float64 `mapstructure:"k"`
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`
}

// DefaultMoment returns k=1.25 bounded to [0.35, 0.85].
func DefaultMoment() MomentConfig {
	return MomentConfig{K: DefaultK, Low: DefaultLow, High: DefaultHigh}
}

// Validate checks the bounds are ordered and inside [0, 1].
func (c MomentConfig) Validate() error {
	if c.K < 0 || c.Low < 0 || c.High > 1 || c.Low > c.High {
		return fmt.Errorf("threshold: invalid moment config k=%v bounds=[%v, %v]", c.K, c.Low, c.High)
	}
	return nil
}

// Moment computes clamp(mean + k*sampleStd, low, high) over fused
// calibration scores. Fewer than MinSamples yields the fallback result and
// ErrInsufficientSamples, which callers treat as informational.
func Moment(samples []float64, cfg MomentConfig) (Result, error) {
	mean, std := stats.Mean(samples), stats.SampleStd(samples)
	if len(samples) < MinSamples {
		return fallback(len(samples), mean, std), ErrInsufficientSamples
	}
	return Result{
		Value:       stats.Clamp(mean+cfg.K*std, cfg.Low, cfg.High),
		Method:      MethodMoment,
		Mean:        mean,
		Std:         std,
		SampleCount: len(samples),
	}, nil
}

// Percentile takes the p-th percentile of each modality's calibration
// scores and fuses the per-modality boundaries with w. The sample guard
// applies to the smallest modality.
func Percentile(perModality map[string][]float64, p float64, w fusion.Weights) (Result, error) {
	var all []float64
	n := -1
	bounds := make(map[string]float64, len(perModality))
	for key, xs := range perModality {
		if n < 0 || len(xs) < n {
			n = len(xs)
		}
		all = append(all, xs...)
		bounds[key] = stats.Percentile(xs, p)
	}
	if n < 0 {
		n = 0
	}
	mean, std := stats.Mean(all), stats.SampleStd(all)
	if n < MinSamples {
		return fallback(n, mean, std), ErrInsufficientSamples
	}
	return Result{
		Value:       w.Fuse(bounds),
		Method:      MethodPercentile,
		Mean:        mean,
		Std:         std,
		SampleCount: n,
	}, nil
}
