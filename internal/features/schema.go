package features

import (
	"fmt"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

// Layout selects how one or more base vectors are shaped into the model
// input vector.
type Layout string

const (
	// LayoutSimple feeds the base schema (11 keystroke, 4 mouse). Several
	// samples are averaged elementwise.
	LayoutSimple Layout = "simple"
	// LayoutExtended20 replaces the keystroke schema with mean_of_X and
	// std_of_X for the ten latency statistics. Mouse keeps the base schema.
	LayoutExtended20 Layout = "extended20"
	// LayoutAggregate expands every base feature into eight aggregates.
	LayoutAggregate Layout = "aggregate"
)

// Aggregates are the per-feature statistics of LayoutAggregate, in order.
var Aggregates = []string{"mean", "std", "var", "min", "max", "median", "skew", "kurtosis"}

// ParseLayout validates a layout name. Empty selects LayoutSimple.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutSimple:
		return LayoutSimple, nil
	case LayoutExtended20, LayoutAggregate:
		return Layout(s), nil
	default:
		return "", fmt.Errorf("unknown feature layout %q", s)
	}
}

// InputNames returns the model input schema for a modality under layout l.
func InputNames(l Layout, m Modality) []string {
	base := ForModality(m).Names()
	switch {
	case l == LayoutExtended20 && m == Keystroke:
		names := make([]string, 0, 2*len(LatencyFeatures))
		for _, f := range LatencyFeatures {
			names = append(names, "mean_of_"+f)
		}
		for _, f := range LatencyFeatures {
			names = append(names, "std_of_"+f)
		}
		return names
	case l == LayoutAggregate:
		names := make([]string, 0, len(base)*len(Aggregates))
		for _, f := range base {
			for _, a := range Aggregates {
				names = append(names, f+"_"+a)
			}
		}
		return names
	default:
		return base
	}
}

// Expand shapes samples (base vectors of modality m, oldest first) into a
// model input vector. No samples yield the zero vector.
func Expand(l Layout, m Modality, samples [][]float64) []float64 {
	names := InputNames(l, m)
	out := make([]float64, 0, len(names))
	if len(samples) == 0 {
		return make([]float64, len(names))
	}

	base := ForModality(m).Names()
	switch {
	case l == LayoutExtended20 && m == Keystroke:
		for i := range LatencyFeatures {
			out = append(out, stats.Mean(Column(samples, i)))
		}
		for i := range LatencyFeatures {
			out = append(out, stats.SampleStd(Column(samples, i)))
		}
	case l == LayoutAggregate:
		for i := range base {
			col := Column(samples, i)
			out = append(out,
				stats.Mean(col),
				stats.SampleStd(col),
				stats.SampleVariance(col),
				stats.Min(col),
				stats.Max(col),
				stats.Median(col),
				stats.Skewness(col),
				stats.Kurtosis(col),
			)
		}
	default:
		for i := range base {
			out = append(out, stats.Mean(Column(samples, i)))
		}
	}
	return out
}
