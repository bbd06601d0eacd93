// Package fusion combines per-modality anomaly scores into one risk score
// and applies the deviation boost.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

// Score keys understood by the default weight schemes.
const (
	Keystroke   = "keystroke"
	Mouse       = "mouse"
	KeystrokeRT = "keystroke_rt"
	KeystrokeLT = "keystroke_lt"
	MouseRT     = "mouse_rt"
	MouseLT     = "mouse_lt"
	Deviation   = "deviation"
)

// Scheme names a weight configuration.
type Scheme string

const (
	SchemeSimple        Scheme = "simple"
	SchemeHybrid        Scheme = "hybrid"
	SchemeMouseWeighted Scheme = "mouse_weighted"
)

const weightTolerance = 1e-9

// ErrInvalidWeights is returned when weights are negative or do not sum to 1.
var ErrInvalidWeights = errors.New("fusion: weights must be non-negative and sum to 1")

// Weights maps score keys to their share of the fused score.
type Weights map[string]float64

// NewWeights validates and copies w.
func NewWeights(w map[string]float64) (Weights, error) {
	if len(w) == 0 {
		return nil, ErrInvalidWeights
	}
	var sum float64
	out := make(Weights, len(w))
	for k, v := range w {
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidWeights, k, v)
		}
		sum += v
		out[k] = v
	}
	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("%w: sum is %v", ErrInvalidWeights, sum)
	}
	return out, nil
}

// Defaults returns the built-in weights for scheme.
func Defaults(scheme Scheme) (Weights, error) {
	switch scheme {
	case SchemeSimple, "":
		return Weights{Keystroke: 0.5, Mouse: 0.5}, nil
	case SchemeHybrid:
		return Weights{KeystrokeRT: 0.30, KeystrokeLT: 0.15, MouseRT: 0.30, MouseLT: 0.15, Deviation: 0.10}, nil
	case SchemeMouseWeighted:
		return Weights{Keystroke: 0.55, Mouse: 0.45}, nil
	default:
		return nil, fmt.Errorf("fusion: unknown scheme %q", scheme)
	}
}

// Keys returns the weighted keys in sorted order.
func (w Weights) Keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fuse returns the weighted sum of scores clamped to [0, 1]. Keys missing
// from scores contribute 0; keys without a weight are ignored.
func (w Weights) Fuse(scores map[string]float64) float64 {
	var total float64
	for _, k := range w.Keys() {
		total += w[k] * scores[k]
	}
	return stats.Clamp(total, 0, 1)
}

// Tier multiplies the fused score by Factor when the deviation exceeds Above.
type Tier struct {
	Above  float64 `mapstructure:"above" json:"above"`
	Factor float64 `mapstructure:"factor" json:"factor"`
}

// DefaultTiers boosts at >50%, >70% and >100% average relative deviation.
func DefaultTiers() []Tier {
	return []Tier{{Above: 1.0, Factor: 1.4}, {Above: 0.7, Factor: 1.2}, {Above: 0.5, Factor: 1.1}}
}

// Boost applies the highest tier exceeded by max(kDev, mDev) and caps the
// result at 1. Tiers may be given in any order.
func Boost(score, kDev, mDev float64, tiers []Tier) float64 {
	dev := math.Max(kDev, mDev)
	factor := 1.0
	best := math.Inf(-1)
	for _, t := range tiers {
		if dev > t.Above && t.Above > best {
			best, factor = t.Above, t.Factor
		}
	}
	return math.Min(1, score*factor)
}

// AverageRelativeDeviation is the mean over names of |cur - mean| / |mean|
// against the baseline. A zero baseline mean counts 0 when the current
// value is also 0, else 1. A vector below the extractor floor has no
// deviation.
func AverageRelativeDeviation(cur features.Vector, baseline features.StatMap, names []string) float64 {
	if len(names) == 0 || !cur.Calculated {
		return 0
	}
	var sum float64
	for _, name := range names {
		v, _ := cur.Get(name)
		mean := baseline.Lookup(name).Mean
		switch {
		case math.Abs(mean) < stats.Epsilon:
			if math.Abs(v) >= stats.Epsilon {
				sum++
			}
		default:
			sum += math.Abs(v-mean) / math.Abs(mean)
		}
	}
	return sum / float64(len(names))
}
