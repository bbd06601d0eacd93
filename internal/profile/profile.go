// Package profile loads the scoring profile (feature layout, fusion
// weights, boost tiers, threshold strategy) from YAML and hot reloads it.
package profile

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/fusion"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/session"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/threshold"
)

// FusionConfig selects weights by scheme name, or explicitly.
type FusionConfig struct {
	Scheme  string             `mapstructure:"scheme"`
	Weights map[string]float64 `mapstructure:"weights"`
}

// BoostConfig configures the deviation boost.
type BoostConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Tiers   []fusion.Tier `mapstructure:"tiers"`
}

// ThresholdConfig selects and parameterizes threshold derivation.
type ThresholdConfig struct {
	Method     string                 `mapstructure:"method"`
	Moment     threshold.MomentConfig `mapstructure:"moment"`
	Percentile float64                `mapstructure:"percentile"`
}

// Profile is one immutable scoring configuration.
type Profile struct {
	Layout         string          `mapstructure:"layout"`
	ClipBound      float64         `mapstructure:"clip_bound"`
	MinKeyEvents   int             `mapstructure:"min_key_events"`
	MinMouseEvents int             `mapstructure:"min_mouse_events"`
	RealTimeWindow int             `mapstructure:"realtime_window"`
	Fusion         FusionConfig    `mapstructure:"fusion"`
	Boost          BoostConfig     `mapstructure:"boost"`
	Threshold      ThresholdConfig `mapstructure:"threshold"`

	layout  features.Layout
	weights fusion.Weights
}

var scoreKeys = map[string]bool{
	fusion.Keystroke:   true,
	fusion.Mouse:       true,
	fusion.KeystrokeRT: true,
	fusion.KeystrokeLT: true,
	fusion.MouseRT:     true,
	fusion.MouseLT:     true,
	fusion.Deviation:   true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("layout", string(features.LayoutSimple))
	v.SetDefault("clip_bound", 10.0)
	v.SetDefault("min_key_events", 5)
	v.SetDefault("min_mouse_events", 10)
	v.SetDefault("realtime_window", session.DefaultRealTimeWindow)
	v.SetDefault("fusion.scheme", string(fusion.SchemeSimple))
	v.SetDefault("boost.enabled", true)
	v.SetDefault("threshold.method", string(threshold.MethodMoment))
	v.SetDefault("threshold.moment.k", threshold.DefaultK)
	v.SetDefault("threshold.moment.low", threshold.DefaultLow)
	v.SetDefault("threshold.moment.high", threshold.DefaultHigh)
	v.SetDefault("threshold.percentile", threshold.DefaultPercentile)
}

// Default returns the built-in profile.
func Default() *Profile {
	v := viper.New()
	setDefaults(v)
	p, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("profile: built-in defaults invalid: %v", err))
	}
	return p
}

func decode(v *viper.Viper) (*Profile, error) {
	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}
	return &p, nil
}

// resolve validates p and caches the derived layout and weights.
func (p *Profile) resolve() error {
	layout, err := features.ParseLayout(p.Layout)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	p.layout = layout

	if len(p.Fusion.Weights) > 0 {
		p.weights, err = fusion.NewWeights(p.Fusion.Weights)
	} else {
		p.weights, err = fusion.Defaults(fusion.Scheme(p.Fusion.Scheme))
	}
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	for k := range p.weights {
		if !scoreKeys[k] {
			return fmt.Errorf("profile: unknown fusion score key %q", k)
		}
	}

	if len(p.Boost.Tiers) == 0 {
		p.Boost.Tiers = fusion.DefaultTiers()
	}
	for _, t := range p.Boost.Tiers {
		if t.Factor < 1 {
			return fmt.Errorf("profile: boost factor %v below 1", t.Factor)
		}
	}

	switch threshold.Method(p.Threshold.Method) {
	case threshold.MethodMoment:
		if err := p.Threshold.Moment.Validate(); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
	case threshold.MethodPercentile:
		if p.Threshold.Percentile <= 0 || p.Threshold.Percentile > 100 {
			return fmt.Errorf("profile: percentile %v outside (0, 100]", p.Threshold.Percentile)
		}
	default:
		return fmt.Errorf("profile: unknown threshold method %q", p.Threshold.Method)
	}

	if p.ClipBound <= 0 {
		return fmt.Errorf("profile: clip_bound must be positive")
	}
	if p.MinKeyEvents < 0 || p.MinMouseEvents < 0 {
		return fmt.Errorf("profile: minimum event counts must not be negative")
	}
	if p.RealTimeWindow <= 0 {
		return fmt.Errorf("profile: realtime_window must be positive")
	}
	return nil
}

// FeatureLayout returns the model input layout.
func (p *Profile) FeatureLayout() features.Layout { return p.layout }

// Weights returns the validated fusion weights.
func (p *Profile) Weights() fusion.Weights { return p.weights }

// Hybrid reports whether the weights fuse real-time and long-term scores.
func (p *Profile) Hybrid() bool {
	_, rt := p.weights[fusion.KeystrokeRT]
	_, mrt := p.weights[fusion.MouseRT]
	return rt || mrt
}
