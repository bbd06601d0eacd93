// Package baseline computes a student's per-feature behavioural baseline
// from calibration segments and normalizes exam-time features against it.
package baseline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

// DefaultClipBound bounds normalized values to [-10, 10].
const DefaultClipBound = 10.0

// ErrSchemaMismatch is reported when a raw vector does not match the
// expected feature-name list.
var ErrSchemaMismatch = errors.New("baseline: feature vector length does not match schema")

// Segment is one calibration partition (for example, one question).
type Segment struct {
	Keystroke []events.RawEvent `json:"keystroke_events"`
	Mouse     []events.RawEvent `json:"mouse_events"`
}

// Baseline is the per-feature statistics of both modalities. It is
// read-only once computed; recalibration produces a new Baseline.
type Baseline struct {
	Keystroke    features.StatMap `json:"keystroke"`
	Mouse        features.StatMap `json:"mouse"`
	SegmentCount int              `json:"segmentCount"`

	// Raw per-segment base vectors the stats were computed from. Not
	// persisted.
	KeystrokeSamples [][]float64 `json:"-"`
	MouseSamples     [][]float64 `json:"-"`
}

// For returns the stats of modality m.
func (b *Baseline) For(m features.Modality) features.StatMap {
	if m == features.Mouse {
		return b.Mouse
	}
	return b.Keystroke
}

// Calibrator builds baselines from calibration segments.
type Calibrator struct {
	Keystroke features.Extractor
	Mouse     features.Extractor
}

// NewCalibrator returns a calibrator using the standard extractors.
func NewCalibrator() *Calibrator {
	return &Calibrator{
		Keystroke: features.KeystrokeExtractor{},
		Mouse:     features.MouseExtractor{},
	}
}

// Calibrate extracts both modalities from every segment and computes
// per-feature mean and sample standard deviation across segments. Segments
// below the extractor floor are skipped for that modality. A feature whose
// spread cannot be estimated (one segment, or zero variance) gets std 1.
func (c *Calibrator) Calibrate(ctx context.Context, segments []Segment) *Baseline {
	b := &Baseline{}
	for _, seg := range segments {
		k := c.Keystroke.Raw(seg.Keystroke)
		m := c.Mouse.Raw(seg.Mouse)
		if k.Calculated {
			b.KeystrokeSamples = append(b.KeystrokeSamples, k.Values)
		}
		if m.Calculated {
			b.MouseSamples = append(b.MouseSamples, m.Values)
		}
		if k.Calculated || m.Calculated {
			b.SegmentCount++
		}
	}

	b.Keystroke = columnStats(c.Keystroke.Names(), b.KeystrokeSamples)
	b.Mouse = columnStats(c.Mouse.Names(), b.MouseSamples)

	logging.L(ctx).Debug("baseline calibrated",
		"segments", len(segments),
		"usable_segments", b.SegmentCount,
		"keystroke_samples", len(b.KeystrokeSamples),
		"mouse_samples", len(b.MouseSamples),
	)
	return b
}

func columnStats(names []string, samples [][]float64) features.StatMap {
	out := make(features.StatMap, len(names))
	for i, name := range names {
		col := features.Column(samples, i)
		std := stats.SampleStd(col)
		if len(col) < 2 || std == 0 {
			std = 1.0
		}
		out[name] = features.FeatureStat{Mean: stats.Mean(col), Std: std}
	}
	return out
}

// NormalizeStrict computes clip((raw - mean) / (std + eps)) for each name.
// It returns ErrSchemaMismatch when raw and names differ in length.
func NormalizeStrict(raw []float64, st features.StatMap, names []string, clipBound float64) ([]float64, error) {
	if len(raw) != len(names) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrSchemaMismatch, len(raw), len(names))
	}
	if clipBound <= 0 {
		clipBound = DefaultClipBound
	}
	out := make([]float64, len(raw))
	for i, name := range names {
		s := st.Lookup(name)
		out[i] = stats.Clamp(stats.StableZ(raw[i], s.Mean, s.Std), -clipBound, clipBound)
	}
	return out, nil
}

// Normalize is NormalizeStrict that recovers from a schema mismatch by
// logging and returning a zero vector of len(names).
func Normalize(ctx context.Context, raw []float64, st features.StatMap, names []string, clipBound float64) []float64 {
	out, err := NormalizeStrict(raw, st, names, clipBound)
	if err != nil {
		logging.L(ctx).Error("normalization skipped", "error", err)
		return make([]float64, len(names))
	}
	return out
}
