package proctor

import (
	"context"
	"math"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/baseline"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/fusion"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/profile"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/scoring"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

var (
	keystrokeX = features.KeystrokeExtractor{}
	mouseX     = features.MouseExtractor{}
)

// observation is one window of events reduced against a baseline: the raw
// vectors, their normalized form and the relative deviation per modality.
type observation struct {
	keystrokeRaw  features.Vector
	mouseRaw      features.Vector
	keystrokeNorm []float64
	mouseNorm     []float64
	keystrokeDev  float64
	mouseDev      float64
}

func observe(ctx context.Context, b *baseline.Baseline, keys, mouse []events.RawEvent, clipBound float64) observation {
	var o observation
	o.keystrokeRaw, o.keystrokeNorm, o.keystrokeDev = reduce(ctx, keystrokeX, keys, b.Keystroke, clipBound)
	o.mouseRaw, o.mouseNorm, o.mouseDev = reduce(ctx, mouseX, mouse, b.Mouse, clipBound)
	return o
}

// reduce extracts one modality and normalizes it against st. A stream
// below the extractor floor carries no signal: its normalized vector is
// all zeros and its deviation is 0.
func reduce(ctx context.Context, x features.Extractor, evs []events.RawEvent, st features.StatMap, clipBound float64) (features.Vector, []float64, float64) {
	raw := x.Raw(evs)
	names := x.Names()
	if !raw.Calculated {
		return raw, make([]float64, len(names)), 0
	}
	if len(raw.Values) != len(names) {
		metrics.SchemaMismatchTotal.WithLabelValues(string(x.Modality())).Inc()
	}
	norm := baseline.Normalize(ctx, raw.Values, st, names, clipBound)
	return raw, norm, fusion.AverageRelativeDeviation(raw, st, names)
}

// window is one modality's normalized history as seen by one scoring call.
type window struct {
	current  []float64
	realTime [][]float64
	longTerm [][]float64
}

// components scores every weighted key of the profile. Classifier inputs
// are shaped by the profile's layout; the deviation key is the larger
// modality deviation capped at 1.
func components(ctx context.Context, models *scoring.Pair, prof *profile.Profile, k, m window, kDev, mDev float64) (map[string]float64, error) {
	w := prof.Weights()
	layout := prof.FeatureLayout()

	var jobs []scoring.Job
	var keys []string
	for _, key := range w.Keys() {
		var mod features.Modality
		var rows [][]float64
		switch key {
		case fusion.Keystroke:
			mod, rows = features.Keystroke, [][]float64{k.current}
		case fusion.KeystrokeRT:
			mod, rows = features.Keystroke, k.realTime
		case fusion.KeystrokeLT:
			mod, rows = features.Keystroke, k.longTerm
		case fusion.Mouse:
			mod, rows = features.Mouse, [][]float64{m.current}
		case fusion.MouseRT:
			mod, rows = features.Mouse, m.realTime
		case fusion.MouseLT:
			mod, rows = features.Mouse, m.longTerm
		default:
			continue
		}
		jobs = append(jobs, scoring.Job{Modality: mod, Input: features.Expand(layout, mod, rows)})
		keys = append(keys, key)
	}

	scores, err := models.ScoreAll(ctx, jobs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(w))
	for i, key := range keys {
		out[key] = scores[i]
	}
	if _, ok := w[fusion.Deviation]; ok {
		out[fusion.Deviation] = stats.Clamp(math.Max(kDev, mDev), 0, 1)
	}
	return out, nil
}

// fuse combines components and applies the deviation boost when enabled.
func fuse(prof *profile.Profile, comps map[string]float64, kDev, mDev float64) (score float64, boosted bool) {
	score = prof.Weights().Fuse(comps)
	if !prof.Boost.Enabled {
		return score, false
	}
	b := fusion.Boost(score, kDev, mDev, prof.Boost.Tiers)
	return b, b != score
}

// modalityScore reports a modality's score: the per-poll score when the
// profile weights it, else the real-time one.
func modalityScore(comps map[string]float64, plain, realTime string) float64 {
	if v, ok := comps[plain]; ok {
		return v
	}
	return comps[realTime]
}
