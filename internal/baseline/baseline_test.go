package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
)

func keys(start, hold, gap float64, n int) []events.RawEvent {
	var out []events.RawEvent
	ts := start
	for i := 0; i < n; i++ {
		k := string(rune('a' + i%26))
		out = append(out,
			events.RawEvent{Timestamp: ts, HasTimestamp: true, Type: events.KeyDown, Key: k},
			events.RawEvent{Timestamp: ts + hold, HasTimestamp: true, Type: events.KeyUp, Key: k},
		)
		ts += gap
	}
	return out
}

func mouse(start float64, copies int) []events.RawEvent {
	out := []events.RawEvent{
		{Timestamp: start, HasTimestamp: true, Type: events.Move, TabState: "active"},
		{Timestamp: start + 1, HasTimestamp: true, Type: events.Click, TabState: "active"},
	}
	for i := 0; i < copies; i++ {
		out = append(out, events.RawEvent{Timestamp: start + 2 + float64(i), HasTimestamp: true, Type: events.Copy, TabState: "active"})
	}
	return out
}

func TestCalibrateMultipleSegments(t *testing.T) {
	segs := []Segment{
		{Keystroke: keys(0, 0.10, 0.3, 6), Mouse: mouse(0, 0)},
		{Keystroke: keys(10, 0.12, 0.3, 6), Mouse: mouse(10, 1)},
		{Keystroke: keys(20, 0.14, 0.3, 6), Mouse: mouse(20, 2)},
	}

	b := NewCalibrator().Calibrate(context.Background(), segs)

	assert.Equal(t, 3, b.SegmentCount)
	require.Len(t, b.KeystrokeSamples, 3)
	hold := b.Keystroke[features.MeanHold]
	assert.InDelta(t, 0.12, hold.Mean, 1e-9)
	assert.InDelta(t, 0.02, hold.Std, 1e-9)

	copyCut := b.Mouse[features.CopyCut]
	assert.InDelta(t, 1.0, copyCut.Mean, 1e-9)
	assert.InDelta(t, 1.0, copyCut.Std, 1e-9)

	// Constant across segments: zero variance falls back to 1.
	assert.Equal(t, 1.0, b.Keystroke[features.KeystrokeCount].Std)
	assert.Len(t, b.Keystroke, len(features.KeystrokeFeatures))
	assert.Len(t, b.Mouse, len(features.MouseFeatures))
}

func TestCalibrateSingleSegmentFallsBackToUnitStd(t *testing.T) {
	b := NewCalibrator().Calibrate(context.Background(), []Segment{{Keystroke: keys(0, 0.1, 0.25, 5), Mouse: mouse(0, 1)}})

	assert.Equal(t, 1, b.SegmentCount)
	for name, st := range b.Keystroke {
		assert.Equal(t, 1.0, st.Std, name)
	}
}

func TestCalibrateSkipsEmptySegments(t *testing.T) {
	b := NewCalibrator().Calibrate(context.Background(), []Segment{
		{},
		{Keystroke: keys(0, 0.1, 0.25, 5)},
	})
	assert.Equal(t, 1, b.SegmentCount)
	assert.Len(t, b.KeystrokeSamples, 1)
	assert.Empty(t, b.MouseSamples)
}

func TestNormalizeRawEqualsMeanIsZero(t *testing.T) {
	names := []string{"f1", "f2", "f3"}
	st := features.StatMap{
		"f1": {Mean: 0.5, Std: 1.0},
		"f2": {Mean: -3, Std: 0},
		"f3": {Mean: 100, Std: 25},
	}
	out := Normalize(context.Background(), []float64{0.5, -3, 100}, st, names, DefaultClipBound)
	for i, v := range out {
		assert.InDelta(t, 0.0, v, 1e-9, names[i])
	}
}

func TestNormalizeClipping(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		st := features.StatMap{}
		raw := make([]float64, len(names))
		for j, n := range names {
			st[n] = features.FeatureStat{Mean: r.NormFloat64() * 100, Std: math.Abs(r.NormFloat64()) * math.Pow(10, float64(r.Intn(12)-9))}
			raw[j] = r.NormFloat64() * 1e6
		}
		clip := 1 + r.Float64()*20
		for _, v := range Normalize(context.Background(), raw, st, names, clip) {
			if v < -clip || v > clip {
				t.Fatalf("normalized value %v outside [-%v, %v]", v, clip, clip)
			}
		}
	}
}

func TestNormalizeSchemaMismatch(t *testing.T) {
	names := []string{"a", "b", "c"}

	_, err := NormalizeStrict([]float64{1, 2}, nil, names, DefaultClipBound)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	out := Normalize(context.Background(), []float64{1, 2}, nil, names, DefaultClipBound)
	assert.Equal(t, []float64{0, 0, 0}, out)
}

func TestNormalizeMissingStatsDefault(t *testing.T) {
	out, err := NormalizeStrict([]float64{2}, features.StatMap{}, []string{"x"}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out[0], 1e-5)
}

func TestRecordRoundTripShape(t *testing.T) {
	b := &Baseline{
		Keystroke:    features.StatMap{features.MeanHold: {Mean: 0.1, Std: 0.02}},
		Mouse:        features.StatMap{features.PasteCount: {Mean: 0, Std: 1}},
		SegmentCount: 6,
	}
	data, err := json.Marshal(b.ToRecord(0.62))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 0.62, doc["system_threshold"])
	st := doc["stats"].(map[string]any)
	assert.Contains(t, st["keystroke"].(map[string]any), "detailed_stats")

	r, err := DecodeRecord(data)
	require.NoError(t, err)
	back := FromRecord(r)
	assert.Equal(t, b.Keystroke, back.Keystroke)
	assert.Equal(t, 6, back.SegmentCount)

	empty := FromRecord(Record{})
	assert.NotNil(t, empty.Keystroke)
	assert.Equal(t, features.FeatureStat{Mean: 0, Std: 1}, empty.Mouse.Lookup("anything"))
}
