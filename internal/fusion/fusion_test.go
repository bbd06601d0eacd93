package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
)

func TestDefaultSchemesSumToOne(t *testing.T) {
	for _, s := range []Scheme{SchemeSimple, SchemeHybrid, SchemeMouseWeighted} {
		w, err := Defaults(s)
		require.NoError(t, err, s)
		_, err = NewWeights(w)
		assert.NoError(t, err, s)
	}
	_, err := Defaults("exotic")
	assert.Error(t, err)
}

func TestNewWeightsRejectsBadSums(t *testing.T) {
	for _, w := range []map[string]float64{
		nil,
		{Keystroke: 0.5, Mouse: 0.4},
		{Keystroke: 1.2, Mouse: -0.2},
	} {
		_, err := NewWeights(w)
		assert.ErrorIs(t, err, ErrInvalidWeights)
	}
}

func TestFuseBounds(t *testing.T) {
	w, _ := Defaults(SchemeSimple)
	assert.Equal(t, 0.0, w.Fuse(map[string]float64{Keystroke: 0, Mouse: 0}))
	assert.InDelta(t, 1.0, w.Fuse(map[string]float64{Keystroke: 1, Mouse: 1}), 1e-12)
	assert.InDelta(t, 0.5, w.Fuse(map[string]float64{Keystroke: 0.8, Mouse: 0.2}), 1e-12)
	assert.InDelta(t, 0.4, w.Fuse(map[string]float64{Keystroke: 0.8}), 1e-12)
}

func TestFuseHybrid(t *testing.T) {
	w, _ := Defaults(SchemeHybrid)
	got := w.Fuse(map[string]float64{
		KeystrokeRT: 1, KeystrokeLT: 1, MouseRT: 0, MouseLT: 0, Deviation: 1,
	})
	assert.InDelta(t, 0.55, got, 1e-12)
}

func TestBoostTiers(t *testing.T) {
	tiers := DefaultTiers()
	tests := []struct {
		kDev, mDev, want float64
	}{
		{0.2, 0.3, 0.5},
		{0.6, 0.1, 0.55},
		{0.1, 0.75, 0.6},
		{1.5, 0.0, 0.7},
		{0.5, 0.5, 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Boost(0.5, tt.kDev, tt.mDev, tiers), 1e-12)
	}
	assert.Equal(t, 1.0, Boost(0.9, 2, 0, tiers))
}

func TestAverageRelativeDeviation(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	cur := features.Vector{Names: names, Values: []float64{150, 0, 3, 50}, Calculated: true}
	base := features.StatMap{
		"a": {Mean: 100, Std: 10},
		"b": {Mean: 0, Std: 1},
		"c": {Mean: 0, Std: 1},
		"d": {Mean: 100, Std: 10},
	}
	// 0.5 + 0 + 1 + 0.5 over 4 features.
	assert.InDelta(t, 0.5, AverageRelativeDeviation(cur, base, names), 1e-12)
	assert.Equal(t, 0.0, AverageRelativeDeviation(cur, base, nil))

	floor := features.Vector{Names: names, Values: make([]float64, len(names))}
	assert.Equal(t, 0.0, AverageRelativeDeviation(floor, base, names))
}
