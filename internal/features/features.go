// Package features turns normalized keystroke and mouse event streams into
// fixed-length numeric feature vectors.
package features

import (
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

// MinEvents is the minimum number of events an extractor needs. Shorter
// streams produce an all-zero vector.
const MinEvents = 2

// Modality identifies an input device stream.
type Modality string

const (
	Keystroke Modality = "keystroke"
	Mouse     Modality = "mouse"
)

// Vector is an ordered set of named feature values.
type Vector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
	// Calculated is false when the input was below MinEvents and the
	// values are the zero floor.
	Calculated bool `json:"calculated"`
	SampleSize int  `json:"sampleSize"`
}

// Get returns the value of the named feature.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Map returns the vector as a name -> value map.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		m[n] = v.Values[i]
	}
	return m
}

func zeroVector(names []string, sampleSize int) Vector {
	return Vector{
		Names:      names,
		Values:     make([]float64, len(names)),
		SampleSize: sampleSize,
	}
}

// FeatureStat is the baseline mean and standard deviation of one feature.
type FeatureStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// StatMap maps feature names to baseline statistics.
type StatMap map[string]FeatureStat

// Lookup returns the stat for name, defaulting to {mean: 0, std: 1}.
func (m StatMap) Lookup(name string) FeatureStat {
	if s, ok := m[name]; ok {
		return s
	}
	return FeatureStat{Mean: 0, Std: 1}
}

// Stats is the calibration-mode output of an extractor.
type Stats struct {
	Features   StatMap `json:"detailed_stats"`
	GlobalMean float64 `json:"mean"`
	GlobalStd  float64 `json:"std"`
}

// Extractor converts an event stream into a feature vector.
//
// With a nil baseline (calibration mode) Extract returns the raw vector and
// per-feature stats of {mean: raw, std: 1}. With a baseline (exam mode) it
// returns stable Z-scores and nil stats.
type Extractor interface {
	Modality() Modality
	Names() []string
	Raw(evs []events.RawEvent) Vector
	Extract(evs []events.RawEvent, baseline StatMap) (Vector, *Stats)
}

func extract(x Extractor, evs []events.RawEvent, baseline StatMap) (Vector, *Stats) {
	raw := x.Raw(evs)
	if baseline == nil {
		return raw, placeholderStats(raw)
	}

	z := Vector{
		Names:      raw.Names,
		Values:     make([]float64, len(raw.Values)),
		Calculated: raw.Calculated,
		SampleSize: raw.SampleSize,
	}
	if !raw.Calculated {
		return z, nil
	}
	for i, name := range raw.Names {
		s := baseline.Lookup(name)
		z.Values[i] = stats.StableZ(raw.Values[i], s.Mean, s.Std)
	}
	return z, nil
}

// placeholderStats records each raw value as its own mean with a unit std.
// A single sample cannot estimate spread.
func placeholderStats(v Vector) *Stats {
	st := &Stats{Features: make(StatMap, len(v.Names))}
	for i, name := range v.Names {
		st.Features[name] = FeatureStat{Mean: v.Values[i], Std: 1.0}
	}
	st.GlobalMean = stats.Mean(v.Values)
	st.GlobalStd = stats.Std(v.Values)
	return st
}

// ExtractBatch treats all segments as one calibration log and returns the
// aggregated raw vector. When two or more segments carry data, each
// feature's std is estimated across the per-segment vectors instead of the
// unit placeholder.
func ExtractBatch(x Extractor, segments [][]events.RawEvent) (Vector, *Stats) {
	var all []events.RawEvent
	var perSegment [][]float64
	for _, seg := range segments {
		all = append(all, seg...)
		if v := x.Raw(seg); v.Calculated {
			perSegment = append(perSegment, v.Values)
		}
	}

	vec := x.Raw(all)
	st := placeholderStats(vec)
	if len(perSegment) < 2 {
		return vec, st
	}
	for i, name := range vec.Names {
		col := Column(perSegment, i)
		if sd := stats.SampleStd(col); sd > 0 {
			st.Features[name] = FeatureStat{Mean: vec.Values[i], Std: sd}
		}
	}
	return vec, st
}

// Column returns the i-th value of every row.
func Column(rows [][]float64, i int) []float64 {
	col := make([]float64, 0, len(rows))
	for _, r := range rows {
		if i < len(r) {
			col = append(col, r[i])
		}
	}
	return col
}

// ForModality returns the extractor for m, or nil for an unknown modality.
func ForModality(m Modality) Extractor {
	switch m {
	case Keystroke:
		return KeystrokeExtractor{}
	case Mouse:
		return MouseExtractor{}
	default:
		return nil
	}
}
