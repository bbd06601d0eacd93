package features

import (
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

// Keystroke feature names, in vector order. du_key1_key1 is the hold time
// of a single key; the *_key1_key2 features are digraph latencies between
// consecutive keys (d = press, u = release).
const (
	MeanHold       = "mean_du_key1_key1"
	MeanDownDown   = "mean_dd_key1_key2"
	MeanDownUp     = "mean_du_key1_key2"
	MeanUpDown     = "mean_ud_key1_key2"
	MeanUpUp       = "mean_uu_key1_key2"
	StdHold        = "std_du_key1_key1"
	StdDownDown    = "std_dd_key1_key2"
	StdDownUp      = "std_du_key1_key2"
	StdUpDown      = "std_ud_key1_key2"
	StdUpUp        = "std_uu_key1_key2"
	KeystrokeCount = "keystroke_count"
)

// KeystrokeFeatures is the 11-feature keystroke schema.
var KeystrokeFeatures = []string{
	MeanHold, MeanDownDown, MeanDownUp, MeanUpDown, MeanUpUp,
	StdHold, StdDownDown, StdDownUp, StdUpDown, StdUpUp,
	KeystrokeCount,
}

// LatencyFeatures are the ten timing statistics of KeystrokeFeatures.
var LatencyFeatures = KeystrokeFeatures[:10]

// Latencies holds the per-pair timing lists of one keystroke stream.
type Latencies struct {
	Hold     []float64 `json:"hold"`
	DownDown []float64 `json:"downDown"`
	DownUp   []float64 `json:"downUp"`
	UpDown   []float64 `json:"upDown"`
	UpUp     []float64 `json:"upUp"`
	Presses  int       `json:"presses"`
}

type keystroke struct {
	press    float64
	release  float64
	released bool
}

// pairKeystrokes matches each key-up to the oldest outstanding key-down of
// the same key. Events without a key fall back to arrival order.
func pairKeystrokes(sorted []events.RawEvent) []keystroke {
	var ks []keystroke
	pending := make(map[string][]int)
	for _, ev := range sorted {
		switch ev.Type {
		case events.KeyDown:
			ks = append(ks, keystroke{press: ev.Timestamp})
			pending[ev.Key] = append(pending[ev.Key], len(ks)-1)
		case events.KeyUp:
			q := pending[ev.Key]
			if len(q) == 0 {
				continue
			}
			ks[q[0]].release = ev.Timestamp
			ks[q[0]].released = true
			pending[ev.Key] = q[1:]
		}
	}
	return ks
}

// ComputeLatencies sorts evs defensively and derives hold and digraph timings.
func ComputeLatencies(evs []events.RawEvent) Latencies {
	ks := pairKeystrokes(events.Sorted(evs))
	lat := Latencies{Presses: len(ks)}

	for _, k := range ks {
		if k.released {
			lat.Hold = append(lat.Hold, k.release-k.press)
		}
	}
	for i := 0; i+1 < len(ks); i++ {
		k1, k2 := ks[i], ks[i+1]
		lat.DownDown = append(lat.DownDown, k2.press-k1.press)
		if !k1.released || !k2.released {
			continue
		}
		lat.UpDown = append(lat.UpDown, k2.press-k1.release)
		lat.UpUp = append(lat.UpUp, k2.release-k1.release)
		lat.DownUp = append(lat.DownUp, k2.release-k1.press)
	}
	return lat
}

// KeystrokeExtractor computes the 11-feature keystroke vector.
type KeystrokeExtractor struct{}

func (KeystrokeExtractor) Modality() Modality { return Keystroke }
func (KeystrokeExtractor) Names() []string    { return KeystrokeFeatures }

// Raw returns the unnormalized keystroke vector. Standard deviations are
// population deviations over each latency list.
func (KeystrokeExtractor) Raw(evs []events.RawEvent) Vector {
	if len(evs) < MinEvents {
		return zeroVector(KeystrokeFeatures, len(evs))
	}

	lat := ComputeLatencies(evs)
	lists := [][]float64{lat.Hold, lat.DownDown, lat.DownUp, lat.UpDown, lat.UpUp}

	values := make([]float64, 0, len(KeystrokeFeatures))
	for _, l := range lists {
		values = append(values, stats.Mean(l))
	}
	for _, l := range lists {
		values = append(values, stats.Std(l))
	}
	values = append(values, float64(lat.Presses))

	return Vector{
		Names:      KeystrokeFeatures,
		Values:     values,
		Calculated: true,
		SampleSize: len(evs),
	}
}

// Extract implements Extractor.
func (x KeystrokeExtractor) Extract(evs []events.RawEvent, baseline StatMap) (Vector, *Stats) {
	return extract(x, evs, baseline)
}
