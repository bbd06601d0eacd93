package features

import (
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
)

// Mouse feature names, in vector order.
const (
	InactiveDuration = "inactive_duration"
	CopyCut          = "copy_cut"
	PasteCount       = "paste"
	DoubleClick      = "double_click"
)

// MouseFeatures is the 4-feature mouse schema.
var MouseFeatures = []string{InactiveDuration, CopyCut, PasteCount, DoubleClick}

// MouseExtractor computes clipboard, double-click and tab-inactivity features.
type MouseExtractor struct{}

func (MouseExtractor) Modality() Modality { return Mouse }
func (MouseExtractor) Names() []string    { return MouseFeatures }

// Raw returns the unnormalized mouse vector. Inactive duration sums the
// time elapsed before each event reported while the exam tab was not active.
func (MouseExtractor) Raw(evs []events.RawEvent) Vector {
	if len(evs) < MinEvents {
		return zeroVector(MouseFeatures, len(evs))
	}

	sorted := events.Sorted(evs)
	var inactive float64
	for i := 1; i < len(sorted); i++ {
		if sorted[i].TabState != "" && sorted[i].TabState != events.TabActive {
			inactive += sorted[i].Timestamp - sorted[i-1].Timestamp
		}
	}

	return Vector{
		Names: MouseFeatures,
		Values: []float64{
			inactive,
			float64(events.Count(sorted, events.Copy, events.Cut)),
			float64(events.Count(sorted, events.Paste)),
			float64(events.Count(sorted, events.DblClick)),
		},
		Calculated: true,
		SampleSize: len(evs),
	}
}

// Extract implements Extractor.
func (x MouseExtractor) Extract(evs []events.RawEvent, baseline StatMap) (Vector, *Stats) {
	return extract(x, evs, baseline)
}
