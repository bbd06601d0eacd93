package baseline

import (
	"encoding/json"
	"fmt"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
)

// ModalityRecord is the persisted baseline of one modality.
type ModalityRecord struct {
	DetailedStats      features.StatMap `json:"detailed_stats"`
	NeedsNormalization bool             `json:"needs_normalization"`
}

// Record is the persisted baseline document:
//
//	{"stats": {"keystroke": {"detailed_stats": {...}}, "mouse": {...}}, "system_threshold": 0.7}
type Record struct {
	Stats struct {
		Keystroke ModalityRecord `json:"keystroke"`
		Mouse     ModalityRecord `json:"mouse"`
	} `json:"stats"`
	SystemThreshold float64 `json:"system_threshold"`
	SegmentCount    int     `json:"segment_count,omitempty"`
}

// ToRecord encodes b with the threshold derived from it.
func (b *Baseline) ToRecord(threshold float64) Record {
	var r Record
	r.Stats.Keystroke = ModalityRecord{DetailedStats: b.Keystroke, NeedsNormalization: true}
	r.Stats.Mouse = ModalityRecord{DetailedStats: b.Mouse, NeedsNormalization: true}
	r.SystemThreshold = threshold
	r.SegmentCount = b.SegmentCount
	return r
}

// FromRecord rebuilds a Baseline from its persisted form. Missing maps are
// left empty so lookups fall back to {mean: 0, std: 1}.
func FromRecord(r Record) *Baseline {
	b := &Baseline{
		Keystroke:    r.Stats.Keystroke.DetailedStats,
		Mouse:        r.Stats.Mouse.DetailedStats,
		SegmentCount: r.SegmentCount,
	}
	if b.Keystroke == nil {
		b.Keystroke = features.StatMap{}
	}
	if b.Mouse == nil {
		b.Mouse = features.StatMap{}
	}
	return b
}

// DecodeRecord parses a persisted baseline document.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode baseline record: %w", err)
	}
	return r, nil
}
