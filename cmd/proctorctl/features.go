package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/baseline"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
)

type modalityFeatures struct {
	Mode   string          `json:"mode"`
	Events int             `json:"events"`
	Vector features.Vector `json:"vector"`
	Stats  *features.Stats `json:"stats,omitempty"`
	Input  map[string]any  `json:"input"`
}

// eventLog is a single event log, or a calibration log split into
// segments.
type eventLog struct {
	baseline.Segment
	Segments []baseline.Segment `json:"segments,omitempty"`
}

func newFeaturesCmd() *cobra.Command {
	var (
		input        string
		layout       string
		baselinePath string
	)
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print the feature vectors of an event log",
		Long: `Read a JSON object with keystroke_events and mouse_events and print the
feature vector of each modality together with the model input it produces
under the chosen layout.

Without --baseline the log is treated as calibration data: the raw vector
is printed with its per-feature stats, and a log with segments is
aggregated across them. With --baseline (a stored baseline document) the
vector holds stable Z-scores against it.`,
		Example: `  proctorctl features --input poll.json --layout aggregate
  proctorctl features --input calibration.json
  proctorctl features --input poll.json --baseline baseline.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := features.ParseLayout(layout)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			var log eventLog
			if err := json.Unmarshal(data, &log); err != nil {
				return fmt.Errorf("parse event log: %w", err)
			}

			var base *baseline.Baseline
			if baselinePath != "" {
				raw, err := readInput(cmd, baselinePath)
				if err != nil {
					return err
				}
				rec, err := baseline.DecodeRecord(raw)
				if err != nil {
					return err
				}
				base = baseline.FromRecord(rec)
			}

			ctx := context.Background()
			out := map[features.Modality]modalityFeatures{}
			for _, m := range []features.Modality{features.Keystroke, features.Mouse} {
				mf := extractModality(ctx, features.ForModality(m), log, base)
				values := features.Expand(l, m, [][]float64{mf.Vector.Values})
				names := features.InputNames(l, m)
				mf.Input = make(map[string]any, len(names))
				for i, n := range names {
					mf.Input[n] = values[i]
				}
				out[m] = mf
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "event log JSON file (- for stdin)")
	cmd.Flags().StringVarP(&layout, "layout", "l", string(features.LayoutSimple), "feature layout: simple, extended20 or aggregate")
	cmd.Flags().StringVarP(&baselinePath, "baseline", "b", "", "baseline document JSON; switches to exam mode")
	return cmd
}

func extractModality(ctx context.Context, x features.Extractor, log eventLog, base *baseline.Baseline) modalityFeatures {
	pick := func(seg baseline.Segment) []events.RawEvent {
		if x.Modality() == features.Mouse {
			return seg.Mouse
		}
		return seg.Keystroke
	}

	if len(log.Segments) > 0 && base == nil {
		segs := make([][]events.RawEvent, len(log.Segments))
		n := 0
		for i, seg := range log.Segments {
			segs[i] = events.Normalize(ctx, pick(seg))
			n += len(segs[i])
		}
		vec, st := features.ExtractBatch(x, segs)
		return modalityFeatures{Mode: "calibration", Events: n, Vector: vec, Stats: st}
	}

	evs := append([]events.RawEvent(nil), pick(log.Segment)...)
	for _, seg := range log.Segments {
		evs = append(evs, pick(seg)...)
	}
	sorted := events.Normalize(ctx, evs)
	if base == nil {
		vec, st := x.Extract(sorted, nil)
		return modalityFeatures{Mode: "calibration", Events: len(sorted), Vector: vec, Stats: st}
	}
	vec, _ := x.Extract(sorted, base.For(x.Modality()))
	return modalityFeatures{Mode: "exam", Events: len(sorted), Vector: vec}
}
