// Package events decodes and normalizes raw input-device events captured by
// the exam client (key presses, mouse moves, clipboard actions).
package events

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
)

// Type is the declared kind of a raw event.
type Type string

const (
	KeyDown  Type = "keydown"
	KeyUp    Type = "keyup"
	Move     Type = "move"
	Click    Type = "click"
	DblClick Type = "dblclick"
	Copy     Type = "copy"
	Cut      Type = "cut"
	Paste    Type = "paste"
)

// TabActive is the tab state reported while the exam page has focus.
const TabActive = "active"

// RawEvent is one input action. The producer does not guarantee ordering.
type RawEvent struct {
	Timestamp    float64
	HasTimestamp bool
	Type         Type
	Key          string
	X            *float64
	Y            *float64
	TabState     string
}

// wireEvent is the JSON shape accepted from clients. Older clients send
// "ts"/"time", "event_type" and "tab" instead of the canonical names.
type wireEvent struct {
	Timestamp *float64 `json:"timestamp,omitempty"`
	TS        *float64 `json:"ts,omitempty"`
	Time      *float64 `json:"time,omitempty"`
	Type      string   `json:"type,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Key       string   `json:"key,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	TabState  string   `json:"tab_state,omitempty"`
	Tab       string   `json:"tab,omitempty"`
}

// UnmarshalJSON decodes an event, resolving field aliases.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = RawEvent{
		Type:     Type(strings.ToLower(strings.TrimSpace(firstNonEmpty(w.Type, w.EventType)))),
		Key:      w.Key,
		X:        w.X,
		Y:        w.Y,
		TabState: strings.ToLower(strings.TrimSpace(firstNonEmpty(w.TabState, w.Tab))),
	}
	for _, ts := range []*float64{w.Timestamp, w.TS, w.Time} {
		if ts != nil && !math.IsNaN(*ts) && !math.IsInf(*ts, 0) {
			e.Timestamp = *ts
			e.HasTimestamp = true
			break
		}
	}
	return nil
}

// MarshalJSON encodes the canonical field names only.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:     string(e.Type),
		Key:      e.Key,
		X:        e.X,
		Y:        e.Y,
		TabState: e.TabState,
	}
	if e.HasTimestamp {
		ts := e.Timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// Normalize returns a copy of evs sorted ascending by timestamp. Events
// without any usable timestamp are logged and dropped. It never fails.
func Normalize(ctx context.Context, evs []RawEvent) []RawEvent {
	out := Sorted(evs)
	if dropped := len(evs) - len(out); dropped > 0 {
		logging.L(ctx).Warn("dropped events without timestamp",
			"dropped", dropped,
			"total", len(evs),
		)
	}
	return out
}

// Sorted is Normalize without logging.
func Sorted(evs []RawEvent) []RawEvent {
	out := make([]RawEvent, 0, len(evs))
	for _, ev := range evs {
		if ev.HasTimestamp {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Count returns the number of events whose type is one of types.
func Count(evs []RawEvent, types ...Type) int {
	n := 0
	for _, ev := range evs {
		for _, t := range types {
			if ev.Type == t {
				n++
				break
			}
		}
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
