// Package session keeps process-local feature history per exam session.
// History feeds the rolling (real-time) and cumulative (long-term) model
// inputs; it is never persisted and is lost on restart.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/syncutil"
)

const (
	DefaultCapacity       = 720
	DefaultRealTimeWindow = 5
)

// History is the ordered per-poll normalized base vectors of one session.
// Access it only inside Registry.With.
type History struct {
	keystroke [][]float64
	mouse     [][]float64
	capacity  int
	lastSeen  time.Time
}

// Append records one poll. The oldest poll is dropped at capacity.
func (h *History) Append(keystroke, mouse []float64) {
	h.keystroke = appendCapped(h.keystroke, keystroke, h.capacity)
	h.mouse = appendCapped(h.mouse, mouse, h.capacity)
}

func appendCapped(rows [][]float64, row []float64, capacity int) [][]float64 {
	rows = append(rows, append([]float64(nil), row...))
	if over := len(rows) - capacity; capacity > 0 && over > 0 {
		rows = append(rows[:0], rows[over:]...)
	}
	return rows
}

// Len returns the number of recorded polls.
func (h *History) Len() int { return len(h.keystroke) }

// RealTime returns the last window polls of modality m
// (DefaultRealTimeWindow when window <= 0).
func (h *History) RealTime(m features.Modality, window int) [][]float64 {
	return Tail(h.rows(m), window)
}

// Tail returns the last window rows (DefaultRealTimeWindow when
// window <= 0). Calibration replay and exam polls share it so both phases
// see the same rolling window.
func Tail(rows [][]float64, window int) [][]float64 {
	if window <= 0 {
		window = DefaultRealTimeWindow
	}
	if len(rows) > window {
		return rows[len(rows)-window:]
	}
	return rows
}

// LongTerm returns every recorded poll of modality m.
func (h *History) LongTerm(m features.Modality) [][]float64 {
	return h.rows(m)
}

func (h *History) rows(m features.Modality) [][]float64 {
	if m == features.Mouse {
		return h.mouse
	}
	return h.keystroke
}

// Options configures a Registry.
type Options struct {
	Capacity int
}

// Registry owns the histories of live exam sessions. Calls for one session
// are serialized through a sharded lock; different sessions proceed in
// parallel unless they share a shard.
type Registry struct {
	locks    *syncutil.ContextShardedMutex
	mu       sync.Mutex
	sessions map[string]*History
	opts     Options
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Registry{
		locks:    syncutil.NewContextShardedMutex(),
		sessions: make(map[string]*History),
		opts:     opts,
		now:      time.Now,
	}
}

// With runs fn with exclusive access to sessionID's history, creating it
// on first use. It fails only when ctx is done before the lock is taken.
func (r *Registry) With(ctx context.Context, sessionID string, fn func(*History) error) error {
	return r.locks.WithLock(ctx, sessionID, func() error {
		return fn(r.touch(sessionID))
	})
}

func (r *Registry) touch(sessionID string) *History {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	if !ok {
		h = &History{capacity: r.opts.Capacity}
		r.sessions[sessionID] = h
		metrics.ActiveExamSessions.Set(float64(len(r.sessions)))
	}
	h.lastSeen = r.now()
	return h
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than ttl and returns how many.
func (r *Registry) Evict(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, h := range r.sessions {
		if h.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	metrics.ActiveExamSessions.Set(float64(len(r.sessions)))
	return n
}
