package incident

import (
	"context"
	"errors"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/circuitbreaker"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/pagination"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/retry"
)

const breakerKey = "incident_store"

// LoggerOptions bounds store calls made by a Logger.
type LoggerOptions struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration
	Breaker     *circuitbreaker.Breaker
}

func (o LoggerOptions) withDefaults() LoggerOptions {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 50 * time.Millisecond
	}
	if o.Breaker == nil {
		o.Breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return o
}

// Logger writes incidents with bounded retry. Write and count failures
// are soft: they are logged and counted, never returned to the poll.
type Logger struct {
	store Store
	opts  LoggerOptions
}

// NewLogger wraps store.
func NewLogger(store Store, opts LoggerOptions) *Logger {
	return &Logger{store: store, opts: opts.withDefaults()}
}

func (l *Logger) do(ctx context.Context, fn func(context.Context) error) error {
	return l.opts.Breaker.Execute(breakerKey, func() error {
		return retry.DoWithTimeout(ctx, l.opts.MaxAttempts, l.opts.BaseDelay, l.opts.Timeout, fn)
	})
}

// Log appends inc and reports whether it was persisted.
func (l *Logger) Log(ctx context.Context, inc *Incident) bool {
	err := l.do(ctx, func(ctx context.Context) error {
		return l.store.Create(ctx, inc)
	})
	if err != nil {
		metrics.IncidentWriteFailuresTotal.Inc()
		logging.L(ctx).Error("incident write failed, incident dropped",
			"incident_id", inc.ID, "severity", inc.Severity, "score", inc.SeverityScore, "error", err)
		return false
	}
	metrics.IncidentsTotal.WithLabelValues(string(inc.Severity)).Inc()
	logging.L(ctx).Info("incident logged",
		"incident_id", inc.ID, "severity", inc.Severity, "score", inc.SeverityScore)
	return true
}

// Count returns the number of incidents logged for sessionID, or 0 when
// the store cannot be read.
func (l *Logger) Count(ctx context.Context, sessionID string) int {
	var n int
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = l.store.CountBySession(ctx, sessionID)
		return err
	})
	if err != nil {
		logging.L(ctx).Warn("incident count unavailable", "error", err)
		return 0
	}
	return n
}

// Page lists a session's incidents newest first. Unlike Log and Count,
// read errors are returned because the listing has no useful default.
func (l *Logger) Page(ctx context.Context, sessionID string, limit int, cursor string) (pagination.Page[*Incident], error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return pagination.Page[*Incident]{}, err
	}
	limit = pagination.ClampLimit(limit)

	var rows []*Incident
	err = l.do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = l.store.ListBySession(ctx, sessionID, limit+1, after)
		return err
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			logging.L(ctx).Warn("incident store circuit open")
		}
		return pagination.Page[*Incident]{}, err
	}
	return pagination.ComputePage(rows, limit, func(inc *Incident) (time.Time, string) {
		return inc.CreatedAt, inc.ID
	}), nil
}
