package calibration

import (
	"context"
	"errors"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/circuitbreaker"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/retry"
)

const breakerKey = "calibration_store"

// GuardOptions bounds every call made through a Guarded store.
type GuardOptions struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration
	Breaker     *circuitbreaker.Breaker
}

// Guarded wraps a Store with per-attempt timeouts, bounded retry and a
// circuit breaker. Domain errors (ErrNotFound and friends) pass through
// without retry and do not count against the breaker.
type Guarded struct {
	inner Store
	opts  GuardOptions
}

// NewGuarded wraps inner. Zero options take 3s, 3 attempts, 50ms backoff
// and a 5-failure breaker.
func NewGuarded(inner Store, opts GuardOptions) *Guarded {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 50 * time.Millisecond
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &Guarded{inner: inner, opts: opts}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionCompleted) || errors.Is(err, ErrSessionExists)
}

func (g *Guarded) do(ctx context.Context, fn func(context.Context) error) error {
	var domainErr error
	err := g.opts.Breaker.Execute(breakerKey, func() error {
		return retry.DoWithTimeout(ctx, g.opts.MaxAttempts, g.opts.BaseDelay, g.opts.Timeout, func(ctx context.Context) error {
			err := fn(ctx)
			if isDomainError(err) {
				domainErr = err
				return nil
			}
			return err
		})
	})
	if err != nil {
		return err
	}
	return domainErr
}

func (g *Guarded) CreateSession(ctx context.Context, s *Session) error {
	return g.do(ctx, func(ctx context.Context) error { return g.inner.CreateSession(ctx, s) })
}

func (g *Guarded) GetSession(ctx context.Context, id string) (*Session, error) {
	var s *Session
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		s, err = g.inner.GetSession(ctx, id)
		return err
	})
	return s, err
}

func (g *Guarded) CompleteSession(ctx context.Context, id string, at time.Time) error {
	return g.do(ctx, func(ctx context.Context) error { return g.inner.CompleteSession(ctx, id, at) })
}

func (g *Guarded) AppendThreshold(ctx context.Context, t *PersonalThreshold) error {
	return g.do(ctx, func(ctx context.Context) error { return g.inner.AppendThreshold(ctx, t) })
}

func (g *Guarded) LatestThreshold(ctx context.Context, studentID string) (*PersonalThreshold, error) {
	var t *PersonalThreshold
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		t, err = g.inner.LatestThreshold(ctx, studentID)
		return err
	})
	return t, err
}

func (g *Guarded) ListThresholds(ctx context.Context, studentID string, limit int) ([]*PersonalThreshold, error) {
	var rows []*PersonalThreshold
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = g.inner.ListThresholds(ctx, studentID, limit)
		return err
	})
	return rows, err
}

var _ Store = (*Guarded)(nil)
