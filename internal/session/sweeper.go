package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sweeper periodically evicts idle session histories.
type Sweeper struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	running  atomic.Bool
}

// NewSweeper evicts sessions idle longer than ttl, checking every ttl/4
// (at least once a minute).
func NewSweeper(r *Registry, ttl time.Duration, logger *slog.Logger) *Sweeper {
	interval := ttl / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	return &Sweeper{registry: r, ttl: ttl, interval: interval, logger: logger}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start runs until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in session sweeper", "panic", fmt.Sprint(r))
		}
	}()
	if n := s.registry.Evict(s.ttl); n > 0 {
		s.logger.Info("evicted idle exam sessions", "count", n, "remaining", s.registry.Len())
	}
}
