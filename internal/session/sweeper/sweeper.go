// Package sweeper forces idle sessions into a terminal error state. The
// session core defines which transitions are valid; this package is only the
// scheduled trigger.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vcbridge/internal/platform/metrics"
	"vcbridge/internal/sentinel"
	"vcbridge/internal/session/models"
	"vcbridge/internal/session/store"
)

// Sweeper periodically transitions sessions with no activity past the
// configured timeout into StateError with a timeout reason.
type Sweeper struct {
	store    store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	timeout  time.Duration
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithMetrics sets the metrics instance for the sweeper.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// New constructs a sweeper over the given session store.
func New(st store.Store, logger *slog.Logger, interval, timeout time.Duration, opts ...Option) *Sweeper {
	sw := &Sweeper{
		store:    st,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass, returning the number of sessions timed out.
func (s *Sweeper) Sweep(ctx context.Context) int {
	idle, err := s.store.ListIdle(ctx, time.Now().Add(-s.timeout))
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep: list idle sessions", "error", err)
		return 0
	}

	swept := 0
	for _, session := range idle {
		_, err := s.store.Transition(ctx, session.ID, session.State, models.StateError, &models.Patch{
			Reason: models.ReasonTimeout,
		})
		if err != nil {
			// A concurrent event advanced or closed the session; that session
			// is no longer idle, so skipping it is the correct outcome.
			if errors.Is(err, sentinel.ErrStaleState) || errors.Is(err, sentinel.ErrInvalidState) || errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			s.logger.ErrorContext(ctx, "sweep: timeout transition failed",
				"session_id", session.ID,
				"error", err,
			)
			continue
		}
		swept++
		s.metrics.IncSessionsSwept()
		s.logger.InfoContext(ctx, "session timed out",
			"session_id", session.ID,
			"previous_state", session.State,
			"idle_timeout", s.timeout.String(),
		)
	}
	return swept
}
