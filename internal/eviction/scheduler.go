// Package eviction runs the periodic sweep that ages presences out of the store.
package eviction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/presence"
)

// Evictor removes expired presences. *presence.Store implements it.
type Evictor interface {
	EvictExpired(now time.Time) []presence.Change
}

// Scheduler sweeps the store on a fixed interval. One sweep covers every location, so the
// worst-case staleness of a presence is its timeout plus the interval.
type Scheduler struct {
	store    Evictor
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	onSweep  func(removed []presence.Change)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSweepHook registers a callback invoked after every sweep with its removals.
func WithSweepHook(fn func(removed []presence.Change)) Option {
	return func(s *Scheduler) {
		s.onSweep = fn
	}
}

// NewScheduler creates a scheduler sweeping store every interval.
func NewScheduler(store Evictor, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		interval: interval,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the sweep interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// SweepOnce evicts everything expired at now.
func (s *Scheduler) SweepOnce(now time.Time) []presence.Change {
	removed := s.store.EvictExpired(now)
	for _, c := range removed {
		s.logger.Info("presence expired",
			zap.String("location_id", c.Presence.LocationID),
			zap.String("person_id", c.Presence.PersonID),
			zap.String("device_id", c.Presence.DeviceID),
			zap.Time("detected_at", c.Presence.DetectedAt),
		)
	}
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("eviction scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("eviction scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(s.now())
		}
	}
}
