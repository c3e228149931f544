// Package tracker assembles the presence engine: store, subscription hub, eviction scheduler
// and ingestion, wired to share one publish path.
package tracker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/config"
	"github.com/kozaktomas/presence-hub/internal/eviction"
	"github.com/kozaktomas/presence-hub/internal/hub"
	"github.com/kozaktomas/presence-hub/internal/ingest"
	"github.com/kozaktomas/presence-hub/internal/observability"
	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/registry"
)

// Tracker owns one instance of the engine. Every accepted detection and every eviction flows
// through the store into the hub, the metrics and any extra publishers, in that order.
type Tracker struct {
	store     *presence.Store
	hub       *hub.Hub
	ingest    *ingest.Service
	scheduler *eviction.Scheduler
	policy    config.PolicyConfig
	logger    *zap.Logger
	now       func() time.Time
}

type options struct {
	logger     *zap.Logger
	now        func() time.Time
	buffer     int
	publishers []presence.Publisher
}

// Option configures a Tracker.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSubscriberBuffer sets the per-subscriber message buffer.
func WithSubscriberBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
	}
}

// WithPublishers adds publishers notified after the hub, for example the audit sink.
func WithPublishers(p ...presence.Publisher) Option {
	return func(o *options) {
		o.publishers = append(o.publishers, p...)
	}
}

// New wires a tracker around a device registry.
func New(reg registry.Registry, policy config.PolicyConfig, opts ...Option) *Tracker {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	store := presence.NewStore(
		presence.WithTimeout(policy.Timeout),
		presence.WithClock(o.now),
	)
	h := hub.New(store,
		hub.WithBuffer(o.buffer),
		hub.WithLogger(o.logger.Named("hub")),
		hub.WithClock(o.now),
	)
	publishers := append([]presence.Publisher{h, observability.Publisher{}}, o.publishers...)
	store.SetPublisher(presence.Fanout(publishers...))

	t := &Tracker{
		store:  store,
		hub:    h,
		policy: policy,
		logger: o.logger,
		now:    o.now,
	}
	t.ingest = ingest.NewService(reg, store,
		ingest.WithClock(o.now),
		ingest.WithFutureTolerance(policy.FutureTolerance),
		ingest.WithLogger(o.logger.Named("ingest")),
	)
	t.scheduler = eviction.NewScheduler(store, policy.SweepInterval,
		eviction.WithClock(o.now),
		eviction.WithLogger(o.logger.Named("eviction")),
		eviction.WithSweepHook(func([]presence.Change) { observability.RecordSweep() }),
	)
	return t
}

// Run drives the eviction sweep until ctx is done, then closes every subscription.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("presence tracker started",
		zap.Duration("default_timeout", t.policy.DefaultTimeout),
		zap.Duration("sweep_interval", t.policy.SweepInterval),
	)
	err := t.scheduler.Run(ctx)
	t.hub.Close()
	t.logger.Info("presence tracker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Submit ingests one detection.
func (t *Tracker) Submit(ctx context.Context, sub ingest.Submission) (ingest.Result, error) {
	return t.ingest.Submit(ctx, sub)
}

// Subscribe opens a snapshot-then-delta stream for a location.
func (t *Tracker) Subscribe(locationID string) (*hub.Subscription, error) {
	return t.hub.Subscribe(locationID)
}

// Snapshot returns the current presences of a location.
func (t *Tracker) Snapshot(locationID string) presence.Snapshot {
	return t.store.Snapshot(locationID)
}

// Sweep runs one eviction pass immediately.
func (t *Tracker) Sweep() []presence.Change {
	return t.scheduler.SweepOnce(t.now())
}

// Store returns the underlying store.
func (t *Tracker) Store() *presence.Store {
	return t.store
}

// Hub returns the subscription hub.
func (t *Tracker) Hub() *hub.Hub {
	return t.hub
}

