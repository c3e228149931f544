// Package hub fans presence changes out to dashboard subscribers, one channel per location.
//
// Every subscription begins with a snapshot captured in the same critical section that
// registers it for deltas, so a subscriber can never see a delta for state its snapshot did
// not include. Slow subscribers are dropped rather than buffered; they recover by
// resubscribing and receiving a fresh snapshot.
package hub

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/constants"
	"github.com/kozaktomas/presence-hub/internal/observability"
	"github.com/kozaktomas/presence-hub/internal/presence"
)

var (
	// ErrClosed is reported by subscriptions closed by the client or by hub shutdown.
	ErrClosed = errors.New("subscription closed")
	// ErrSlowConsumer is reported by subscriptions dropped because their buffer filled up.
	ErrSlowConsumer = errors.New("subscriber too slow")
	// ErrInvalidLocation is returned when subscribing without a location id.
	ErrInvalidLocation = errors.New("location id is required")
)

// Snapshotter captures a location snapshot while holding off concurrent publishes.
// *presence.Store implements it.
type Snapshotter interface {
	Attach(locationID string, fn func(presence.Snapshot))
}

// Hub manages subscriber registries for every location.
type Hub struct {
	source Snapshotter
	buffer int
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

type channel struct {
	mu          sync.Mutex
	locationID  string
	subscribers map[string]*Subscription
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber message buffer.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithClock overrides the time source used to stamp deltas.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// New creates a hub reading snapshots from source.
func New(source Snapshotter, opts ...Option) *Hub {
	h := &Hub{
		source:   source,
		buffer:   constants.SubscriberBuffer,
		logger:   zap.NewNop(),
		now:      time.Now,
		channels: make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for a location. The first message on the returned
// subscription is always the location snapshot.
func (h *Hub) Subscribe(locationID string) (*Subscription, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, ErrInvalidLocation
	}

	sub := &Subscription{
		ID:         uuid.NewString(),
		LocationID: locationID,
		hub:        h,
		messages:   make(chan Message, h.buffer),
	}

	var err error
	h.source.Attach(locationID, func(snap presence.Snapshot) {
		ch, ok := h.channel(locationID)
		if !ok {
			err = ErrClosed
			return
		}

		ch.mu.Lock()
		defer ch.mu.Unlock()

		// The buffer is empty, so the snapshot always fits.
		sub.messages <- snapshotMessage(snap)
		ch.subscribers[sub.ID] = sub
		observability.SetSubscribers(locationID, len(ch.subscribers))
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("subscriber connected",
		zap.String("location_id", locationID),
		zap.String("subscriber_id", sub.ID),
	)
	return sub, nil
}

// Publish delivers a delta to every subscriber of a location without blocking. It implements
// presence.Publisher.
func (h *Hub) Publish(locationID string, seq uint64, changes []presence.Change) {
	if len(changes) == 0 {
		return
	}
	ch := h.lookup(locationID)
	if ch == nil {
		return
	}

	msg := deltaMessage(locationID, seq, changes, h.now())

	ch.mu.Lock()
	defer ch.mu.Unlock()
	for id, sub := range ch.subscribers {
		select {
		case sub.messages <- msg:
		default:
			delete(ch.subscribers, id)
			sub.terminate(ErrSlowConsumer)
			observability.RecordSubscriberDropped("slow_consumer")
			h.logger.Warn("dropping slow subscriber",
				zap.String("location_id", locationID),
				zap.String("subscriber_id", id),
			)
		}
	}
	observability.SetSubscribers(locationID, len(ch.subscribers))
}

// Subscribers returns the number of subscribers connected to a location.
func (h *Hub) Subscribers(locationID string) int {
	ch := h.lookup(locationID)
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subscribers)
}

// Close terminates every subscription. Later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	channels := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		for id, sub := range ch.subscribers {
			delete(ch.subscribers, id)
			sub.terminate(ErrClosed)
		}
		observability.SetSubscribers(ch.locationID, 0)
		ch.mu.Unlock()
	}
}

// channel returns the location channel, creating it lazily. It reports false once the hub is
// closed.
func (h *Hub) channel(locationID string) (*channel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch, ok := h.channels[locationID]
	if !ok {
		ch = &channel{locationID: locationID, subscribers: make(map[string]*Subscription)}
		h.channels[locationID] = ch
	}
	return ch, true
}

func (h *Hub) lookup(locationID string) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[locationID]
}

func (h *Hub) remove(sub *Subscription) {
	ch := h.lookup(sub.LocationID)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if _, ok := ch.subscribers[sub.ID]; !ok {
		return
	}
	delete(ch.subscribers, sub.ID)
	sub.terminate(ErrClosed)
	observability.SetSubscribers(sub.LocationID, len(ch.subscribers))
	h.logger.Debug("subscriber disconnected",
		zap.String("location_id", sub.LocationID),
		zap.String("subscriber_id", sub.ID),
	)
}

// Subscription is a live registration for one location's stream.
type Subscription struct {
	ID         string
	LocationID string

	hub      *Hub
	messages chan Message

	mu  sync.Mutex
	err error
}

// Messages returns the stream. It is closed when the subscription ends; Err reports why.
func (s *Subscription) Messages() <-chan Message {
	return s.messages
}

// Err returns why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// terminate must be called with the owning channel locked, after removal from its registry.
func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.messages)
}
