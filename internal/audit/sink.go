// Package audit writes every presence change to a Kafka change log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/constants"
	"github.com/kozaktomas/presence-hub/internal/observability"
	"github.com/kozaktomas/presence-hub/internal/presence"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is one change-log record. Moves carry both the old and the new device.
type Event struct {
	LocationID       string              `json:"location_id"`
	Seq              uint64              `json:"seq"`
	Kind             presence.ChangeKind `json:"kind"`
	PersonID         string              `json:"person_id"`
	DeviceID         string              `json:"device_id"`
	AreaID           string              `json:"area_id,omitempty"`
	PreviousDeviceID string              `json:"previous_device_id,omitempty"`
	PreviousAreaID   string              `json:"previous_area_id,omitempty"`
	Confidence       float64             `json:"confidence"`
	DetectedAt       time.Time           `json:"detected_at"`
	RecordedAt       time.Time           `json:"recorded_at"`
}

// Sink implements presence.Publisher. Publish only enqueues; a background goroutine writes to
// Kafka. When the queue is full events are dropped and counted, never blocking the store.
type Sink struct {
	writer messageWriter
	logger *zap.Logger
	now    func() time.Time
	queue  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// WithBuffer sets the queue capacity.
func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, opts ...Option) *Sink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newSink(w, opts...)
}

func newSink(w messageWriter, opts ...Option) *Sink {
	s := &Sink{
		writer: w,
		logger: zap.NewNop(),
		now:    time.Now,
		queue:  make(chan Event, constants.AuditBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish implements presence.Publisher.
func (s *Sink) Publish(locationID string, seq uint64, changes []presence.Change) {
	recordedAt := s.now().UTC()
	for _, c := range changes {
		ev := Event{
			LocationID:       locationID,
			Seq:              seq,
			Kind:             c.Kind,
			PersonID:         c.Presence.PersonID,
			DeviceID:         c.Presence.DeviceID,
			AreaID:           c.Presence.AreaID,
			PreviousDeviceID: c.PreviousDeviceID,
			PreviousAreaID:   c.PreviousAreaID,
			Confidence:       c.Presence.Confidence,
			DetectedAt:       c.Presence.DetectedAt,
			RecordedAt:       recordedAt,
		}
		select {
		case s.queue <- ev:
		default:
			observability.RecordAuditError("queue_full")
		}
	}
}

// Run writes queued events until ctx is done, then flushes what is left and closes the writer.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			if err := s.writer.Close(); err != nil {
				s.logger.Warn("closing kafka writer", zap.Error(err))
			}
			return
		case ev := <-s.queue:
			batch := s.collect(ev)
			s.write(ctx, batch)
		}
	}
}

// Wait blocks until Run has returned.
func (s *Sink) Wait() {
	<-s.done
}

// collect gathers everything already queued behind first.
func (s *Sink) collect(first Event) []Event {
	batch := []Event{first}
	for len(batch) < 100 {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (s *Sink) drain() {
	for {
		select {
		case ev := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.write(ctx, s.collect(ev))
			cancel()
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, events []Event) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := encode(ev)
		if err != nil {
			observability.RecordAuditError("encode")
			s.logger.Error("encoding change event", zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		observability.RecordAuditError("write")
		s.logger.Error("writing change log",
			zap.Int("events", len(msgs)),
			zap.Error(err),
		)
	}
}

// encode keys messages by location and person so a person's history stays in one partition.
func encode(ev Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.LocationID + "/" + ev.PersonID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
		Time: ev.RecordedAt,
	}, nil
}
