package mqttingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/presence-hub/internal/config"
	"github.com/kozaktomas/presence-hub/internal/ingest"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []ingest.Submission
	err  error
}

func (r *recordingSubmitter) Submit(_ context.Context, sub ingest.Submission) (ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
	if r.err != nil && sub.PersonID == "bad" {
		return ingest.Result{}, r.err
	}
	return ingest.Result{}, nil
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic    string
		location string
		device   string
		wantErr  bool
	}{
		{topic: "presence/1/scanner-1/detections", location: "1", device: "scanner-1"},
		{topic: "site-a/presence/7/s9/detections", location: "7", device: "s9"},
		{topic: "presence/1/scanner-1/heartbeat", wantErr: true},
		{topic: "presence/1/detections", wantErr: true},
		{topic: "presence//scanner-1/detections", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			loc, dev, err := ParseTopic(tt.topic)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadTopic)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.location, loc)
			require.Equal(t, tt.device, dev)
		})
	}
}

func TestHandleMessageSingle(t *testing.T) {
	s := &recordingSubmitter{}
	body := []byte(`{"person_id":"Alice","confidence":0.92,"detected_at":1772355605000}`)

	require.NoError(t, HandleMessage(context.Background(), s, "presence/1/scanner-1/detections", body))
	require.Len(t, s.subs, 1)

	sub := s.subs[0]
	require.Equal(t, "1", sub.LocationID)
	require.Equal(t, "scanner-1", sub.DeviceID)
	require.Equal(t, "Alice", sub.PersonID)
	require.Equal(t, time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC), sub.DetectedAt)
}

func TestHandleMessageBatchKeepsGoingAfterRejection(t *testing.T) {
	s := &recordingSubmitter{err: &ingest.Rejection{Reason: ingest.ReasonInvalidConfidence}}
	body := []byte(`[
		{"person_id":"bad","confidence":4},
		{"person_id":"Bob","confidence":0.7,"detected_at":"2026-03-01T09:00:00"}
	]`)

	err := HandleMessage(context.Background(), s, "presence/1/scanner-1/detections", body)
	require.ErrorIs(t, err, ingest.ErrInvalidConfidence)
	require.Len(t, s.subs, 2)
	require.Equal(t, "Bob", s.subs[1].PersonID)
	require.Equal(t, time.UTC, s.subs[1].DetectedAt.Location())
}

func TestHandleMessageMalformed(t *testing.T) {
	s := &recordingSubmitter{}

	require.Error(t, HandleMessage(context.Background(), s, "presence/1/scanner-1/detections", []byte(`{not json`)))
	require.ErrorIs(t, HandleMessage(context.Background(), s, "nope", []byte(`{}`)), ErrBadTopic)
	require.ErrorIs(t, HandleMessage(context.Background(), s, "presence/1/scanner-1/detections", []byte(`{"person_id":"Alice"}`)), ingest.ErrInvalidConfidence)
	require.Empty(t, s.subs)
}

func TestHandleMessageRequiresConfidence(t *testing.T) {
	s := &recordingSubmitter{}

	err := HandleMessage(context.Background(), s, "presence/1/scanner-1/detections", []byte(`{"person_id":"Alice"}`))
	require.ErrorIs(t, err, ingest.ErrInvalidConfidence)
	require.Empty(t, s.subs)

	// Zero is a valid confidence when given explicitly.
	body := []byte(`[{"person_id":"Alice"},{"person_id":"Bob","confidence":0}]`)
	err = HandleMessage(context.Background(), s, "presence/1/scanner-1/detections", body)
	require.ErrorIs(t, err, ingest.ErrInvalidConfidence)
	require.Len(t, s.subs, 1)
	require.Equal(t, "Bob", s.subs[0].PersonID)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestListenerOnMessage(t *testing.T) {
	s := &recordingSubmitter{err: errors.New("unused")}
	l := NewListener(config.MQTTConfig{BrokerURL: "tcp://127.0.0.1:1", Topic: "presence/+/+/detections"}, s, nil)
	require.False(t, l.Connected())

	l.onMessage(nil, fakeMessage{
		topic:   "presence/2/scanner-7/detections",
		payload: []byte(`{"person_id":"Carol","confidence":0.5}`),
	})

	require.Len(t, s.subs, 1)
	require.Equal(t, "2", s.subs[0].LocationID)
	require.True(t, s.subs[0].DetectedAt.IsZero())
}
