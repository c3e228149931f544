// Package mqttingest receives detections that scanners publish over MQTT.
//
// Scanners publish to presence/{location_id}/{device_id}/detections. The broker authenticates
// the scanner; the device registry still decides whether it may report for the location.
package mqttingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/config"
	"github.com/kozaktomas/presence-hub/internal/ingest"
	"github.com/kozaktomas/presence-hub/internal/observability"
	"github.com/kozaktomas/presence-hub/internal/presence"
)

// ErrBadTopic is returned for topics that do not name a location and a device.
var ErrBadTopic = errors.New("topic must be presence/{location_id}/{device_id}/detections")

// Submitter accepts detections. *ingest.Service implements it.
type Submitter interface {
	Submit(ctx context.Context, sub ingest.Submission) (ingest.Result, error)
}

// Payload is the JSON body of a detection message. Confidence is required.
type Payload struct {
	PersonID   string             `json:"person_id"`
	Confidence *float64           `json:"confidence"`
	DetectedAt presence.Timestamp `json:"detected_at"`
}

// Listener subscribes to the detection topic and forwards every message to ingestion.
type Listener struct {
	cfg       config.MQTTConfig
	submitter Submitter
	logger    *zap.Logger
	client    mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewListener creates a listener. Call Run to connect.
func NewListener(cfg config.MQTTConfig, submitter Submitter, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{cfg: cfg, submitter: submitter, logger: logger}
	l.client = mqtt.NewClient(l.clientOptions())
	return l
}

func (l *Listener) clientOptions() *mqtt.ClientOptions {
	clientID := l.cfg.ClientID
	if clientID == "" {
		clientID = "presence-hub"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.BrokerURL)
	// Unique per instance so replicas do not kick each other off the broker.
	opts.SetClientID(fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.setConnected(false)
		l.logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		l.setConnected(true)
		l.logger.Info("mqtt connected", zap.String("broker", l.cfg.BrokerURL))
		// Clean sessions lose subscriptions, so subscribe on every (re)connect.
		if token := c.Subscribe(l.cfg.Topic, 1, l.onMessage); token.Wait() && token.Error() != nil {
			l.logger.Error("mqtt subscribe failed", zap.String("topic", l.cfg.Topic), zap.Error(token.Error()))
			return
		}
		l.logger.Info("mqtt subscribed", zap.String("topic", l.cfg.Topic))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		l.logger.Info("mqtt reconnecting")
	})
	return opts
}

// Run connects with exponential backoff, then blocks until ctx is done and disconnects.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	l.client.Disconnect(250)
	l.setConnected(false)
	return nil
}

func (l *Listener) connect(ctx context.Context) error {
	const maxRetries = 5
	var err error
	for i := range maxRetries {
		token := l.client.Connect()
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			return nil
		}
		err = token.Error()
		if err == nil {
			err = errors.New("connect timed out")
		}

		backoff := time.Duration(1<<uint(i)) * time.Second
		l.logger.Warn("mqtt connect failed",
			zap.Int("attempt", i+1),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("connecting to %s after %d attempts: %w", l.cfg.BrokerURL, maxRetries, err)
}

// Connected reports whether the broker connection is up.
func (l *Listener) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *Listener) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *Listener) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := HandleMessage(ctx, l.submitter, msg.Topic(), msg.Payload()); err != nil {
		l.logger.Warn("mqtt detection not accepted",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
	}
}

// ParseTopic extracts the location and device from a detection topic. Any prefix before the
// last three segments is accepted, so brokers may namespace topics.
func ParseTopic(topic string) (locationID, deviceID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[len(parts)-1] != "detections" {
		return "", "", ErrBadTopic
	}
	locationID, deviceID = parts[len(parts)-3], parts[len(parts)-2]
	if locationID == "" || deviceID == "" {
		return "", "", ErrBadTopic
	}
	return locationID, deviceID, nil
}

// HandleMessage decodes one message, either a single detection object or an array of them,
// and submits every detection. It returns the first error but still submits the rest.
func HandleMessage(ctx context.Context, s Submitter, topic string, body []byte) error {
	locationID, deviceID, err := ParseTopic(topic)
	if err != nil {
		observability.RecordMQTTMessage("bad_topic")
		return err
	}

	payloads, err := decode(body)
	if err != nil {
		observability.RecordMQTTMessage("bad_payload")
		return err
	}

	var first error
	for _, p := range payloads {
		err := missingConfidence(p)
		if err == nil {
			_, err = s.Submit(ctx, ingest.Submission{
				LocationID: locationID,
				DeviceID:   deviceID,
				PersonID:   p.PersonID,
				Confidence: *p.Confidence,
				DetectedAt: p.DetectedAt.Time,
			})
		}
		if err != nil {
			observability.RecordMQTTMessage("rejected")
			if first == nil {
				first = err
			}
			continue
		}
		observability.RecordMQTTMessage("accepted")
	}
	return first
}

// missingConfidence rejects payloads without a confidence, matching the HTTP endpoint.
func missingConfidence(p Payload) error {
	if p.Confidence != nil {
		return nil
	}
	return &ingest.Rejection{Reason: ingest.ReasonInvalidConfidence, Detail: "confidence is required"}
}

func decode(body []byte) ([]Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var out []Payload
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decoding detections: %w", err)
		}
		return out, nil
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding detection: %w", err)
	}
	return []Payload{p}, nil
}
