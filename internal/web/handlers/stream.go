package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/kozaktomas/presence-hub/internal/constants"
	"github.com/kozaktomas/presence-hub/internal/hub"
)

// StreamHandler serves live location streams over Server-Sent Events and WebSocket. Both
// transports send the snapshot first and then every delta in order.
type StreamHandler struct {
	engine       Engine
	heartbeat    time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(engine Engine, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		engine:       engine,
		heartbeat:    constants.StreamHeartbeatInterval,
		writeTimeout: constants.StreamWriteTimeout,
		logger:       logger,
	}
}

// streamError is the final frame sent when the server ends a stream. Clients should
// resubscribe to get a fresh snapshot.
type streamError struct {
	Error string `json:"error"`
}

func subscribeStatus(err error) int {
	if errors.Is(err, hub.ErrInvalidLocation) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func endedByHub(err error) bool {
	return errors.Is(err, hub.ErrSlowConsumer) || errors.Is(err, hub.ErrClosed)
}

func endReason(err error) string {
	if errors.Is(err, hub.ErrSlowConsumer) {
		return "slow_consumer"
	}
	return "closed"
}

// Events handles GET /api/v1/locations/{locationID}/stream.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	locationID, ok := locationParam(w, r)
	if !ok {
		return
	}

	sub, err := h.engine.Subscribe(locationID)
	if err != nil {
		respondError(w, subscribeStatus(err), err.Error())
		return
	}
	defer sub.Close()

	sw, ok := setupSSEConnection(w, h.writeTimeout)
	if !ok {
		return
	}

	err = pump(r.Context(), sub, h.heartbeat,
		func(msg hub.Message) error {
			return sw.event(string(msg.Type), msg.Seq, msg)
		},
		func() error {
			return sw.comment("heartbeat")
		},
	)
	if endedByHub(err) {
		_ = sw.event("error", 0, streamError{Error: endReason(err)})
	}
	h.logEnd(sub, err)
}

// WebSocket handles GET /api/v1/locations/{locationID}/ws. Messages are JSON text frames;
// anything the client sends is ignored.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	locationID, ok := locationParam(w, r)
	if !ok {
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		defer func() {
			_ = conn.Close()
		}()

		send := func(v any) error {
			if h.writeTimeout > 0 {
				if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
					return err
				}
			}
			return websocket.JSON.Send(conn, v)
		}

		sub, err := h.engine.Subscribe(locationID)
		if err != nil {
			_ = send(streamError{Error: err.Error()})
			return
		}
		defer sub.Close()

		ctx, cancel := context.WithCancel(conn.Request().Context())
		defer cancel()
		go func() {
			// Reading is the only way to notice the client went away.
			defer cancel()
			var discard []byte
			for {
				if err := websocket.Message.Receive(conn, &discard); err != nil {
					return
				}
			}
		}()

		err = pump(ctx, sub, 0, func(msg hub.Message) error {
			return send(msg)
		}, nil)
		if endedByHub(err) {
			_ = send(streamError{Error: endReason(err)})
		}
		h.logEnd(sub, err)
	}).ServeHTTP(w, r)
}

func (h *StreamHandler) logEnd(sub *hub.Subscription, err error) {
	h.logger.Debug("stream ended",
		zap.String("location_id", sub.LocationID),
		zap.String("subscriber_id", sub.ID),
		zap.Error(err),
	)
}

// pump forwards subscription messages to send until the subscription ends, ctx is done or a
// write fails. When heartbeat is positive, ping runs on that interval.
// It returns the subscription's end reason, ctx.Err() or the write error.
func pump(ctx context.Context, sub *hub.Subscription, heartbeat time.Duration, send func(hub.Message) error, ping func() error) error {
	var tick <-chan time.Time
	if heartbeat > 0 && ping != nil {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return sub.Err()
			}
			if err := send(msg); err != nil {
				return err
			}
		case <-tick:
			if err := ping(); err != nil {
				return err
			}
		}
	}
}
