package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// sseWriter writes Server-Sent Events, arming a write deadline before every frame so a
// stalled client cannot block the stream forever.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

// setupSSEConnection sets up SSE headers and returns the event writer.
// On failure, writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter, timeout time.Duration) (*sseWriter, bool) {
	if _, ok := w.(http.Flusher); !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering (nginx) so events are delivered immediately.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{w: w, rc: http.NewResponseController(w), timeout: timeout}
	if err := sw.flush(); err != nil {
		return nil, false
	}
	return sw, true
}

// arm sets the write deadline for the next frame. Writers that do not support deadlines
// (test recorders, some proxies) are written without one.
func (s *sseWriter) arm() error {
	if s.timeout <= 0 {
		return nil
	}
	err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

func (s *sseWriter) flush() error {
	return s.rc.Flush()
}

// event writes one event. A non-zero id is sent as the event id.
func (s *sseWriter) event(eventType string, id uint64, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := s.arm(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if id > 0 {
		buf.WriteString("id: " + strconv.FormatUint(id, 10) + "\n")
	}
	buf.WriteString("event: " + eventType + "\n")
	buf.WriteString("data: ")
	buf.Write(jsonData)
	buf.WriteString("\n\n")
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.flush()
}

// comment writes a comment line. Clients ignore it; proxies see traffic.
func (s *sseWriter) comment(text string) error {
	if err := s.arm(); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, ": "+text+"\n\n"); err != nil {
		return err
	}
	return s.flush()
}
