package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence-hub/internal/config"
	"github.com/kozaktomas/presence-hub/internal/registry"
	"github.com/kozaktomas/presence-hub/internal/tracker"
)

// testNow is the fixed clock used by handler tests.
var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestTracker creates a tracker with two approved scanners at location 1
func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	reg := registry.NewStatic(
		registry.Device{ID: "scanner-1", LocationID: "1", AreaID: "Lobby", Approved: true},
		registry.Device{ID: "scanner-2", LocationID: "1", AreaID: "Warehouse", Approved: true},
		registry.Device{ID: "scanner-9", LocationID: "2", Approved: true},
	)
	policy, err := config.ParsePolicy(nil)
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	return tracker.New(reg, policy, tracker.WithClock(func() time.Time { return testNow }))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
