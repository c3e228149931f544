package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/presence-hub/internal/auth"
	"github.com/kozaktomas/presence-hub/internal/hub"
	"github.com/kozaktomas/presence-hub/internal/ingest"
	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/web/middleware"
)

func postDetection(t *testing.T, h *DetectionsHandler, body string, device *auth.DeviceClaims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/detections", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if device != nil {
		req = req.WithContext(middleware.SetDeviceInContext(req.Context(), device))
	}
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)
	return recorder
}

func TestDetectionsHandler_Create_Accepted(t *testing.T) {
	tr := newTestTracker(t)
	h := NewDetectionsHandler(tr, nil)

	recorder := postDetection(t, h,
		`{"person_id":"Alice","device_id":"scanner-1","location_id":"1","confidence":0.92,"detected_at":"2026-03-01T08:59:50"}`, nil)

	assertStatusCode(t, recorder, http.StatusAccepted)
	var resp DetectionResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Status != "accepted" || resp.Change != presence.ChangeAdded {
		t.Errorf("unexpected response %+v", resp)
	}

	snap := tr.Snapshot("1")
	if len(snap.Presences) != 1 || snap.Presences[0].AreaID != "Lobby" {
		t.Fatalf("unexpected snapshot %+v", snap.Presences)
	}
	if want := testNow.Add(-10 * time.Second); !snap.Presences[0].DetectedAt.Equal(want) {
		t.Errorf("DetectedAt = %s, want %s", snap.Presences[0].DetectedAt, want)
	}
}

func TestDetectionsHandler_Create_UsesAuthenticatedDevice(t *testing.T) {
	tr := newTestTracker(t)
	h := NewDetectionsHandler(tr, nil)
	device := &auth.DeviceClaims{DeviceID: "scanner-2", LocationID: "1"}

	recorder := postDetection(t, h, `{"person_id":"Alice","confidence":0.88}`, device)

	assertStatusCode(t, recorder, http.StatusAccepted)
	if p := tr.Snapshot("1").Presences; len(p) != 1 || p[0].DeviceID != "scanner-2" {
		t.Errorf("unexpected presences %+v", p)
	}
}

func TestDetectionsHandler_Create_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		device     *auth.DeviceClaims
		wantStatus int
		wantReason ingest.Reason
	}{
		{
			name:       "confidence out of range",
			body:       `{"person_id":"A","device_id":"scanner-1","location_id":"1","confidence":1.5}`,
			wantStatus: http.StatusBadRequest,
			wantReason: ingest.ReasonInvalidConfidence,
		},
		{
			name:       "confidence missing",
			body:       `{"person_id":"A","device_id":"scanner-1","location_id":"1"}`,
			wantStatus: http.StatusBadRequest,
			wantReason: ingest.ReasonInvalidConfidence,
		},
		{
			name:       "person missing",
			body:       `{"device_id":"scanner-1","location_id":"1","confidence":0.5}`,
			wantStatus: http.StatusBadRequest,
			wantReason: ingest.ReasonInvalidInput,
		},
		{
			name:       "device not approved for location",
			body:       `{"person_id":"A","device_id":"scanner-9","location_id":"1","confidence":0.5}`,
			wantStatus: http.StatusForbidden,
			wantReason: ingest.ReasonUnauthorized,
		},
		{
			name:       "body names another device than the token",
			body:       `{"person_id":"A","device_id":"scanner-2","confidence":0.5}`,
			device:     &auth.DeviceClaims{DeviceID: "scanner-1", LocationID: "1"},
			wantStatus: http.StatusForbidden,
			wantReason: ingest.ReasonUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t)
			h := NewDetectionsHandler(tr, nil)

			recorder := postDetection(t, h, tt.body, tt.device)

			assertStatusCode(t, recorder, tt.wantStatus)
			var resp rejectionResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", resp.Reason, tt.wantReason)
			}
			if n := tr.Store().Count("1"); n != 0 {
				t.Errorf("store has %d presences after rejection", n)
			}
		})
	}
}

func TestDetectionsHandler_Create_InvalidJSON(t *testing.T) {
	h := NewDetectionsHandler(newTestTracker(t), nil)

	recorder := postDetection(t, h, `{"person_id":`, nil)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, errInvalidRequestBody)
}

type unavailableEngine struct{}

func (unavailableEngine) Submit(context.Context, ingest.Submission) (ingest.Result, error) {
	return ingest.Result{}, errors.New("dial tcp: connection refused")
}

func (unavailableEngine) Subscribe(string) (*hub.Subscription, error) {
	return nil, hub.ErrClosed
}

func (unavailableEngine) Snapshot(locationID string) presence.Snapshot {
	return presence.Snapshot{LocationID: locationID}
}

func TestDetectionsHandler_Create_RegistryUnavailable(t *testing.T) {
	h := NewDetectionsHandler(unavailableEngine{}, nil)

	recorder := postDetection(t, h, `{"person_id":"A","device_id":"scanner-1","location_id":"1","confidence":0.5}`, nil)

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	assertJSONError(t, recorder, "device registry unavailable")
}
