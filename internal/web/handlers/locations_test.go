package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/presence-hub/internal/ingest"
	"github.com/kozaktomas/presence-hub/internal/presence"
)

func seedPresences(t *testing.T, engine Engine) {
	t.Helper()
	for _, sub := range []ingest.Submission{
		{LocationID: "1", DeviceID: "scanner-1", PersonID: "Alice", Confidence: 0.92},
		{LocationID: "1", DeviceID: "scanner-2", PersonID: "Bob", Confidence: 0.81},
		{LocationID: "1", DeviceID: "scanner-2", PersonID: "Carol", Confidence: 0.77},
	} {
		if _, err := engine.Submit(context.Background(), sub); err != nil {
			t.Fatalf("Submit(%s) error = %v", sub.PersonID, err)
		}
	}
}

func TestLocationsHandler_Presences(t *testing.T) {
	tr := newTestTracker(t)
	seedPresences(t, tr)
	h := NewLocationsHandler(tr)

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/locations/1/presences", nil),
		map[string]string{"locationID": "1"})
	recorder := httptest.NewRecorder()
	h.Presences(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var snap presence.Snapshot
	parseJSONResponse(t, recorder, &snap)
	if snap.LocationID != "1" || len(snap.Presences) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Seq != 3 {
		t.Errorf("expected seq 3, got %d", snap.Seq)
	}
}

func TestLocationsHandler_Presences_EmptyLocation(t *testing.T) {
	h := NewLocationsHandler(newTestTracker(t))

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/locations/42/presences", nil),
		map[string]string{"locationID": "42"})
	recorder := httptest.NewRecorder()
	h.Presences(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]any
	parseJSONResponse(t, recorder, &result)
	presences, ok := result["presences"].([]any)
	if !ok {
		t.Fatalf("expected presences to be an array, got %T", result["presences"])
	}
	if len(presences) != 0 {
		t.Errorf("expected no presences, got %d", len(presences))
	}
}

func TestLocationsHandler_Views(t *testing.T) {
	tr := newTestTracker(t)
	seedPresences(t, tr)
	h := NewLocationsHandler(tr)

	tests := []struct {
		group      string
		wantLabels []string
	}{
		{group: "", wantLabels: []string{"Lobby", "Warehouse"}},
		{group: "area", wantLabels: []string{"Lobby", "Warehouse"}},
		{group: "device", wantLabels: []string{"scanner-1", "scanner-2"}},
		{group: "person", wantLabels: []string{"Everyone"}},
	}

	for _, tt := range tests {
		t.Run("group="+tt.group, func(t *testing.T) {
			req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/locations/1/views?group="+tt.group, nil),
				map[string]string{"locationID": "1"})
			recorder := httptest.NewRecorder()
			h.Views(recorder, req)

			assertStatusCode(t, recorder, http.StatusOK)
			var resp ViewResponse
			parseJSONResponse(t, recorder, &resp)
			if len(resp.Groups) != len(tt.wantLabels) {
				t.Fatalf("expected %d groups, got %+v", len(tt.wantLabels), resp.Groups)
			}
			for i, label := range tt.wantLabels {
				if resp.Groups[i].Label != label {
					t.Errorf("group %d: expected label %q, got %q", i, label, resp.Groups[i].Label)
				}
			}
		})
	}
}

func TestLocationsHandler_Views_InvalidGroup(t *testing.T) {
	h := NewLocationsHandler(newTestTracker(t))

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/locations/1/views?group=floor", nil),
		map[string]string{"locationID": "1"})
	recorder := httptest.NewRecorder()
	h.Views(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "group must be one of area, device, person")
}
