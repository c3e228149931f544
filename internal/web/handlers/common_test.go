package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON_SetsContentTypeAndStatus(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusAccepted, map[string]string{"status": "accepted"})

	assertStatusCode(t, recorder, http.StatusAccepted)
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusServiceUnavailable, "device registry unavailable")

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	assertJSONError(t, recorder, "device registry unavailable")
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("scanner-1\r\nforged line"); got != "scanner-1forged line" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestLocationParam(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{"locationID": " 7 "})

		got, ok := locationParam(recorder, req)
		if !ok || got != "7" {
			t.Errorf("locationParam() = %q, %v; want 7, true", got, ok)
		}
	})

	t.Run("missing", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{})

		if _, ok := locationParam(recorder, req); ok {
			t.Error("locationParam() should fail without a location")
		}
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "missing location ID")
	})
}

func TestHealthCheck_ReturnsStatusOk(t *testing.T) {
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, httptest.NewRequest("GET", "/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}
