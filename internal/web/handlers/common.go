package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence-hub/internal/hub"
	"github.com/kozaktomas/presence-hub/internal/ingest"
	"github.com/kozaktomas/presence-hub/internal/presence"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Engine is the presence engine as seen by the HTTP layer. *tracker.Tracker implements it.
type Engine interface {
	Submit(ctx context.Context, sub ingest.Submission) (ingest.Result, error)
	Subscribe(locationID string) (*hub.Subscription, error)
	Snapshot(locationID string) presence.Snapshot
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// locationParam returns the trimmed {locationID} URL parameter, writing a 400 when it is empty.
func locationParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	locationID := strings.TrimSpace(chi.URLParam(r, "locationID"))
	if locationID == "" {
		respondError(w, http.StatusBadRequest, "missing location ID")
		return "", false
	}
	return locationID, true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
