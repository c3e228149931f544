package handlers

import (
	"net/http"

	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/projection"
)

// LocationsHandler serves read-only views of a location's presences.
type LocationsHandler struct {
	engine Engine
}

// NewLocationsHandler creates a new locations handler
func NewLocationsHandler(engine Engine) *LocationsHandler {
	return &LocationsHandler{engine: engine}
}

// ViewResponse is the body of GET /locations/{locationID}/views.
type ViewResponse struct {
	LocationID string             `json:"location_id"`
	Seq        uint64             `json:"seq"`
	Grouping   string             `json:"grouping"`
	Groups     []projection.Group `json:"groups"`
}

// Presences handles GET /api/v1/locations/{locationID}/presences.
func (h *LocationsHandler) Presences(w http.ResponseWriter, r *http.Request) {
	locationID, ok := locationParam(w, r)
	if !ok {
		return
	}

	snap := h.engine.Snapshot(locationID)
	if snap.Presences == nil {
		snap.Presences = []presence.Presence{}
	}
	respondJSON(w, http.StatusOK, snap)
}

// Views handles GET /api/v1/locations/{locationID}/views?group=area|device|person.
func (h *LocationsHandler) Views(w http.ResponseWriter, r *http.Request) {
	locationID, ok := locationParam(w, r)
	if !ok {
		return
	}
	grouping, ok := projection.ParseGrouping(r.URL.Query().Get("group"))
	if !ok {
		respondError(w, http.StatusBadRequest, "group must be one of area, device, person")
		return
	}

	snap := h.engine.Snapshot(locationID)
	respondJSON(w, http.StatusOK, ViewResponse{
		LocationID: locationID,
		Seq:        snap.Seq,
		Grouping:   string(grouping),
		Groups:     projection.Project(grouping, snap.Presences),
	})
}
