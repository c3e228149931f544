package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/constants"
	"github.com/kozaktomas/presence-hub/internal/ingest"
	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/web/middleware"
)

// DetectionsHandler accepts detection events from scanners.
type DetectionsHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewDetectionsHandler creates a new detections handler
func NewDetectionsHandler(engine Engine, logger *zap.Logger) *DetectionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectionsHandler{engine: engine, logger: logger}
}

// DetectionRequest is the body of POST /detections. Device and location default to the
// authenticated device and must match it when given.
type DetectionRequest struct {
	PersonID   string             `json:"person_id"`
	DeviceID   string             `json:"device_id,omitempty"`
	LocationID string             `json:"location_id,omitempty"`
	Confidence *float64           `json:"confidence"`
	DetectedAt presence.Timestamp `json:"detected_at"`
}

// DetectionResponse is returned for accepted detections.
type DetectionResponse struct {
	Status  string              `json:"status"`
	Change  presence.ChangeKind `json:"change"`
	Clamped bool                `json:"clamped,omitempty"`
}

type rejectionResponse struct {
	Error  string        `json:"error"`
	Reason ingest.Reason `json:"reason"`
}

// Create handles POST /api/v1/detections.
func (h *DetectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxDetectionBodySize)

	var req DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Confidence == nil {
		respondJSON(w, http.StatusBadRequest, rejectionResponse{
			Error:  "confidence is required",
			Reason: ingest.ReasonInvalidConfidence,
		})
		return
	}

	sub := ingest.Submission{
		LocationID: strings.TrimSpace(req.LocationID),
		DeviceID:   strings.TrimSpace(req.DeviceID),
		PersonID:   req.PersonID,
		Confidence: *req.Confidence,
		DetectedAt: req.DetectedAt.Time,
	}
	if device := middleware.GetDeviceFromContext(r.Context()); device != nil {
		if (sub.DeviceID != "" && sub.DeviceID != device.DeviceID) ||
			(sub.LocationID != "" && sub.LocationID != device.LocationID) {
			respondJSON(w, http.StatusForbidden, rejectionResponse{
				Error:  "detection does not match the authenticated device",
				Reason: ingest.ReasonUnauthorized,
			})
			return
		}
		sub.DeviceID = device.DeviceID
		sub.LocationID = device.LocationID
	}

	res, err := h.engine.Submit(r.Context(), sub)
	if err != nil {
		h.respondSubmitError(w, sub, err)
		return
	}

	respondJSON(w, http.StatusAccepted, DetectionResponse{
		Status:  "accepted",
		Change:  res.Change.Kind,
		Clamped: res.Clamped,
	})
}

func (h *DetectionsHandler) respondSubmitError(w http.ResponseWriter, sub ingest.Submission, err error) {
	var rej *ingest.Rejection
	if !errors.As(err, &rej) {
		h.logger.Error("detection could not be processed",
			zap.String("device_id", sanitizeForLog(sub.DeviceID)),
			zap.Error(err),
		)
		respondError(w, http.StatusServiceUnavailable, "device registry unavailable")
		return
	}

	status := http.StatusBadRequest
	if rej.Reason == ingest.ReasonUnauthorized {
		status = http.StatusForbidden
	}
	respondJSON(w, status, rejectionResponse{Error: rej.Error(), Reason: rej.Reason})
}
