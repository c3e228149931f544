// Package ingest validates detection events from scanner devices and reconciles them into the
// presence store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/presence-hub/internal/constants"
	"github.com/kozaktomas/presence-hub/internal/observability"
	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/registry"
)

// Reason classifies a rejected detection.
type Reason string

// Reason values.
const (
	ReasonUnauthorized      Reason = "unauthorized"
	ReasonInvalidConfidence Reason = "invalid_confidence"
	ReasonInvalidInput      Reason = "invalid_input"
)

// Sentinel errors matched by errors.Is against a *Rejection.
var (
	ErrUnauthorized      = errors.New("device is not approved for location")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	ErrInvalidInput      = errors.New("invalid detection")
)

// Rejection is returned for detections that were refused before any mutation.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

// Is matches the sentinel error for the rejection reason.
func (r *Rejection) Is(target error) bool {
	switch r.Reason {
	case ReasonUnauthorized:
		return target == ErrUnauthorized
	case ReasonInvalidConfidence:
		return target == ErrInvalidConfidence
	case ReasonInvalidInput:
		return target == ErrInvalidInput
	}
	return false
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Submission is a detection as reported by a scanner.
type Submission struct {
	LocationID string
	DeviceID   string
	PersonID   string
	Confidence float64
	DetectedAt time.Time // zero means "now"
}

// Result describes an accepted detection.
type Result struct {
	Change  presence.Change
	Clamped bool
}

// Updater reconciles detections. *presence.Store implements it.
type Updater interface {
	Update(presence.Detection) presence.Change
}

// Service is the detection ingestion path.
type Service struct {
	registry  registry.Registry
	store     Updater
	now       func() time.Time
	tolerance time.Duration
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithFutureTolerance sets how far ahead of the server clock a timestamp may be.
func WithFutureTolerance(d time.Duration) Option {
	return func(s *Service) {
		s.tolerance = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the ingestion service.
func NewService(reg registry.Registry, store Updater, opts ...Option) *Service {
	s := &Service{
		registry:  reg,
		store:     store,
		now:       time.Now,
		tolerance: constants.DefaultFutureTolerance,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates a detection, consults the device registry and applies it to the store.
//
// Rejections are returned as *Rejection and leave the store untouched. Any other error is a
// registry failure; the store is untouched in that case too.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	det, err := s.validate(sub)
	if err != nil {
		s.rejected(sub, err)
		return Result{}, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, constants.RegistryLookupTimeout)
	defer cancel()

	approved, err := s.registry.IsDeviceApproved(lookupCtx, det.DeviceID, det.LocationID)
	if err != nil {
		observability.RecordDetection("registry_error")
		s.logger.Error("device registry lookup failed",
			zap.String("device_id", det.DeviceID),
			zap.String("location_id", det.LocationID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("checking device approval: %w", err)
	}
	if !approved {
		rej := reject(ReasonUnauthorized, "device %s is not approved for location %s", det.DeviceID, det.LocationID)
		s.rejected(sub, rej)
		return Result{}, rej
	}

	area, err := s.registry.DeviceArea(lookupCtx, det.DeviceID)
	if err != nil && !errors.Is(err, registry.ErrDeviceNotFound) {
		observability.RecordDetection("registry_error")
		return Result{}, fmt.Errorf("resolving device area: %w", err)
	}
	det.AreaID = area

	if resolver, ok := s.registry.(registry.TypeResolver); ok {
		deviceType, err := resolver.DeviceType(lookupCtx, det.DeviceID)
		if err != nil && !errors.Is(err, registry.ErrDeviceNotFound) {
			observability.RecordDetection("registry_error")
			return Result{}, fmt.Errorf("resolving device type: %w", err)
		}
		det.DeviceType = deviceType
	}

	now := s.now().UTC()
	clamped := false
	switch {
	case det.DetectedAt.IsZero():
		det.DetectedAt = now
	case det.DetectedAt.After(now.Add(s.tolerance)):
		s.logger.Warn("clamping future-dated detection",
			zap.String("device_id", det.DeviceID),
			zap.Time("detected_at", det.DetectedAt),
			zap.Time("server_time", now),
		)
		det.DetectedAt = now
		clamped = true
	}

	change := s.store.Update(det)
	observability.RecordDetection("accepted")
	if change.Kind == presence.ChangeMoved {
		s.logger.Info("person moved",
			zap.String("location_id", det.LocationID),
			zap.String("person_id", det.PersonID),
			zap.String("from_device", change.PreviousDeviceID),
			zap.String("to_device", det.DeviceID),
		)
	}
	return Result{Change: change, Clamped: clamped}, nil
}

func (s *Service) validate(sub Submission) (presence.Detection, error) {
	det := presence.Detection{
		LocationID: strings.TrimSpace(sub.LocationID),
		DeviceID:   strings.TrimSpace(sub.DeviceID),
		PersonID:   strings.TrimSpace(sub.PersonID),
		Confidence: sub.Confidence,
		DetectedAt: sub.DetectedAt.UTC(),
	}

	if det.LocationID == "" || det.DeviceID == "" {
		return det, reject(ReasonUnauthorized, "device and location are required")
	}
	if det.PersonID == "" {
		return det, reject(ReasonInvalidInput, "person_id is required")
	}
	if math.IsNaN(det.Confidence) || det.Confidence < 0 || det.Confidence > 1 {
		return det, reject(ReasonInvalidConfidence, "got %v", sub.Confidence)
	}
	return det, nil
}

func (s *Service) rejected(sub Submission, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		observability.RecordDetection(string(rej.Reason))
	}
	s.logger.Warn("detection rejected",
		zap.String("device_id", sub.DeviceID),
		zap.String("location_id", sub.LocationID),
		zap.String("person_id", sub.PersonID),
		zap.Error(err),
	)
}
