package ingest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/presence-hub/internal/presence"
	"github.com/kozaktomas/presence-hub/internal/registry"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *presence.Store) {
	t.Helper()
	reg := registry.NewStatic(
		registry.Device{ID: "scanner-1", LocationID: "1", AreaID: "Lobby", Approved: true},
		registry.Device{ID: "scanner-2", LocationID: "1", AreaID: "Warehouse", Approved: true},
		registry.Device{ID: "scanner-9", LocationID: "2", DeviceType: "gate", Approved: true},
		registry.Device{ID: "revoked", LocationID: "1", Approved: true, Revoked: true},
	)
	store := presence.NewStore(presence.WithClock(func() time.Time { return now }))
	return NewService(reg, store, WithClock(func() time.Time { return now })), store
}

func TestSubmitAcceptsAndResolvesArea(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.Submit(context.Background(), Submission{
		LocationID: "1", DeviceID: "scanner-1", PersonID: "Alice", Confidence: 0.92, DetectedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, presence.ChangeAdded, res.Change.Kind)
	require.Equal(t, "Lobby", res.Change.Presence.AreaID)

	snap := store.Snapshot("1")
	require.Len(t, snap.Presences, 1)
	require.Equal(t, "Alice", snap.Presences[0].PersonID)
	require.InDelta(t, 0.92, snap.Presences[0].Confidence, 1e-9)
}

func TestSubmitRecordsDeviceType(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.Submit(context.Background(), Submission{
		LocationID: "2", DeviceID: "scanner-9", PersonID: "Alice", Confidence: 0.7, DetectedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, "gate", res.Change.Presence.DeviceType)
	require.Equal(t, "gate", store.Snapshot("2").Presences[0].DeviceType)
}

func TestSubmitMoveBetweenDevices(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "Alice", Confidence: 0.92, DetectedAt: now.Add(-10 * time.Second)})
	require.NoError(t, err)
	res, err := svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-2", PersonID: "Alice", Confidence: 0.88, DetectedAt: now})
	require.NoError(t, err)

	require.Equal(t, presence.ChangeMoved, res.Change.Kind)
	require.Equal(t, "scanner-1", res.Change.PreviousDeviceID)
	snap := store.Snapshot("1")
	require.Len(t, snap.Presences, 1)
	require.Equal(t, "scanner-2", snap.Presences[0].DeviceID)
	require.Equal(t, "Warehouse", snap.Presences[0].AreaID)
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name   string
		sub    Submission
		target error
		reason Reason
	}{
		{
			name:   "unknown device",
			sub:    Submission{LocationID: "1", DeviceID: "ghost", PersonID: "A", Confidence: 0.5},
			target: ErrUnauthorized,
			reason: ReasonUnauthorized,
		},
		{
			name:   "device bound to another location",
			sub:    Submission{LocationID: "1", DeviceID: "scanner-9", PersonID: "A", Confidence: 0.5},
			target: ErrUnauthorized,
			reason: ReasonUnauthorized,
		},
		{
			name:   "revoked device",
			sub:    Submission{LocationID: "1", DeviceID: "revoked", PersonID: "A", Confidence: 0.5},
			target: ErrUnauthorized,
			reason: ReasonUnauthorized,
		},
		{
			name:   "missing location",
			sub:    Submission{DeviceID: "scanner-1", PersonID: "A", Confidence: 0.5},
			target: ErrUnauthorized,
			reason: ReasonUnauthorized,
		},
		{
			name:   "confidence above one",
			sub:    Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: 1.01},
			target: ErrInvalidConfidence,
			reason: ReasonInvalidConfidence,
		},
		{
			name:   "negative confidence",
			sub:    Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: -0.1},
			target: ErrInvalidConfidence,
			reason: ReasonInvalidConfidence,
		},
		{
			name:   "NaN confidence",
			sub:    Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: math.NaN()},
			target: ErrInvalidConfidence,
			reason: ReasonInvalidConfidence,
		},
		{
			name:   "blank person",
			sub:    Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "   ", Confidence: 0.5},
			target: ErrInvalidInput,
			reason: ReasonInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)

			_, err := svc.Submit(context.Background(), tt.sub)
			require.ErrorIs(t, err, tt.target)

			var rej *Rejection
			require.True(t, errors.As(err, &rej))
			require.Equal(t, tt.reason, rej.Reason)
			require.Equal(t, 0, store.Count("1"))
		})
	}
}

func TestSubmitBoundaryConfidenceAccepted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: 0})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "B", Confidence: 1})
	require.NoError(t, err)
}

func TestSubmitDefaultsMissingTimestamp(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.Submit(context.Background(), Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: 0.5})
	require.NoError(t, err)
	require.Equal(t, now, store.Snapshot("1").Presences[0].DetectedAt)
}

func TestSubmitClampsFutureTimestamp(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: 0.5, DetectedAt: now.Add(time.Hour)})
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.Equal(t, now, store.Snapshot("1").Presences[0].DetectedAt)

	// Within tolerance the device clock is trusted.
	res, err = svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "B", Confidence: 0.5, DetectedAt: now.Add(3 * time.Second)})
	require.NoError(t, err)
	require.False(t, res.Clamped)
	require.Equal(t, now.Add(3*time.Second), res.Change.Presence.DetectedAt)
}

type failingRegistry struct{}

func (failingRegistry) IsDeviceApproved(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingRegistry) DeviceArea(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestSubmitRegistryFailureIsNotARejection(t *testing.T) {
	store := presence.NewStore()
	svc := NewService(failingRegistry{}, store)

	_, err := svc.Submit(context.Background(), Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: 0.5})
	require.Error(t, err)

	var rej *Rejection
	require.False(t, errors.As(err, &rej))
	require.Equal(t, 0, store.Count("1"))
}

func TestBadEventDoesNotAffectOthers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "A", Confidence: 7})
	require.Error(t, err)
	_, err = svc.Submit(ctx, Submission{LocationID: "1", DeviceID: "scanner-1", PersonID: "B", Confidence: 0.7})
	require.NoError(t, err)

	require.Equal(t, 1, store.Count("1"))
}
