// Package presence holds the authoritative "who is where" state for every location.
//
// A Presence is keyed by (location, person). A location owns exactly one partition of the
// store; partitions never share locks, so locations are fully isolated from each other.
package presence

import (
	"time"
)

// UnassignedArea is the display name for presences whose device has no area.
const UnassignedArea = "Unassigned"

// Presence records that a person was last seen by a device in a location.
type Presence struct {
	PersonID   string    `json:"person_id"`
	DeviceID   string    `json:"device_id"`
	LocationID string    `json:"location_id"`
	AreaID     string    `json:"area_id,omitempty"` // empty means unassigned
	DeviceType string    `json:"device_type,omitempty"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// AreaName returns the area id, or UnassignedArea when the device has none.
func (p Presence) AreaName() string {
	if p.AreaID == "" {
		return UnassignedArea
	}
	return p.AreaID
}

// Age returns how long ago the presence was detected relative to now.
func (p Presence) Age(now time.Time) time.Duration {
	return now.Sub(p.DetectedAt)
}

// Detection is a validated detection ready to be reconciled into the store.
type Detection struct {
	LocationID string
	DeviceID   string
	PersonID   string
	AreaID     string
	DeviceType string
	Confidence float64
	DetectedAt time.Time
}

func (d Detection) presence() Presence {
	return Presence{
		PersonID:   d.PersonID,
		DeviceID:   d.DeviceID,
		LocationID: d.LocationID,
		AreaID:     d.AreaID,
		DeviceType: d.DeviceType,
		Confidence: d.Confidence,
		DetectedAt: d.DetectedAt.UTC(),
	}
}

// ChangeKind describes how a mutation affected the store.
type ChangeKind string

// ChangeKind values.
const (
	ChangeNone      ChangeKind = "none"
	ChangeAdded     ChangeKind = "added"
	ChangeRefreshed ChangeKind = "refreshed"
	ChangeMoved     ChangeKind = "moved"
	ChangeRemoved   ChangeKind = "removed"
)

// Change is a single store mutation. For removals Presence is the evicted value.
type Change struct {
	Kind             ChangeKind `json:"kind"`
	Presence         Presence   `json:"presence"`
	PreviousDeviceID string     `json:"previous_device_id,omitempty"`
	PreviousAreaID   string     `json:"previous_area_id,omitempty"`
}

// Changed reports whether the change mutated the store.
func (c Change) Changed() bool {
	return c.Kind != ChangeNone && c.Kind != ""
}

// Snapshot is a point-in-time copy of a location's presences.
type Snapshot struct {
	LocationID string     `json:"location_id"`
	Seq        uint64     `json:"seq"`
	Presences  []Presence `json:"presences"`
	TakenAt    time.Time  `json:"taken_at"`
}

// Publisher receives every batch of changes a partition produces.
//
// Publish is called while the partition is locked: implementations must not block and must not
// call back into the store.
type Publisher interface {
	Publish(locationID string, seq uint64, changes []Change)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(locationID string, seq uint64, changes []Change)

// Publish calls f.
func (f PublisherFunc) Publish(locationID string, seq uint64, changes []Change) {
	f(locationID, seq, changes)
}

// Fanout returns a Publisher that forwards to every non-nil publisher in order.
func Fanout(publishers ...Publisher) Publisher {
	out := make(fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type fanout []Publisher

func (f fanout) Publish(locationID string, seq uint64, changes []Change) {
	for _, p := range f {
		p.Publish(locationID, seq, changes)
	}
}
