package hub

import (
	"time"

	"github.com/kozaktomas/presence-hub/internal/presence"
)

// MessageType identifies a message on a subscription stream.
type MessageType string

// MessageType values. A stream always starts with exactly one MessageSnapshot.
const (
	MessageSnapshot MessageType = "initial_data"
	MessageDelta    MessageType = "new_detections"
)

// Message is one frame of the snapshot-then-delta protocol.
//
// For snapshots Detections is the full presence set. For deltas Detections holds the new state
// of every added, refreshed or moved presence and Changes describes each mutation, removals
// included.
type Message struct {
	Type       MessageType         `json:"type"`
	LocationID string              `json:"location_id"`
	Seq        uint64              `json:"seq"`
	Detections []presence.Presence `json:"detections"`
	Changes    []presence.Change   `json:"changes,omitempty"`
	SentAt     time.Time           `json:"sent_at"`
}

func snapshotMessage(snap presence.Snapshot) Message {
	detections := snap.Presences
	if detections == nil {
		detections = []presence.Presence{}
	}
	return Message{
		Type:       MessageSnapshot,
		LocationID: snap.LocationID,
		Seq:        snap.Seq,
		Detections: detections,
		SentAt:     snap.TakenAt,
	}
}

func deltaMessage(locationID string, seq uint64, changes []presence.Change, now time.Time) Message {
	detections := make([]presence.Presence, 0, len(changes))
	for _, c := range changes {
		if c.Kind != presence.ChangeRemoved {
			detections = append(detections, c.Presence)
		}
	}
	return Message{
		Type:       MessageDelta,
		LocationID: locationID,
		Seq:        seq,
		Detections: detections,
		Changes:    changes,
		SentAt:     now.UTC(),
	}
}
