package projection

import (
	"sort"
	"sync"

	"github.com/kozaktomas/presence-hub/internal/hub"
	"github.com/kozaktomas/presence-hub/internal/presence"
)

// View is a non-authoritative local copy of one location, rebuilt from a subscription stream.
// A snapshot replaces the state; deltas are applied on top of it.
type View struct {
	mu         sync.RWMutex
	locationID string
	seq        uint64
	synced     bool
	presences  map[string]presence.Presence
}

// NewView creates an empty view. It is not synced until the first snapshot arrives.
func NewView() *View {
	return &View{presences: make(map[string]presence.Presence)}
}

// Apply folds a stream message into the view. It reports false when the message was not
// applied: a delta before any snapshot, or a delta whose sequence does not follow the last one.
// A false result means the caller should resubscribe for a fresh snapshot.
func (v *View) Apply(msg hub.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch msg.Type {
	case hub.MessageSnapshot:
		v.locationID = msg.LocationID
		v.seq = msg.Seq
		v.synced = true
		v.presences = make(map[string]presence.Presence, len(msg.Detections))
		for _, p := range msg.Detections {
			v.presences[p.PersonID] = p
		}
		return true
	case hub.MessageDelta:
		if !v.synced {
			return false
		}
		if msg.Seq <= v.seq {
			// Already reflected by the snapshot.
			return true
		}
		if msg.Seq != v.seq+1 {
			v.synced = false
			return false
		}
		v.seq = msg.Seq
		if len(msg.Changes) == 0 {
			for _, p := range msg.Detections {
				v.presences[p.PersonID] = p
			}
			return true
		}
		for _, c := range msg.Changes {
			if c.Kind == presence.ChangeRemoved {
				delete(v.presences, c.Presence.PersonID)
				continue
			}
			v.presences[c.Presence.PersonID] = c.Presence
		}
		return true
	}
	return false
}

// Synced reports whether the view holds a consistent copy.
func (v *View) Synced() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.synced
}

// Seq returns the last applied sequence number.
func (v *View) Seq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seq
}

// LocationID returns the location of the last snapshot.
func (v *View) LocationID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locationID
}

// Presences returns the current presences sorted by person.
func (v *View) Presences() []presence.Presence {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]presence.Presence, 0, len(v.presences))
	for _, p := range v.presences {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PersonID < out[j].PersonID
	})
	return out
}

// Groups projects the current state.
func (v *View) Groups(g Grouping) []Group {
	return Project(g, v.Presences())
}
