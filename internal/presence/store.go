package presence

import (
	"slices"
	"sync"
	"time"
)

// Store is the authoritative per-location presence map.
//
// Each location gets its own partition guarded by its own mutex. Mutations of a partition and
// the Publish call describing them happen under that mutex, so subscribers observe changes in
// mutation order and a snapshot taken via Attach can never miss or duplicate a delta.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition

	publisher Publisher
	timeout   TimeoutFunc
	now       func() time.Time
}

type partition struct {
	mu        sync.Mutex
	id        string
	seq       uint64
	presences map[string]Presence
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets the publisher notified of every change batch.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// TimeoutFunc returns how long a presence seen by a device of deviceType stays alive in a
// location. A non-positive result never expires.
type TimeoutFunc func(locationID, deviceType string) time.Duration

// WithTimeout sets the expiry used for eviction.
func WithTimeout(fn TimeoutFunc) Option {
	return func(s *Store) {
		s.timeout = fn
	}
}

// WithClock overrides the time source used for lazy eviction on read.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store. Without WithTimeout nothing ever expires.
func NewStore(opts ...Option) *Store {
	s := &Store{
		partitions: make(map[string]*partition),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPublisher replaces the publisher. It must be called before the store is shared.
func (s *Store) SetPublisher(p Publisher) {
	s.publisher = p
}

// partition returns the partition for a location, creating it on first use.
func (s *Store) partition(locationID string) *partition {
	s.mu.RLock()
	p, ok := s.partitions[locationID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[locationID]; ok {
		return p
	}
	p = &partition{id: locationID, presences: make(map[string]Presence)}
	s.partitions[locationID] = p
	return p
}

// Update reconciles a detection into the store and publishes the resulting change.
//
// A person has at most one presence per location: a detection from the same device refreshes
// it, a detection from a different device replaces it. A same-device detection older than the
// stored presence is ignored. Timestamps from different devices come from different clocks
// and are not compared, so a person always moves to the device that reported last.
func (s *Store) Update(d Detection) Change {
	p := s.partition(d.LocationID)
	next := d.presence()

	p.mu.Lock()
	defer p.mu.Unlock()

	change := reconcile(p.presences, next)
	if !change.Changed() {
		return change
	}
	p.presences[next.PersonID] = next
	p.seq++
	s.publish(p, []Change{change})
	return change
}

func reconcile(current map[string]Presence, next Presence) Change {
	existing, ok := current[next.PersonID]
	switch {
	case !ok:
		return Change{Kind: ChangeAdded, Presence: next}
	case existing.DeviceID == next.DeviceID:
		if next.DetectedAt.Before(existing.DetectedAt) {
			return Change{Kind: ChangeNone, Presence: existing}
		}
		return Change{Kind: ChangeRefreshed, Presence: next}
	default:
		return Change{
			Kind:             ChangeMoved,
			Presence:         next,
			PreviousDeviceID: existing.DeviceID,
			PreviousAreaID:   existing.AreaID,
		}
	}
}

// Snapshot returns a consistent copy of a location's presences after evicting expired ones.
func (s *Store) Snapshot(locationID string) Snapshot {
	var snap Snapshot
	s.Attach(locationID, func(taken Snapshot) {
		snap = taken
	})
	return snap
}

// Attach calls fn with a snapshot while the partition is still locked. No change to the
// location can be published until fn returns, which lets the caller register for deltas
// atomically with the snapshot. fn must not block or call back into the store.
func (s *Store) Attach(locationID string, fn func(Snapshot)) {
	p := s.partition(locationID)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := s.now()
	s.evictLocked(p, now)
	fn(p.snapshotLocked(now))
}

func (p *partition) snapshotLocked(now time.Time) Snapshot {
	presences := make([]Presence, 0, len(p.presences))
	for _, pr := range p.presences {
		presences = append(presences, pr)
	}
	return Snapshot{
		LocationID: p.id,
		Seq:        p.seq,
		Presences:  presences,
		TakenAt:    now.UTC(),
	}
}

// EvictExpired removes every presence older than its timeout and returns the
// removals. Each location publishes its removals as one batch.
func (s *Store) EvictExpired(now time.Time) []Change {
	var removed []Change
	for _, p := range s.snapshotPartitions() {
		p.mu.Lock()
		removed = append(removed, s.evictLocked(p, now)...)
		p.mu.Unlock()
	}
	return removed
}

// Evict removes the expired presences of a single location.
func (s *Store) Evict(locationID string, now time.Time) []Change {
	p := s.partition(locationID)

	p.mu.Lock()
	defer p.mu.Unlock()
	return s.evictLocked(p, now)
}

func (s *Store) evictLocked(p *partition, now time.Time) []Change {
	if s.timeout == nil {
		return nil
	}

	var removed []Change
	timeouts := make(map[string]time.Duration)
	for person, pr := range p.presences {
		timeout, ok := timeouts[pr.DeviceType]
		if !ok {
			timeout = s.timeout(p.id, pr.DeviceType)
			timeouts[pr.DeviceType] = timeout
		}
		if timeout > 0 && pr.Age(now) > timeout {
			delete(p.presences, person)
			removed = append(removed, Change{Kind: ChangeRemoved, Presence: pr})
		}
	}
	if len(removed) == 0 {
		return nil
	}
	// Stable order keeps delta batches deterministic.
	slices.SortFunc(removed, func(a, b Change) int {
		return a.Presence.DetectedAt.Compare(b.Presence.DetectedAt)
	})
	p.seq++
	s.publish(p, removed)
	return removed
}

func (s *Store) publish(p *partition, changes []Change) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(p.id, p.seq, changes)
}

func (s *Store) snapshotPartitions() []*partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		out = append(out, p)
	}
	return out
}

// Locations returns the ids of every location that has been seen.
func (s *Store) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Count returns the number of active presences in a location without evicting.
func (s *Store) Count(locationID string) int {
	s.mu.RLock()
	p, ok := s.partitions[locationID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.presences)
}
