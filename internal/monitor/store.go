package monitor

import (
	"sync"
	"time"
)

// AnomalyKind discriminates the two anomaly
// predicates tracked per series.
type AnomalyKind string

const (
	KindDrift     AnomalyKind = "drift"
	KindThreshold AnomalyKind = "threshold"
)

// Episode represents an anomaly that has
// been reported and must not be re-reported
// while it remains open.
type Episode struct {
	Kind              AnomalyKind `json:"kind"`
	OpenedAt          time.Time   `json:"opened_at"`
	LastNotifiedValue float64     `json:"last_notified_value"`
}

// SeriesState is the last-known observation
// of a series plus its open episodes. One
// exists per series identity ever observed
// in the current process lifetime.
type SeriesState struct {
	ID             SeriesID                `json:"id"`
	LastValue      float64                 `json:"last_value"`
	HasValue       bool                    `json:"has_value"`
	LastSampleTime time.Time               `json:"last_sample_time"`
	Episodes       map[AnomalyKind]Episode `json:"open_episodes,omitempty"`
}

// OpenEpisode returns whether an episode of
// the given kind is open on the series.
func (s SeriesState) OpenEpisode(kind AnomalyKind) bool {
	_, open := s.Episodes[kind]
	return open
}

type storeEntry struct {
	mu       sync.Mutex
	state    SeriesState
	lastSeen time.Time
}

// Store holds the last committed state per
// monitored series. Locking is per series
// identity; unrelated series never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[SeriesID]*storeEntry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[SeriesID]*storeEntry),
	}
}

// entry returns the entry for id, creating
// it if the series has never been seen.
func (s *Store) entry(id SeriesID) *storeEntry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		return e
	}

	e = &storeEntry{
		state: SeriesState{ID: id},
	}
	s.entries[id] = e

	return e
}

// Get returns a copy of the state for id.
// Absence is the expected steady state on
// first sight of a series, not a failure.
func (s *Store) Get(id SeriesID) (SeriesState, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return SeriesState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return copyState(e.state), true
}

// Upsert is the single mutation point for
// sample values: it swaps in the sample's
// value and time and returns what was held
// before the swap, so the caller can compute
// deltas without races. Open episodes are
// untouched.
func (s *Store) Upsert(id SeriesID, smp Sample) (SeriesState, bool) {
	e := s.entry(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := copyState(e.state)
	had := prev.HasValue

	e.state.LastValue = smp.Value
	e.state.HasValue = true
	e.state.LastSampleTime = smp.Time
	e.lastSeen = time.Now()

	return prev, had
}

// Open records an episode of the given kind
// on the series. Recording an already open
// kind refreshes its value but not its
// opened-at time.
func (s *Store) Open(id SeriesID, kind AnomalyKind, value float64, at time.Time) {
	e := s.entry(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Episodes == nil {
		e.state.Episodes = make(map[AnomalyKind]Episode)
	}

	ep, open := e.state.Episodes[kind]
	if !open {
		ep = Episode{Kind: kind, OpenedAt: at}
	}
	ep.LastNotifiedValue = value
	e.state.Episodes[kind] = ep
}

// Close clears an open episode of the given
// kind, re-arming future notifications.
func (s *Store) Close(id SeriesID, kind AnomalyKind) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.state.Episodes, kind)
}

// IsOpen returns whether an episode of the
// given kind is open on the series.
func (s *Store) IsOpen(id SeriesID, kind AnomalyKind) bool {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.OpenEpisode(kind)
}

// Snapshot returns a copy of every series
// state held by the store.
func (s *Store) Snapshot() []SeriesState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SeriesState, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, copyState(e.state))
		e.mu.Unlock()
	}

	return out
}

// Restore seeds the store with previously
// persisted states. Intended for startup,
// before any cycle runs.
func (s *Store) Restore(states []SeriesState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, st := range states {
		s.entries[st.ID] = &storeEntry{
			state:    copyState(st),
			lastSeen: now,
		}
	}
}

// Prune garbage-collects state for series
// that are no longer configured and have
// not been committed within the retention
// window. It returns the number of entries
// removed.
func (s *Store) Prune(configured map[SeriesID]struct{}, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0

	for id, e := range s.entries {
		if _, ok := configured[id]; ok {
			continue
		}
		if e.lastSeen.After(cutoff) {
			continue
		}

		delete(s.entries, id)
		removed++
	}

	return removed
}

func copyState(st SeriesState) SeriesState {
	out := st
	if st.Episodes != nil {
		out.Episodes = make(map[AnomalyKind]Episode, len(st.Episodes))
		for k, v := range st.Episodes {
			out.Episodes[k] = v
		}
	}

	return out
}
