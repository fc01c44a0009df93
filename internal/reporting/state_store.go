package reporting

import (
	"sync"
	"time"

	"mcpdash/internal/api"
)

// TargetSnapshot is the last-known observation of one target.
type TargetSnapshot struct {
	TargetID      string
	State         api.TargetState
	PID           int
	UptimeSeconds int64
	FirstSeen     time.Time
	LastChanged   time.Time
	LastObserved  time.Time
}

// TargetStateStore keeps the last-known lifecycle state per target. Records
// are created on first observation and updated on every poll; the store
// detects real state changes so the bus only carries transitions.
type TargetStateStore struct {
	mu      sync.RWMutex
	targets map[string]TargetSnapshot
	bus     *EventBus
}

// NewTargetStateStore creates a state store. bus may be nil when no
// subscriber surface is needed (tests).
func NewTargetStateStore(bus *EventBus) *TargetStateStore {
	return &TargetStateStore{
		targets: make(map[string]TargetSnapshot),
		bus:     bus,
	}
}

// Observe records a fresh status fetch, returning whether the lifecycle
// state actually changed. State changes are published to the bus.
func (s *TargetStateStore) Observe(status api.TargetStatus) bool {
	now := time.Now()

	s.mu.Lock()
	snapshot, exists := s.targets[status.TargetID]
	oldState := snapshot.State

	if !exists {
		snapshot = TargetSnapshot{
			TargetID:  status.TargetID,
			FirstSeen: now,
		}
	}
	changed := !exists || snapshot.State != status.State

	snapshot.State = status.State
	snapshot.PID = status.PID
	snapshot.UptimeSeconds = status.UptimeSeconds
	snapshot.LastObserved = now
	if changed {
		snapshot.LastChanged = now
	}
	s.targets[status.TargetID] = snapshot
	s.mu.Unlock()

	if changed && s.bus != nil {
		s.bus.Publish(NewTargetStateEvent(status.TargetID, oldState, status.State, status.PID))
	}
	return changed
}

// Get returns the snapshot for a target.
func (s *TargetStateStore) Get(targetID string) (TargetSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, exists := s.targets[targetID]
	return snapshot, exists
}

// All returns a copy of every known target snapshot.
func (s *TargetStateStore) All() map[string]TargetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string]TargetSnapshot, len(s.targets))
	for id, snapshot := range s.targets {
		all[id] = snapshot
	}
	return all
}
