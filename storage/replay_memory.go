package storage

import (
	"context"
	"sync"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// MemoryReplayStore keeps replay state in process memory with a lock per
// device, so concurrent validations of the same device serialize while
// different devices proceed independently.
type MemoryReplayStore struct {
	mu      sync.RWMutex
	devices map[interfaces.PublicID]*replaySlot
}

type replaySlot struct {
	mu    sync.Mutex
	state *interfaces.ReplayState
}

// NewMemoryReplayStore creates an empty in-memory replay store.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{devices: make(map[interfaces.PublicID]*replaySlot)}
}

func (s *MemoryReplayStore) slot(id interfaces.PublicID) *replaySlot {
	s.mu.RLock()
	slot, ok := s.devices[id]
	s.mu.RUnlock()
	if ok {
		return slot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok = s.devices[id]; !ok {
		slot = &replaySlot{}
		s.devices[id] = slot
	}
	return slot
}

// Get returns a copy of the stored state for id, or nil.
func (s *MemoryReplayStore) Get(ctx context.Context, id interfaces.PublicID) (*interfaces.ReplayState, error) {
	slot := s.slot(id)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.state == nil {
		return nil, nil
	}
	state := *slot.state
	return &state, nil
}

// CompareAndSet replaces the state for id if the stored value still
// matches expected on the (counter, session) pair.
func (s *MemoryReplayStore) CompareAndSet(ctx context.Context, id interfaces.PublicID, expected *interfaces.ReplayState, next interfaces.ReplayState) (bool, error) {
	slot := s.slot(id)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !replayStatesMatch(slot.state, expected) {
		return false, nil
	}
	state := next
	slot.state = &state
	return true, nil
}

// replayStatesMatch compares the monotonic key of two states; both nil
// counts as a match (create-if-absent).
func replayStatesMatch(stored, expected *interfaces.ReplayState) bool {
	if stored == nil || expected == nil {
		return stored == nil && expected == nil
	}
	return stored.Counter == expected.Counter && stored.Session == expected.Session
}
