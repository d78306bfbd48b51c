package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// MemoryKeyStore keeps device records in an in-process map. Intended for
// tests and single-node setups provisioned at startup.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	devices map[interfaces.PublicID]interfaces.DeviceRecord
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{devices: make(map[interfaces.PublicID]interfaces.DeviceRecord)}
}

// Register adds or replaces a device record.
func (s *MemoryKeyStore) Register(record interfaces.DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.devices[record.PublicID] = record
}

// Remove deletes a device record.
func (s *MemoryKeyStore) Remove(id interfaces.PublicID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
}

// Lookup returns the record for id, or ErrNoSuchDevice.
func (s *MemoryKeyStore) Lookup(ctx context.Context, id interfaces.PublicID) (interfaces.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.devices[id]
	if !ok {
		return interfaces.DeviceRecord{}, interfaces.ErrNoSuchDevice
	}
	return record, nil
}
