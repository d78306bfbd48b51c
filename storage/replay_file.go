package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// FileReplayStore persists replay state as one JSON document per device.
// A single-writer mutex makes the read-compare-write cycle atomic within
// this process; the store must not be shared between validator processes
// (use the Redis store for that).
type FileReplayStore struct {
	baseDir string
	mu      sync.Mutex
	log     *slog.Logger
}

// NewFileReplayStore creates a file-backed replay store rooted at
// baseDir, creating the directory if needed.
func NewFileReplayStore(baseDir string, log *slog.Logger) (*FileReplayStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileReplayStore{baseDir: baseDir, log: log}, nil
}

// Get returns the stored state for id, or nil.
func (s *FileReplayStore) Get(ctx context.Context, id interfaces.PublicID) (*interfaces.ReplayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// CompareAndSet replaces the state for id if the stored value still
// matches expected on the (counter, session) pair.
func (s *FileReplayStore) CompareAndSet(ctx context.Context, id interfaces.PublicID, expected *interfaces.ReplayState, next interfaces.ReplayState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(id)
	if err != nil {
		return false, err
	}
	if !replayStatesMatch(stored, expected) {
		return false, nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(s.baseDir, ".state-*")
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return true, nil
}

func (s *FileReplayStore) read(id interfaces.PublicID) (*interfaces.ReplayState, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var state interfaces.ReplayState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: corrupt replay state: %v", interfaces.ErrBackendUnavailable, err)
	}
	return &state, nil
}

func (s *FileReplayStore) path(id interfaces.PublicID) string {
	return filepath.Join(s.baseDir, id.String()+".json")
}
