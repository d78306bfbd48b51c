package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// clientDocument is the on-disk form of one API client credential. The
// shared secret is base64, matching how the vendor hands out API keys.
type clientDocument struct {
	ID             string   `json:"id"`
	Secret         string   `json:"secret"`
	AllowedDevices []string `json:"allowed_devices,omitempty"`
}

// MemoryClientStore resolves API clients from an in-process map, loaded
// once at startup from a JSON credentials file or registered
// programmatically.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]interfaces.ClientCredential
}

// NewMemoryClientStore creates an empty client store.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]interfaces.ClientCredential)}
}

// LoadClientsFile creates a client store from a JSON file holding a list
// of client documents.
func LoadClientsFile(path string) (*MemoryClientStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}

	var docs []clientDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}

	store := NewMemoryClientStore()
	for _, doc := range docs {
		credential := interfaces.ClientCredential{ID: doc.ID}
		if doc.Secret != "" {
			credential.Secret, err = base64.StdEncoding.DecodeString(doc.Secret)
			if err != nil {
				return nil, fmt.Errorf("client %q has invalid base64 secret: %w", doc.ID, err)
			}
		}
		for _, device := range doc.AllowedDevices {
			publicID, err := interfaces.NewPublicID(device)
			if err != nil {
				return nil, fmt.Errorf("client %q allow list: %w", doc.ID, err)
			}
			credential.AllowedDevices = append(credential.AllowedDevices, publicID)
		}
		store.Register(credential)
	}
	return store, nil
}

// Register adds or replaces a client credential.
func (s *MemoryClientStore) Register(credential interfaces.ClientCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[credential.ID] = credential
}

// LookupClient returns the credential for id, or ErrNoSuchClient.
func (s *MemoryClientStore) LookupClient(ctx context.Context, id string) (interfaces.ClientCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credential, ok := s.clients[id]
	if !ok {
		return interfaces.ClientCredential{}, interfaces.ErrNoSuchClient
	}
	return credential, nil
}
