package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// VaultKeyStore reads device records from a HashiCorp Vault KV v2 mount.
// Each device lives at <mount>/data/<path>/<public id> with "aes_key" and
// "private_id" hex fields, so keys stay inside Vault's audit and access
// control perimeter instead of on the validator's disk.
type VaultKeyStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultKeyStore creates a Vault-backed key store. The token may be
// empty, in which case the standard VAULT_TOKEN environment handling of
// the API client applies.
func NewVaultKeyStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultKeyStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 10 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultKeyStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

// Lookup reads the record for id from Vault.
func (s *VaultKeyStore) Lookup(ctx context.Context, id interfaces.PublicID) (interfaces.DeviceRecord, error) {
	path := fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, id.String())

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault", slog.String("publicID", id.String()), "err", err)
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return interfaces.DeviceRecord{}, interfaces.ErrNoSuchDevice
	}

	// KV v2 wraps the payload in a "data" map.
	payload, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return interfaces.DeviceRecord{}, interfaces.ErrNoSuchDevice
	}

	doc := deviceDocument{PublicID: id.String()}
	if v, ok := payload["aes_key"].(string); ok {
		doc.AESKey = v
	}
	if v, ok := payload["private_id"].(string); ok {
		doc.PrivateID = v
	}
	if v, ok := payload["created_at"].(string); ok {
		if created, err := time.Parse(time.RFC3339, v); err == nil {
			doc.CreatedAt = created
		}
	}

	record, err := doc.toRecord()
	if err != nil {
		s.log.Error("Corrupt device record in Vault", slog.String("publicID", id.String()))
		return interfaces.DeviceRecord{}, err
	}
	return record, nil
}
