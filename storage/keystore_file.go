package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// deviceDocument is the on-disk form of a device record. Secret fields are
// hex encoded; the document file itself is created mode 0600.
type deviceDocument struct {
	PublicID  string    `json:"public_id"`
	PrivateID string    `json:"private_id"`
	AESKey    string    `json:"aes_key"`
	CreatedAt time.Time `json:"created_at"`
}

// FileKeyStore stores one JSON document per device under a base
// directory. Writes go through a temp file and rename so a crashed write
// never leaves a torn record.
type FileKeyStore struct {
	baseDir string
	log     *slog.Logger
}

// NewFileKeyStore creates a file-backed key store rooted at baseDir,
// creating the directory if needed.
func NewFileKeyStore(baseDir string, log *slog.Logger) (*FileKeyStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	return &FileKeyStore{baseDir: baseDir, log: log}, nil
}

// Lookup reads the record for id, or returns ErrNoSuchDevice.
func (s *FileKeyStore) Lookup(ctx context.Context, id interfaces.PublicID) (interfaces.DeviceRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return interfaces.DeviceRecord{}, interfaces.ErrNoSuchDevice
	}
	if err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var doc deviceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: corrupt device record: %v", interfaces.ErrBackendUnavailable, err)
	}
	return doc.toRecord()
}

// Register persists a device record.
func (s *FileKeyStore) Register(record interfaces.DeviceRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	doc := deviceDocument{
		PublicID:  record.PublicID.String(),
		PrivateID: record.PrivateID.Hex(),
		AESKey:    record.Key.Hex(),
		CreatedAt: record.CreatedAt,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	target := s.path(record.PublicID)
	tmp, err := os.CreateTemp(s.baseDir, ".device-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write device record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	s.log.Debug("Stored device record", slog.String("publicID", record.PublicID.String()))
	return os.Rename(tmp.Name(), target)
}

// Remove deprovisions a device. Removing an unknown device is not an
// error.
func (s *FileKeyStore) Remove(id interfaces.PublicID) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileKeyStore) path(id interfaces.PublicID) string {
	// PublicID is validated modhex, safe as a file name.
	return filepath.Join(s.baseDir, id.String()+".json")
}

func (doc deviceDocument) toRecord() (interfaces.DeviceRecord, error) {
	publicID, err := interfaces.NewPublicID(doc.PublicID)
	if err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	privateID, err := interfaces.NewPrivateIDFromHex(doc.PrivateID)
	if err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	key, err := interfaces.NewAESKeyFromHex(doc.AESKey)
	if err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	return interfaces.DeviceRecord{
		PublicID:  publicID,
		PrivateID: privateID,
		Key:       key,
		CreatedAt: doc.CreatedAt,
	}, nil
}
