package ksm

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// DerivedKeyStore derives each device's AES key and private identifier
// from a master secret with HKDF-SHA256, so no per-device key database has
// to exist. Any well-formed public identifier resolves; whether the OTP
// verifies then depends entirely on the device having been personalized
// from the same master secret.
type DerivedKeyStore struct {
	master []byte
}

// Derivation labels. Changing either re-keys every device.
const (
	deriveInfoAES = "yubistack/v1/aes"
	deriveInfoUID = "yubistack/v1/uid"
)

// NewDerivedKeyStore creates a derived key store. The master secret must
// be at least 32 bytes.
func NewDerivedKeyStore(master []byte) (*DerivedKeyStore, error) {
	if len(master) < 32 {
		return nil, errors.New("master secret must be at least 32 bytes")
	}

	store := &DerivedKeyStore{master: make([]byte, len(master))}
	copy(store.master, master)
	return store, nil
}

// Lookup derives the record for id.
func (s *DerivedKeyStore) Lookup(ctx context.Context, id interfaces.PublicID) (interfaces.DeviceRecord, error) {
	record := interfaces.DeviceRecord{
		PublicID:  id,
		CreatedAt: time.Unix(0, 0).UTC(),
	}

	if err := s.derive(deriveInfoAES, id, record.Key[:]); err != nil {
		return interfaces.DeviceRecord{}, err
	}
	if err := s.derive(deriveInfoUID, id, record.PrivateID[:]); err != nil {
		return interfaces.DeviceRecord{}, err
	}
	return record, nil
}

// derive fills dst with HKDF output bound to the label and public
// identifier.
func (s *DerivedKeyStore) derive(label string, id interfaces.PublicID, dst []byte) error {
	reader := hkdf.New(sha256.New, s.master, nil, []byte(label+":"+id.String()))
	if _, err := io.ReadFull(reader, dst); err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	return nil
}
