package interfaces

import (
	"context"

	"github.com/tehmaze-labs/yubistack/otp"
)

// KeyStore resolves a device's provisioned record by public identifier.
type KeyStore interface {
	// Lookup returns the record for id, or ErrNoSuchDevice.
	Lookup(ctx context.Context, id PublicID) (DeviceRecord, error)
}

// ReplayStore persists the per-device replay high-water mark. It is shared
// by all concurrent requests for a device, so all mutation goes through
// CompareAndSet.
type ReplayStore interface {
	// Get returns the stored state for id, or nil when the device has
	// never been accepted.
	Get(ctx context.Context, id PublicID) (*ReplayState, error)

	// CompareAndSet atomically replaces the state for id with next if the
	// stored state still equals expected. A nil expected creates the
	// record only if absent. Returns false (and no error) on conflict.
	CompareAndSet(ctx context.Context, id PublicID, expected *ReplayState, next ReplayState) (bool, error)
}

// NonceLedger tracks recently seen (client, nonce) pairs within a bounded
// retention window.
type NonceLedger interface {
	// Remember records the pair and reports whether it was fresh. A false
	// return means the same client already used this nonce within the
	// window.
	Remember(ctx context.Context, clientID, nonce string) (bool, error)
}

// ClientStore resolves API client credentials.
type ClientStore interface {
	// LookupClient returns the credential for id, or ErrNoSuchClient.
	LookupClient(ctx context.Context, id string) (ClientCredential, error)
}

// Decryptor is the KSM core: it decrypts and verifies a single OTP block
// against a device record. Implementations are pure and must never log
// key material.
type Decryptor interface {
	// Decrypt returns the verified plaintext token, or ErrBadCRC /
	// ErrPrivateIDMismatch / otp.ErrMalformedOTP.
	Decrypt(record DeviceRecord, ciphertext [otp.TokenSize]byte) (otp.Token, error)
}

// SyncNotifier pushes accepted replay state to sibling validators. A
// single-instance deployment uses a no-op implementation.
type SyncNotifier interface {
	// Notify fans the state out to all peers and returns the number that
	// acknowledged before ctx expired, together with the peer count.
	Notify(ctx context.Context, id PublicID, state ReplayState) (acked, peers int)
}
