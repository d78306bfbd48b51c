package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tehmaze-labs/yubistack/otp"
)

// PublicID is the non-secret modhex identifier prefixed to every OTP a
// device emits. Canonically 12 characters (6 bytes), but the codec accepts
// 1 to 16 characters as the original stack does.
type PublicID string

// NewPublicID validates and returns a public identifier.
func NewPublicID(s string) (PublicID, error) {
	if len(s) == 0 || len(s) > 16 {
		return "", fmt.Errorf("invalid public id length %d", len(s))
	}
	if !otp.IsModhex(s) {
		return "", errors.New("public id must be modhex")
	}
	return PublicID(s), nil
}

// String returns the modhex form.
func (id PublicID) String() string { return string(id) }

// PrivateIDSize is the width of the secret device identifier.
const PrivateIDSize = otp.PrivateIDSize

// PrivateID is the secret 6-byte identifier embedded in every encrypted
// block, used only for an equality check after decryption.
type PrivateID [PrivateIDSize]byte

// NewPrivateIDFromHex parses a 12-character hex private identifier.
func NewPrivateIDFromHex(s string) (PrivateID, error) {
	var id PrivateID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid private id hex: %w", err)
	}
	if len(raw) != PrivateIDSize {
		return id, fmt.Errorf("private id must be %d bytes, got %d", PrivateIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String redacts the value; private identifiers must never reach logs.
func (id PrivateID) String() string { return "[private-id]" }

// Hex returns the hex encoding for persistence. Callers must not log it.
func (id PrivateID) Hex() string { return hex.EncodeToString(id[:]) }

// AESKeySize is the width of the per-device AES-128 key.
const AESKeySize = 16

// AESKey is a per-device AES-128 key.
type AESKey [AESKeySize]byte

// NewAESKeyFromHex parses a 32-character hex AES key.
func NewAESKeyFromHex(s string) (AESKey, error) {
	var key AESKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid AES key hex: %w", err)
	}
	if len(raw) != AESKeySize {
		return key, fmt.Errorf("AES key must be %d bytes, got %d", AESKeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// String redacts the value; keys must never reach logs.
func (k AESKey) String() string { return "[aes-key]" }

// Hex returns the hex encoding for persistence. Callers must not log it.
func (k AESKey) Hex() string { return hex.EncodeToString(k[:]) }

// DeviceRecord is the provisioned identity of one device. Owned by the
// key store; read-only to the validation engine.
type DeviceRecord struct {
	PublicID  PublicID  `json:"public_id"`
	PrivateID PrivateID `json:"-"`
	Key       AESKey    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplayState is the per-device high-water mark advanced on every accepted
// validation. The (Counter, Session) pair must be strictly increasing
// across accepted OTPs.
type ReplayState struct {
	// Counter is the device use counter of the last accepted OTP.
	Counter uint16 `json:"counter"`

	// Session is the session counter of the last accepted OTP.
	Session uint8 `json:"session"`

	// Timestamp is the 24-bit device clock of the last accepted OTP.
	Timestamp uint32 `json:"timestamp"`

	// LastSeen is the wall-clock time of the last acceptance.
	LastSeen time.Time `json:"last_seen"`

	// SyncSource names the peer this state arrived from, empty when the
	// acceptance was local.
	SyncSource string `json:"sync_source,omitempty"`
}

// Supersedes reports whether s is strictly newer than old under the
// lexicographic (use counter, session counter) order.
func (s ReplayState) Supersedes(old ReplayState) bool {
	if s.Counter != old.Counter {
		return s.Counter > old.Counter
	}
	return s.Session > old.Session
}

// ClientCredential identifies an API client allowed to submit validation
// requests. Owned by the provisioning layer; read-only here.
type ClientCredential struct {
	// ID is the client identifier sent as the request's "id" parameter.
	ID string `json:"id"`

	// Secret is the shared HMAC-SHA1 key, empty for unsigned clients.
	Secret []byte `json:"-"`

	// AllowedDevices optionally scopes the client to specific devices.
	// Empty means any device.
	AllowedDevices []PublicID `json:"allowed_devices,omitempty"`
}

// DeviceAllowed reports whether the client may validate OTPs for the
// given device.
func (c ClientCredential) DeviceAllowed(id PublicID) bool {
	if len(c.AllowedDevices) == 0 {
		return true
	}
	for _, allowed := range c.AllowedDevices {
		if allowed == id {
			return true
		}
	}
	return false
}
