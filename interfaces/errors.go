package interfaces

import "errors"

var (
	// ErrNoSuchDevice is returned when the key store holds no record for
	// a public identifier.
	ErrNoSuchDevice = errors.New("no such device")

	// ErrBadCRC is returned when the decrypted block fails its checksum.
	ErrBadCRC = errors.New("token CRC mismatch")

	// ErrPrivateIDMismatch is returned when the decrypted private
	// identifier does not match the provisioned one.
	ErrPrivateIDMismatch = errors.New("private id mismatch")

	// ErrNoSuchClient is returned when no client credential exists for a
	// request's client identifier.
	ErrNoSuchClient = errors.New("no such client")

	// ErrBackendUnavailable is returned when a storage backend cannot be
	// reached or fails mid-operation.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
