// Package interfaces defines the core types and capability interfaces of
// the validation stack, separating contract definitions from
// implementations.
//
// # Storage Interfaces
//
// KeyStore: Maps a device's public identifier to its provisioned record
// (AES key, private identifier). Read-mostly; backed by memory, file,
// Vault, S3, or master-key derivation.
//
// ReplayStore: Holds the per-device replay high-water mark with an atomic
// compare-and-set, the only mutable shared state on the validation hot
// path.
//
// NonceLedger: Remembers recently seen (client, nonce) pairs to reject
// replayed requests, as opposed to replayed OTPs.
//
// ClientStore: Resolves API clients and their shared signing secrets.
//
// # Validation Interfaces
//
// Decryptor: The KSM core; turns a device record plus 16-byte ciphertext
// into a verified plaintext token.
//
// SyncNotifier: Pushes accepted replay state to sibling validators in
// redundant deployments.
//
// # Types
//
// PublicID, PrivateID and AESKey are the device identity material;
// DeviceRecord, ReplayState and ClientCredential are the persisted
// records; Status enumerates the client-visible response codes.
package interfaces
