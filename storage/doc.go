// Package storage provides the concrete backends behind the stack's
// capability interfaces, created from location URIs by a factory:
//
// Key stores (lookup of per-device AES keys and private identifiers):
//
//   - memory:// - in-process map, provisioned programmatically
//   - file:///path - one JSON document per device, atomic writes
//   - vault://host:port/mount/path - HashiCorp Vault KV v2
//   - s3://bucket/prefix - read-only replica of the file layout
//   - derived://<hex master> - HKDF derivation, no stored records
//
// Replay stores (per-device high-water mark with compare-and-set):
//
//   - memory:// - striped in-process locking
//   - file:///path - JSON documents behind a single-writer lock
//   - redis://host:port/db - Lua compare-and-set, shareable by several
//     validators
//
// Nonce ledgers (request replay detection within a retention window):
//
//   - memory:// - TTL map with lazy pruning
//   - redis://host:port/db - SET NX PX
package storage
