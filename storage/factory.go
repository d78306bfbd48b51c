package storage

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/ksm"
)

// Factory creates storage backends from URI strings so deployments can
// pick a backend per concern with a single flag.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance that can create storage backends.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{log: logger}
}

// KeyStoreFor creates a device key store from a location URI.
//
// Supported schemes:
//   - memory:// - In-process map, for tests and single-node setups
//   - file:///path - One JSON document per device under a directory
//   - vault://host:port/mount/path?token=...&scheme=https - HashiCorp Vault KV v2
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=...&endpoint=... - S3 object per device
//   - derived://<hex master secret> - Keys derived per device, nothing stored
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) KeyStoreFor(locationURI string) (interfaces.KeyStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid key store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryKeyStore(), nil
	case "file":
		return NewFileKeyStore(filePath(u), f.log)
	case "vault":
		return f.createVaultKeyStore(u)
	case "s3":
		return f.createS3KeyStore(u)
	case "derived":
		master, err := hex.DecodeString(u.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid derived key store master secret: %w", err)
		}
		return ksm.NewDerivedKeyStore(master)
	default:
		return nil, fmt.Errorf("unsupported key store scheme: %s", u.Scheme)
	}
}

// ReplayStoreFor creates a replay state store from a location URI.
//
// Supported schemes:
//   - memory:// - In-process, per-device striped locking
//   - file:///path - One JSON document per device, single process only
//   - redis://host:port/db - Shared state for redundant validators
func (f *Factory) ReplayStoreFor(locationURI string) (interfaces.ReplayStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid replay store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryReplayStore(), nil
	case "file":
		return NewFileReplayStore(filePath(u), f.log)
	case "redis", "rediss":
		return NewRedisReplayStore(locationURI, f.log)
	default:
		return nil, fmt.Errorf("unsupported replay store scheme: %s", u.Scheme)
	}
}

// NonceLedgerFor creates a request nonce ledger from a location URI with
// the given retention window.
//
// Supported schemes:
//   - memory:// - In-process, pruned lazily
//   - redis://host:port/db - Shared ledger with TTL-based expiry
func (f *Factory) NonceLedgerFor(locationURI string, window time.Duration) (interfaces.NonceLedger, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce ledger URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryNonceLedger(window), nil
	case "redis", "rediss":
		return NewRedisNonceLedger(locationURI, window)
	default:
		return nil, fmt.Errorf("unsupported nonce ledger scheme: %s", u.Scheme)
	}
}

// createVaultKeyStore creates a Vault KV v2 key store.
// URI format: vault://host:port/mount/path?token=...&scheme=https
// The first path segment is the KV mount, the rest the path under it.
func (f *Factory) createVaultKeyStore(u *url.URL) (interfaces.KeyStore, error) {
	f.log.Debug("Creating vault key store", slog.String("host", u.Host))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid vault URI, expected vault://host:port/mount/path")
	}

	query := u.Query()
	scheme := query.Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := scheme + "://" + u.Host

	return NewVaultKeyStore(address, parts[0], parts[1], query.Get("token"), f.log)
}

// createS3KeyStore creates an S3 or S3-compatible key store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=custom.s3.com
func (f *Factory) createS3KeyStore(u *url.URL) (interfaces.KeyStore, error) {
	f.log.Debug("Creating S3 key store", slog.String("bucket", u.Host))

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	return NewS3KeyStore(u.Host, prefix, region, query.Get("endpoint"), accessKey, secretKey, f.log)
}

// filePath joins the host and path parts of a file:// URI so both
// file:///abs/path and file://rel/path resolve naturally.
func filePath(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	return u.Host + "/" + strings.TrimPrefix(u.Path, "/")
}
