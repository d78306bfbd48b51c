// Package val implements the validation engine: the pipeline that takes a
// raw OTP string through decode, key lookup, decryption and replay
// evaluation, and produces a protocol status.
package val

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/metrics"
	"github.com/tehmaze-labs/yubistack/otp"
)

// casAttempts bounds the replay compare-and-set loop. A conflict means a
// concurrent request for the same device won the race; after a re-read the
// loser almost always resolves to REPLAYED_OTP on the next pass.
const casAttempts = 4

// Result is the outcome of validating one OTP. On StatusOK the device's
// public id and plaintext counters are exposed for audit logging; the
// private id and AES key never leave the decryptor.
type Result struct {
	Status   interfaces.Status
	PublicID interfaces.PublicID

	// Counter fields are only meaningful when Status is StatusOK.
	Counter   uint16
	Session   uint8
	Timestamp uint32

	// SyncAcks and SyncPeers report how many sibling validators
	// acknowledged the accepted state, for sync-level accounting.
	SyncAcks  int
	SyncPeers int
}

// Engine wires the key store, decryptor and replay store into the
// validation pipeline. All methods are safe for concurrent use.
type Engine struct {
	keys      interfaces.KeyStore
	decryptor interfaces.Decryptor
	replay    interfaces.ReplayStore
	notifier  interfaces.SyncNotifier
	log       *slog.Logger
	now       func() time.Time
}

// Config collects the collaborators for a validation engine.
type Config struct {
	KeyStore    interfaces.KeyStore
	Decryptor   interfaces.Decryptor
	ReplayStore interfaces.ReplayStore

	// SyncNotifier may be nil for single-instance deployments.
	SyncNotifier interfaces.SyncNotifier

	Log *slog.Logger
}

// NewEngine creates a validation engine from its collaborators.
func NewEngine(cfg Config) *Engine {
	notifier := cfg.SyncNotifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		keys:      cfg.KeyStore,
		decryptor: cfg.Decryptor,
		replay:    cfg.ReplayStore,
		notifier:  notifier,
		log:       cfg.Log,
		now:       time.Now,
	}
}

// Validate runs the full pipeline for one raw OTP string.
//
// The pipeline is: modhex decode, key store lookup, AES decrypt with CRC
// and private-id verification, then replay evaluation against the stored
// (counter, session) high-water mark. Acceptance is pushed to sync peers
// best-effort; a failed push never fails the validation.
//
// Parameters:
//   - ctx: request context, bounds backend I/O
//   - rawOTP: the OTP exactly as submitted by the client
//
// Returns a Result whose Status maps directly onto the protocol status
// vocabulary. Backend failures yield StatusBackendError, never a panic.
func (e *Engine) Validate(ctx context.Context, rawOTP string) Result {
	started := e.now()
	result := e.validate(ctx, rawOTP)
	metrics.ValidationsTotal.WithLabelValues(string(result.Status)).Inc()
	metrics.ValidationDuration.Observe(e.now().Sub(started).Seconds())
	return result
}

func (e *Engine) validate(ctx context.Context, rawOTP string) Result {
	publicID, ciphertext, err := otp.ParseOTP(rawOTP)
	if err != nil {
		return Result{Status: interfaces.StatusBadOTP}
	}

	id, err := interfaces.NewPublicID(publicID)
	if err != nil {
		return Result{Status: interfaces.StatusBadOTP}
	}

	record, err := e.lookup(ctx, id)
	if errors.Is(err, interfaces.ErrNoSuchDevice) {
		// An unknown device is indistinguishable from a mistyped OTP to
		// the caller, and saying more would leak provisioning state.
		e.log.Debug("Rejecting OTP for unknown device", slog.String("publicID", id.String()))
		return Result{Status: interfaces.StatusBadOTP}
	}
	if err != nil {
		e.log.Error("Key store lookup failed", "err", err, slog.String("publicID", id.String()))
		return Result{Status: interfaces.StatusBackendError}
	}

	token, err := e.decryptor.Decrypt(record, ciphertext)
	if err != nil {
		metrics.DecryptsTotal.WithLabelValues("rejected").Inc()
		e.log.Debug("OTP failed decryption", slog.String("publicID", id.String()))
		return Result{Status: interfaces.StatusBadOTP}
	}
	metrics.DecryptsTotal.WithLabelValues("ok").Inc()

	next := interfaces.ReplayState{
		Counter:   token.Counter,
		Session:   token.Session,
		Timestamp: token.Timestamp(),
		LastSeen:  e.now().UTC(),
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		state, err := e.replay.Get(ctx, id)
		if err != nil {
			e.log.Error("Replay state read failed", "err", err, slog.String("publicID", id.String()))
			return Result{Status: interfaces.StatusBackendError}
		}

		if state != nil && !next.Supersedes(*state) {
			e.log.Info("Replayed OTP rejected",
				slog.String("publicID", id.String()),
				slog.Int("counter", int(token.Counter)),
				slog.Int("session", int(token.Session)))
			return Result{Status: interfaces.StatusReplayedOTP}
		}

		ok, err := e.replay.CompareAndSet(ctx, id, state, next)
		if err != nil {
			e.log.Error("Replay state write failed", "err", err, slog.String("publicID", id.String()))
			return Result{Status: interfaces.StatusBackendError}
		}
		if !ok {
			// Lost the race against a concurrent request; re-read and
			// re-evaluate against the fresh high-water mark.
			continue
		}

		acked, peers := e.notifier.Notify(ctx, id, next)
		e.log.Info("OTP accepted",
			slog.String("publicID", id.String()),
			slog.Int("counter", int(token.Counter)),
			slog.Int("session", int(token.Session)))
		return Result{
			Status:    interfaces.StatusOK,
			PublicID:  id,
			Counter:   token.Counter,
			Session:   token.Session,
			Timestamp: token.Timestamp(),
			SyncAcks:  acked,
			SyncPeers: peers,
		}
	}

	e.log.Error("Replay compare-and-set did not converge", slog.String("publicID", id.String()))
	return Result{Status: interfaces.StatusBackendError}
}

// lookup reads the device record, retrying once on a transient backend
// failure so a single dropped connection does not fail the validation.
func (e *Engine) lookup(ctx context.Context, id interfaces.PublicID) (interfaces.DeviceRecord, error) {
	record, err := e.keys.Lookup(ctx, id)
	if err == nil || errors.Is(err, interfaces.ErrNoSuchDevice) {
		return record, err
	}
	e.log.Warn("Key store lookup failed, retrying", "err", err, slog.String("publicID", id.String()))
	return e.keys.Lookup(ctx, id)
}

// noopNotifier is the single-instance stand-in for peer sync.
type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, id interfaces.PublicID, state interfaces.ReplayState) (int, int) {
	return 0, 0
}
