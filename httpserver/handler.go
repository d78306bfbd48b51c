package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/otp"
	"github.com/tehmaze-labs/yubistack/peers"
	"github.com/tehmaze-labs/yubistack/protocol"
)

// syncMergeAttempts bounds the compare-and-set loop when merging a peer's
// state push against concurrent local validations.
const syncMergeAttempts = 4

// Handler processes the validation service's API requests: client-facing
// verify calls, peer state pushes, and the KSM decrypt endpoint.
type Handler struct {
	processor *protocol.Processor
	replay    interfaces.ReplayStore
	keys      interfaces.KeyStore
	decryptor interfaces.Decryptor
	log       *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
//
// Parameters:
//   - processor: protocol layer handling verify calls end to end
//   - replay: replay store that peer pushes are merged into
//   - keys: key store backing the decrypt endpoint
//   - decryptor: KSM core backing the decrypt endpoint
//   - log: structured logger for operational insights
//
// Returns a configured Handler instance.
func NewHandler(processor *protocol.Processor, replay interfaces.ReplayStore, keys interfaces.KeyStore, decryptor interfaces.Decryptor, log *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		replay:    replay,
		keys:      keys,
		decryptor: decryptor,
		log:       log,
	}
}

// HandleVerify processes an OTP validation request.
//
// URL format: GET or POST /wsapi/2.0/verify
// Parameters (query or form): id, otp, and optional nonce, h, timestamp,
// sl.
//
// Response: the protocol's CRLF-separated key=value lines, always signed
// and always carrying exactly one status.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Malformed request", http.StatusBadRequest)
		return
	}

	body := h.processor.Process(r.Context(), r.Form)
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(body))
}

// HandleSync merges a replay-state push from a sibling validator.
//
// URL format: POST /wsapi/2.0/sync with yk_publicname, yk_counter,
// yk_use, yk_high, yk_low, modified and nonce form fields.
//
// The pushed state is applied only if it supersedes the local high-water
// mark; an older or equal push is acknowledged without a write, so
// validators can exchange state idempotently in both directions.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Malformed request", http.StatusBadRequest)
		return
	}

	id, pushed, err := peers.ParseSyncPush(r.PostForm)
	if err != nil {
		h.log.Warn("Rejecting malformed sync push", "err", err)
		http.Error(w, "Malformed sync parameters", http.StatusBadRequest)
		return
	}

	status := interfaces.StatusBackendError
	for attempt := 0; attempt < syncMergeAttempts; attempt++ {
		state, err := h.replay.Get(r.Context(), id)
		if err != nil {
			h.log.Error("Replay state read failed during sync", "err", err, slog.String("publicID", id.String()))
			break
		}
		if state != nil && !pushed.Supersedes(*state) {
			status = interfaces.StatusOK
			break
		}
		ok, err := h.replay.CompareAndSet(r.Context(), id, state, pushed)
		if err != nil {
			h.log.Error("Replay state write failed during sync", "err", err, slog.String("publicID", id.String()))
			break
		}
		if ok {
			h.log.Info("Merged peer replay state",
				slog.String("publicID", id.String()),
				slog.Int("counter", int(pushed.Counter)),
				slog.Int("session", int(pushed.Session)))
			status = interfaces.StatusOK
			break
		}
	}

	resp := protocol.NewResponse(status)
	resp.Set("yk_publicname", id.String())
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(resp.Serialize(nil, pushed.LastSeen)))
}

// HandleDecrypt exposes the KSM over a thin RPC for validators that do
// not hold device keys themselves.
//
// URL format: GET /wsapi/decrypt?otp=...
//
// Response: "OK counter=XXXX low=XXXX high=XX use=XX" with hex fields on
// success, or an "ERR reason" line. The private id never appears in the
// response.
func (h *Handler) HandleDecrypt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	rawOTP := r.URL.Query().Get("otp")
	publicID, ciphertext, err := otp.ParseOTP(rawOTP)
	if err != nil {
		fmt.Fprint(w, "ERR Invalid OTP format\n")
		return
	}
	id, err := interfaces.NewPublicID(publicID)
	if err != nil {
		fmt.Fprint(w, "ERR Invalid OTP format\n")
		return
	}

	record, err := h.keys.Lookup(r.Context(), id)
	if errors.Is(err, interfaces.ErrNoSuchDevice) {
		fmt.Fprint(w, "ERR Unknown yubikey\n")
		return
	}
	if err != nil {
		h.log.Error("Key store lookup failed", "err", err, slog.String("publicID", id.String()))
		fmt.Fprint(w, "ERR Backend failure\n")
		return
	}

	token, err := h.decryptor.Decrypt(record, ciphertext)
	if err != nil {
		fmt.Fprint(w, "ERR Corrupt OTP\n")
		return
	}

	h.log.Debug("Decrypted OTP", slog.String("publicID", id.String()), slog.Int("counter", int(token.Counter)))
	fmt.Fprintf(w, "OK counter=%04x low=%04x high=%02x use=%02x\n",
		token.Counter, token.TimestampLow, token.TimestampHigh, token.Session)
}
