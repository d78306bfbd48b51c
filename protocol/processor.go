package protocol

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/otp"
	"github.com/tehmaze-labs/yubistack/val"
)

// Validator is the slice of the validation engine the protocol layer
// consumes.
type Validator interface {
	Validate(ctx context.Context, rawOTP string) val.Result
}

// Processor applies the validation protocol to one verify call: client
// resolution, signature and nonce checks, delegation to the validation
// engine, and response signing.
//
// When several failure conditions apply at once, exactly one status is
// returned, chosen by this order: an unidentifiable client (missing id,
// NO_SUCH_CLIENT) first, since without the client's secret no signature
// can be judged; then BAD_SIGNATURE; then MISSING_PARAMETER for the
// remaining required fields; then REPLAYED_REQUEST; then the OTP-level
// outcome, with NOT_ENOUGH_ANSWERS applied last to an otherwise accepted
// OTP.
type Processor struct {
	clients interfaces.ClientStore
	nonces  interfaces.NonceLedger
	engine  Validator
	log     *slog.Logger
	now     func() time.Time
}

// NewProcessor creates a protocol processor.
func NewProcessor(clients interfaces.ClientStore, nonces interfaces.NonceLedger, engine Validator, log *slog.Logger) *Processor {
	return &Processor{
		clients: clients,
		nonces:  nonces,
		engine:  engine,
		log:     log,
		now:     time.Now,
	}
}

// Process handles one verify call and returns the serialized response
// body. The response is always well-formed and signed with the client's
// secret when one is known, even for failure statuses.
func (p *Processor) Process(ctx context.Context, values url.Values) string {
	req := ParseVerifyRequest(values)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, secret := p.process(ctx, req)

	if req.OTP != "" {
		resp.Set("otp", req.OTP)
	}
	if req.Nonce != "" {
		resp.Set("nonce", req.Nonce)
	}
	return resp.Serialize(secret, p.now())
}

func (p *Processor) process(ctx context.Context, req VerifyRequest) (*Response, []byte) {
	if req.ClientID == "" {
		return NewResponse(interfaces.StatusMissingParameter), nil
	}

	credential, err := p.clients.LookupClient(ctx, req.ClientID)
	if errors.Is(err, interfaces.ErrNoSuchClient) {
		return NewResponse(interfaces.StatusNoSuchClient), nil
	}
	if err != nil {
		p.log.Error("Client lookup failed", "err", err, slog.String("clientID", req.ClientID))
		return NewResponse(interfaces.StatusBackendError), nil
	}

	if req.Signature != "" && !VerifySignature(req.Params, credential.Secret, req.Signature) {
		p.log.Info("Rejecting request with bad signature", slog.String("clientID", req.ClientID))
		return NewResponse(interfaces.StatusBadSignature), credential.Secret
	}

	if req.OTP == "" {
		return NewResponse(interfaces.StatusMissingParameter), credential.Secret
	}
	if req.Nonce != "" && !NonceValid(req.Nonce) {
		return NewResponse(interfaces.StatusMissingParameter), credential.Secret
	}

	if req.Nonce != "" {
		fresh, err := p.nonces.Remember(ctx, req.ClientID, req.Nonce)
		if err != nil {
			p.log.Error("Nonce ledger unavailable", "err", err, slog.String("clientID", req.ClientID))
			return NewResponse(interfaces.StatusBackendError), credential.Secret
		}
		if !fresh {
			p.log.Info("Rejecting replayed request nonce", slog.String("clientID", req.ClientID))
			return NewResponse(interfaces.StatusReplayedRequest), credential.Secret
		}
	}

	if publicID, _, err := otp.ParseOTP(req.OTP); err == nil {
		if id, err := interfaces.NewPublicID(publicID); err == nil && !credential.DeviceAllowed(id) {
			p.log.Info("Client not allowed to verify device",
				slog.String("clientID", req.ClientID),
				slog.String("publicID", id.String()))
			return NewResponse(interfaces.StatusOperationNotAllowed), credential.Secret
		}
	}

	result := p.engine.Validate(ctx, req.OTP)
	resp := NewResponse(result.Status)

	if result.Status == interfaces.StatusOK {
		achieved := syncLevel(result.SyncAcks, result.SyncPeers)
		if req.SyncLevel >= 0 {
			resp.Set("sl", strconv.Itoa(achieved))
			if achieved < req.SyncLevel {
				resp.Status = interfaces.StatusNotEnoughAnswers
				return resp, credential.Secret
			}
		}
		if req.Timestamp {
			resp.Set("timestamp", strconv.FormatUint(uint64(result.Timestamp), 10))
			resp.Set("sessioncounter", strconv.Itoa(int(result.Counter)))
			resp.Set("sessionuse", strconv.Itoa(int(result.Session)))
		}
	}
	return resp, credential.Secret
}

// syncLevel computes the achieved sync percentage, counting this
// validator alongside its acknowledging peers.
func syncLevel(acks, peers int) int {
	if peers == 0 {
		return 100
	}
	return (acks + 1) * 100 / (peers + 1)
}
