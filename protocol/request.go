package protocol

import (
	"net/url"
	"strconv"
	"time"
)

// Nonce length bounds from Validation Protocol V2.
const (
	NonceMinLen = 16
	NonceMaxLen = 40
)

// VerifyRequest is a parsed verify call. Params holds every submitted
// key=value pair exactly as received, for signature verification.
type VerifyRequest struct {
	ClientID  string
	OTP       string
	Nonce     string
	Signature string

	// Timestamp requests counter and timestamp fields in the response.
	Timestamp bool

	// SyncLevel is the requested percentage of peers that must
	// acknowledge before answering, 0-100. -1 when not requested.
	SyncLevel int

	// Timeout is the client's answer deadline in seconds; zero when not
	// requested. A slow backend past the deadline answers BACKEND_ERROR
	// rather than hanging.
	Timeout time.Duration

	Params map[string]string
}

// ParseVerifyRequest extracts a verify request from submitted form
// values. It does not judge completeness; the processor applies the
// precedence rules on the parsed result.
func ParseVerifyRequest(values url.Values) VerifyRequest {
	req := VerifyRequest{
		ClientID:  values.Get("id"),
		OTP:       values.Get("otp"),
		Nonce:     values.Get("nonce"),
		Signature: values.Get("h"),
		Timestamp: values.Get("timestamp") == "1",
		SyncLevel: -1,
		Params:    make(map[string]string, len(values)),
	}

	switch sl := values.Get("sl"); sl {
	case "":
	case "fast":
		req.SyncLevel = 0
	case "secure":
		req.SyncLevel = 100
	default:
		if n, err := strconv.Atoi(sl); err == nil && n >= 0 && n <= 100 {
			req.SyncLevel = n
		}
	}

	if n, err := strconv.Atoi(values.Get("timeout")); err == nil && n > 0 {
		req.Timeout = time.Duration(n) * time.Second
	}

	for k := range values {
		req.Params[k] = values.Get(k)
	}
	return req
}

// NonceValid reports whether the nonce satisfies the protocol's length
// and alphabet rules.
func NonceValid(nonce string) bool {
	if len(nonce) < NonceMinLen || len(nonce) > NonceMaxLen {
		return false
	}
	for i := 0; i < len(nonce); i++ {
		c := nonce[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
