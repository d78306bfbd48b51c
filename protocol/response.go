package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// Response is a verify answer before serialization. Extra holds the
// echoed and informational fields (otp, nonce, sl, timestamp data); h and
// t are filled in by Serialize.
type Response struct {
	Status interfaces.Status
	Extra  map[string]string
}

// NewResponse creates a response with the given status.
func NewResponse(status interfaces.Status) *Response {
	return &Response{Status: status, Extra: make(map[string]string)}
}

// Set records an extra response field.
func (r *Response) Set(key, value string) *Response {
	r.Extra[key] = value
	return r
}

// Serialize renders the response in the validation protocol's wire form:
// CRLF-separated key=value lines with h first, then t, the extra fields
// in sorted order, status, and a terminating blank line. The signature
// covers every emitted field and is computed with secret, which may be
// empty for clients without a configured API key.
func (r *Response) Serialize(secret []byte, now time.Time) string {
	t := protocolTimestamp(now)

	signed := make(map[string]string, len(r.Extra)+2)
	for k, v := range r.Extra {
		signed[k] = v
	}
	signed["status"] = string(r.Status)
	signed["t"] = t

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "h=%s\r\n", Sign(signed, secret))
	fmt.Fprintf(&b, "t=%s\r\n", t)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\r\n", k, r.Extra[k])
	}
	fmt.Fprintf(&b, "status=%s\r\n", r.Status)
	b.WriteString("\r\n")
	return b.String()
}

// ParseResponse parses a serialized response back into its key=value
// pairs, for clients and tests.
func ParseResponse(body string) map[string]string {
	params := make(map[string]string)
	for _, line := range strings.Split(body, "\r\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			params[k] = v
		}
	}
	return params
}

// protocolTimestamp renders t the way yubikey-val does: an UTC ISO-8601
// second timestamp with a Z separator and tenth-millisecond suffix.
func protocolTimestamp(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%sZ%04d", now.Format("2006-01-02T15:04:05"), now.Nanosecond()/100000)
}
