// Package protocol implements the client-facing validation protocol:
// request parsing, HMAC-SHA1 signatures, response serialization and the
// precedence rules that map every failure to exactly one status.
package protocol

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strings"
)

// Sign computes the base64 HMAC-SHA1 signature over the parameter set.
// Pairs are sorted alphabetically by key and joined with "&" as k=v, with
// no escaping; an "h" key is excluded so requests and responses sign the
// same way.
func Sign(params map[string]string, secret []byte) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "h" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(strings.Join(pairs, "&")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided matches the signature of
// params under secret. Comparison is constant-time.
func VerifySignature(params map[string]string, secret []byte, provided string) bool {
	return hmac.Equal([]byte(Sign(params, secret)), []byte(provided))
}
