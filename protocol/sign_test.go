package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_SortsAndJoins(t *testing.T) {
	secret := []byte("test-api-key")

	// The signature is over the alphabetically sorted pairs, so parameter
	// order on the wire must not matter.
	a := Sign(map[string]string{"otp": "x", "id": "1", "nonce": "n"}, secret)
	b := Sign(map[string]string{"nonce": "n", "id": "1", "otp": "x"}, secret)
	assert.Equal(t, a, b)

	// Different parameters, different signature.
	c := Sign(map[string]string{"otp": "y", "id": "1", "nonce": "n"}, secret)
	assert.NotEqual(t, a, c)

	// A present h never contributes to the signature.
	d := Sign(map[string]string{"otp": "x", "id": "1", "nonce": "n", "h": a}, secret)
	assert.Equal(t, a, d)
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("test-api-key")
	params := map[string]string{"id": "1", "otp": "ccccc", "nonce": "0123456789abcdef"}

	sig := Sign(params, secret)
	assert.True(t, VerifySignature(params, secret, sig))
	assert.False(t, VerifySignature(params, secret, "AAAA"+sig[4:]))
	assert.False(t, VerifySignature(params, []byte("other-key"), sig))
}

func TestNonceValid(t *testing.T) {
	assert.True(t, NonceValid("0123456789abcdef"))
	assert.True(t, NonceValid("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	assert.False(t, NonceValid("short"))
	assert.False(t, NonceValid("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), "41 chars")
	assert.False(t, NonceValid("0123456789abcde!"))
	assert.False(t, NonceValid(""))
}
