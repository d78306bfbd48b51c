package otp

import (
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModhexEncodeKnownVectors(t *testing.T) {
	// "dteffuje" <-> 2d344e83 is the vendor's published example.
	raw, err := hex.DecodeString("2d344e83")
	require.NoError(t, err)
	assert.Equal(t, "dteffuje", ModhexEncode(raw))

	decoded, err := ModhexDecode("dteffuje")
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	assert.Equal(t, "cc", ModhexEncode([]byte{0x00}))
	assert.Equal(t, "vv", ModhexEncode([]byte{0xff}))
}

func TestModhexRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		buf := make([]byte, rng.Intn(32)+1)
		rng.Read(buf)

		decoded, err := ModhexDecode(ModhexEncode(buf))
		require.NoError(t, err)
		assert.Equal(t, buf, decoded)
	}
}

func TestModhexDecodeRejectsInvalidInput(t *testing.T) {
	_, err := ModhexDecode("ccx")
	assert.ErrorIs(t, err, ErrMalformedOTP)

	// 'a' is valid hex but not valid modhex.
	_, err = ModhexDecode("aa")
	assert.ErrorIs(t, err, ErrMalformedOTP)

	_, err = ModhexDecode("ccc")
	assert.ErrorIs(t, err, ErrMalformedOTP)
}

func TestComputeCRC16ReferenceVector(t *testing.T) {
	// Reference pair from the original validator's test suite.
	buf, err := hex.DecodeString("16e1e5d9d3991004452007e302000000")
	require.NoError(t, err)
	assert.Equal(t, uint16(22744), ComputeCRC16(buf))
}

func TestSerializeProducesValidCRC(t *testing.T) {
	tok := Token{
		Private:       [6]byte{0x8b, 0xad, 0xf0, 0x0d, 0x01, 0x02},
		Counter:       19,
		TimestampLow:  0x9d15,
		TimestampHigh: 0xac,
		Session:       3,
		Random:        0xbeef,
	}

	block := tok.Serialize()
	assert.True(t, ValidCRC(block[:]))

	parsed, err := ParseToken(block[:])
	require.NoError(t, err)
	assert.Equal(t, tok.Private, parsed.Private)
	assert.Equal(t, tok.Counter, parsed.Counter)
	assert.Equal(t, tok.Session, parsed.Session)
	assert.Equal(t, uint32(0xac9d15), parsed.Timestamp())
}

func TestParseTokenRejectsCorruptBlock(t *testing.T) {
	tok := Token{Counter: 1}
	block := tok.Serialize()
	block[3] ^= 0x40

	_, err := ParseToken(block[:])
	assert.ErrorIs(t, err, ErrMalformedOTP)

	_, err = ParseToken(block[:10])
	assert.ErrorIs(t, err, ErrMalformedOTP)
}

func TestParseOTP(t *testing.T) {
	cipher := strings.Repeat("cbde", 8)
	require.Len(t, cipher, CiphertextChars)

	publicID, block, err := ParseOTP("cccccccccccc" + cipher)
	require.NoError(t, err)
	assert.Equal(t, "cccccccccccc", publicID)
	assert.Equal(t, byte(0x01), block[0]&0x0f)

	// Bare 32-character OTP has an empty public identifier.
	publicID, _, err = ParseOTP(cipher)
	require.NoError(t, err)
	assert.Empty(t, publicID)

	_, _, err = ParseOTP(cipher[:31])
	assert.ErrorIs(t, err, ErrMalformedOTP)

	_, _, err = ParseOTP(strings.Repeat("c", MaxOTPChars+2))
	assert.ErrorIs(t, err, ErrMalformedOTP)

	_, _, err = ParseOTP("x" + cipher)
	assert.ErrorIs(t, err, ErrMalformedOTP)
}
