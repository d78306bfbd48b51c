// Package otp implements the wire codec for hardware one-time passwords:
// the modhex alphabet, the device CRC, the split of an OTP string into
// public identifier and ciphertext, and the layout of the decrypted
// 16-byte token block.
package otp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// TokenSize is the encrypted (and decrypted) block size in bytes.
	TokenSize = 16

	// PrivateIDSize is the size of the secret identifier inside the block.
	PrivateIDSize = 6

	// CiphertextChars is the number of trailing modhex characters holding
	// the encrypted block.
	CiphertextChars = TokenSize * 2

	// MinOTPChars and MaxOTPChars bound the full OTP string: the public
	// identifier prefix may be 0 to 16 modhex characters long.
	MinOTPChars = CiphertextChars
	MaxOTPChars = CiphertextChars + 16
)

// ErrMalformedOTP indicates input that is not a well-formed OTP string or
// token block: wrong length, invalid alphabet, or inconsistent checksum.
var ErrMalformedOTP = errors.New("malformed OTP")

// Token is the decrypted content of an OTP block.
type Token struct {
	// Private is the secret per-device identifier, compared against the
	// provisioned value as an integrity check.
	Private [PrivateIDSize]byte

	// Counter is the non-volatile use counter, incremented on power-up.
	Counter uint16

	// TimestampLow and TimestampHigh form the 24-bit device clock.
	TimestampLow  uint16
	TimestampHigh uint8

	// Session counts button presses within one power-up session.
	Session uint8

	// Random is device-generated filler.
	Random uint16

	// CRC is the stored checksum (complement of the CRC over the first
	// 14 bytes).
	CRC uint16
}

// Timestamp returns the combined 24-bit device clock value.
func (t Token) Timestamp() uint32 {
	return uint32(t.TimestampHigh)<<16 | uint32(t.TimestampLow)
}

// ParseOTP splits a raw OTP string into its modhex public identifier and
// the decoded 16-byte ciphertext. The trailing 32 modhex characters are
// the ciphertext; whatever precedes them is the public identifier.
func ParseOTP(raw string) (publicID string, ciphertext [TokenSize]byte, err error) {
	if len(raw) < MinOTPChars || len(raw) > MaxOTPChars {
		return "", ciphertext, fmt.Errorf("%w: length %d outside [%d,%d]", ErrMalformedOTP, len(raw), MinOTPChars, MaxOTPChars)
	}
	if !IsModhex(raw) {
		return "", ciphertext, fmt.Errorf("%w: invalid modhex character", ErrMalformedOTP)
	}

	split := len(raw) - CiphertextChars
	publicID = raw[:split]

	decoded, err := ModhexDecode(raw[split:])
	if err != nil {
		return "", ciphertext, err
	}
	copy(ciphertext[:], decoded)
	return publicID, ciphertext, nil
}

// ParseToken decodes a decrypted 16-byte block into a Token. The checksum
// is verified before any field is interpreted; a block failing the CRC
// residue check is rejected as malformed.
func ParseToken(block []byte) (Token, error) {
	if len(block) != TokenSize {
		return Token{}, fmt.Errorf("%w: token block must be %d bytes", ErrMalformedOTP, TokenSize)
	}
	if !ValidCRC(block) {
		return Token{}, fmt.Errorf("%w: CRC mismatch", ErrMalformedOTP)
	}

	var t Token
	copy(t.Private[:], block[:PrivateIDSize])
	t.Counter = binary.LittleEndian.Uint16(block[6:])
	t.TimestampLow = binary.LittleEndian.Uint16(block[8:])
	t.TimestampHigh = block[10]
	t.Session = block[11]
	t.Random = binary.LittleEndian.Uint16(block[12:])
	t.CRC = binary.LittleEndian.Uint16(block[14:])
	return t, nil
}

// Serialize encodes the token into its 16-byte plaintext layout, computing
// and storing the checksum over the first 14 bytes. The CRC field of the
// receiver is ignored.
func (t Token) Serialize() [TokenSize]byte {
	var block [TokenSize]byte
	copy(block[:PrivateIDSize], t.Private[:])
	binary.LittleEndian.PutUint16(block[6:], t.Counter)
	binary.LittleEndian.PutUint16(block[8:], t.TimestampLow)
	block[10] = t.TimestampHigh
	block[11] = t.Session
	binary.LittleEndian.PutUint16(block[12:], t.Random)
	binary.LittleEndian.PutUint16(block[14:], ^ComputeCRC16(block[:14]))
	return block
}
