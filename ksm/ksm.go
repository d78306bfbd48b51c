// Package ksm implements the Key Storage Module core: decryption and
// verification of OTP ciphertext blocks against provisioned device
// records, plus a key store that derives per-device secrets from a master
// key for deployments without a key database.
package ksm

import (
	"crypto/aes"
	"crypto/subtle"
	"fmt"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/otp"
)

// KSM decrypts OTP blocks. It is stateless and safe for concurrent use;
// all key material stays on the stack for the duration of one call and is
// never logged.
type KSM struct{}

// New creates the decryptor.
func New() *KSM {
	return &KSM{}
}

// Decrypt performs a single-block AES-128 decryption of ciphertext with
// the record's key, verifies the checksum, and compares the embedded
// private identifier against the provisioned one.
//
// Returns interfaces.ErrBadCRC when the plaintext fails the CRC residue
// check and interfaces.ErrPrivateIDMismatch when the private identifier
// differs; the latter also catches a wrong key whose garbage plaintext
// happens to pass the CRC.
func (k *KSM) Decrypt(record interfaces.DeviceRecord, ciphertext [otp.TokenSize]byte) (otp.Token, error) {
	cipher, err := aes.NewCipher(record.Key[:])
	if err != nil {
		return otp.Token{}, fmt.Errorf("bad device key: %w", err)
	}

	var block [otp.TokenSize]byte
	cipher.Decrypt(block[:], ciphertext[:])

	if !otp.ValidCRC(block[:]) {
		return otp.Token{}, interfaces.ErrBadCRC
	}

	token, err := otp.ParseToken(block[:])
	if err != nil {
		return otp.Token{}, err
	}

	if subtle.ConstantTimeCompare(token.Private[:], record.PrivateID[:]) != 1 {
		return otp.Token{}, interfaces.ErrPrivateIDMismatch
	}

	return token, nil
}

// EncryptToken builds the ciphertext block for a token under the given
// key. Used by provisioning tooling and tests to mint OTPs without
// hardware; real devices do this on-chip.
func EncryptToken(key interfaces.AESKey, token otp.Token) [otp.TokenSize]byte {
	cipher, _ := aes.NewCipher(key[:])

	block := token.Serialize()
	var out [otp.TokenSize]byte
	cipher.Encrypt(out[:], block[:])
	return out
}

// MintOTP produces the full modhex OTP string a device with the given
// record would emit for the token.
func MintOTP(record interfaces.DeviceRecord, token otp.Token) string {
	token.Private = record.PrivateID
	encrypted := EncryptToken(record.Key, token)
	return record.PublicID.String() + otp.ModhexEncode(encrypted[:])
}
