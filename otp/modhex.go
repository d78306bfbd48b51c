package otp

import (
	"fmt"
	"strings"
)

// ModhexAlphabet is the fixed 16-symbol alphabet emitted by the devices.
// The mapping is order-sensitive: byte value 0 encodes as 'c', 15 as 'v'.
const ModhexAlphabet = "cbdefghijklnrtuv"

// IsModhex reports whether s consists only of modhex characters.
func IsModhex(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(ModhexAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// ModhexEncode encodes raw bytes into the modhex alphabet, two characters
// per byte, high nibble first.
func ModhexEncode(src []byte) string {
	dst := make([]byte, 0, len(src)*2)
	for _, b := range src {
		dst = append(dst, ModhexAlphabet[b>>4], ModhexAlphabet[b&0x0f])
	}
	return string(dst)
}

// ModhexDecode decodes a modhex string into bytes. Unlike the lenient
// reference decoders it rejects characters outside the alphabet and odd
// length input instead of mapping them to zero.
func ModhexDecode(src string) ([]byte, error) {
	if len(src)%2 != 0 {
		return nil, fmt.Errorf("%w: odd modhex length %d", ErrMalformedOTP, len(src))
	}

	dst := make([]byte, len(src)/2)
	for i := 0; i < len(src); i += 2 {
		hi := strings.IndexByte(ModhexAlphabet, src[i])
		lo := strings.IndexByte(ModhexAlphabet, src[i+1])
		if hi < 0 || lo < 0 {
			return nil, fmt.Errorf("%w: invalid modhex character", ErrMalformedOTP)
		}
		dst[i/2] = byte(hi)<<4 | byte(lo)
	}
	return dst, nil
}
