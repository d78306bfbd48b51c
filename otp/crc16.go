package otp

// CRC parameters used by the devices: reflected CRC-16 with polynomial
// 0x8408 and initial value 0xffff. Devices store the complement of the
// checksum over the first 14 plaintext bytes, so running the CRC over the
// full 16-byte block of a well-formed token always yields CRCResidue.
const (
	crcPoly = 0x8408

	// CRCResidue is the expected CRC over a full 16-byte token block.
	CRCResidue = 0xf0b8
)

// ComputeCRC16 calculates the device CRC over buf.
func ComputeCRC16(buf []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range buf {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			odd := crc&1 == 1
			crc >>= 1
			if odd {
				crc ^= crcPoly
			}
		}
	}
	return crc
}

// ValidCRC reports whether a decrypted 16-byte token block carries a
// checksum consistent with its payload.
func ValidCRC(block []byte) bool {
	return len(block) == TokenSize && ComputeCRC16(block) == CRCResidue
}
