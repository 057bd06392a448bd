package codec

// Checksum computes CRC-16/IBM (reflected polynomial 0xA001, zero initial
// value, no final xor) over data. Frames carry it zero-padded to four bytes
// over the span from the codec id through the trailing record count.
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
