package antfs

// CRC16 is CRC-16/ARC (reflected polynomial 0xA001) continued from seed.
func CRC16(data []byte, seed uint16) uint16 {
	rem := seed
	for _, b := range data {
		rem ^= uint16(b)
		for i := 0; i < 8; i++ {
			if rem&1 != 0 {
				rem = (rem >> 1) ^ 0xA001
			} else {
				rem >>= 1
			}
		}
	}
	return rem
}
