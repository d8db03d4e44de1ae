package message

// BitArray expands b into its bits, least significant first.
func BitArray(b byte) [8]bool {
	var bits [8]bool
	for i := range bits {
		bits[i] = b&(1<<i) != 0
	}
	return bits
}

// FromBitArray packs bits, least significant first, into a byte.
func FromBitArray(bits [8]bool) byte {
	var b byte
	for i, set := range bits {
		if set {
			b |= 1 << i
		}
	}
	return b
}
