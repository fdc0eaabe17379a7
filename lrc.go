package modbus

// Returns the LRC of buf: the two's complement of the 8-bit sum of
// all bytes, as used by the ASCII framing.
func computeLRC(buf []byte) (lrc byte) {
	var sum byte

	for _, b := range buf {
		sum += b
	}

	lrc = byte(^sum + 1)

	return
}

func verifyLRC(buf []byte, lrc byte) (ok bool) {
	ok = computeLRC(buf) == lrc

	return
}
