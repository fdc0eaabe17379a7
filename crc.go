package modbus

type crc struct {
	crc uint16
}

// Resets the CRC to its initial value (0xffff).
func (c *crc) init() {
	c.crc = 0xffff

	return
}

// Runs the bytes of in through the CRC generator.
func (c *crc) add(in []byte) {
	var lsb uint16

	for _, b := range in {
		c.crc ^= uint16(b)

		for i := 0; i < 8; i++ {
			lsb = c.crc & 0x0001
			c.crc >>= 1
			if lsb == 0x0001 {
				c.crc ^= 0xa001
			}
		}
	}

	return
}

// Returns the CRC as 2 bytes, least significant byte first (as sent on the wire).
func (c *crc) value() (out []byte) {
	out = []byte{uint8(c.crc & 0xff), uint8(c.crc >> 8)}

	return
}

// Returns true if the CRC matches the 2 bytes passed as argument.
func (c *crc) isEqual(low byte, high byte) (yes bool) {
	yes = (c.crc == (uint16(high)<<8 | uint16(low)))

	return
}
