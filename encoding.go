package modbus

import (
	"encoding/binary"
)

// All multi-byte quantities travel big-endian on the wire.

func uint16ToBytes(in uint16) (out []byte) {
	out = binary.BigEndian.AppendUint16(nil, in)

	return
}

func uint16sToBytes(in []uint16) (out []byte) {
	out = make([]byte, 0, 2*len(in))
	for _, v := range in {
		out = binary.BigEndian.AppendUint16(out, v)
	}

	return
}

func bytesToUint16(in []byte) (out uint16) {
	out = binary.BigEndian.Uint16(in)

	return
}

// Trailing odd bytes are ignored.
func bytesToUint16s(in []byte) (out []uint16) {
	for i := 0; i+1 < len(in); i += 2 {
		out = append(out, binary.BigEndian.Uint16(in[i:i+2]))
	}

	return
}

// Packs bools into bytes, 8 per byte, least significant bit first.
func encodeBools(in []bool) (out []byte) {
	out = make([]byte, (len(in)+7)/8)
	for i, b := range in {
		if b {
			out[i/8] |= 0x01 << (i % 8)
		}
	}

	return
}

// Unpacks at most quantity bools, stopping early if in runs out.
func decodeBools(quantity uint16, in []byte) (out []bool) {
	for i := 0; i < int(quantity) && i/8 < len(in); i++ {
		out = append(out, (in[i/8]>>(i%8))&0x01 == 0x01)
	}

	return
}
