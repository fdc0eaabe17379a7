package modbus

import (
	"testing"
)

func TestResponseBytes(t *testing.T) {
	for _, c := range []struct {
		res      *Response
		expected []byte
	}{
		{&Response{FunctionCode: fcReadHoldingRegisters, Data: []byte{0x02, 0x12, 0x34}}, []byte{0x12, 0x34}},
		{&Response{FunctionCode: fcReadMemory, Data: []byte{0x01, 0x55}}, []byte{0x55}},
		{&Response{FunctionCode: fcWriteSingleCoil, Data: []byte{0x00, 0x05, 0xff, 0x00}}, []byte{0x00, 0x05, 0xff, 0x00}},
		{&Response{FunctionCode: 0x65, Data: []byte{0x01}}, []byte{0x01}},
		{&Response{FunctionCode: fcReadCoils}, nil},
	} {
		b := c.res.Bytes()
		if string(b) != string(c.expected) {
			t.Errorf("fc 0x%02x: expected % x, got % x", c.res.FunctionCode, c.expected, b)
		}
	}

	return
}
