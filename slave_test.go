package modbus

import (
	"testing"
)

// unitTestHandler only answers unit id 9 and only has 10 of everything.
type unitTestHandler struct {
	*Device
	short bool
}

func (th *unitTestHandler) HandleHoldingRegisters(req *HoldingRegistersRequest) (res []uint16, err error) {
	if req.UnitId != 9 {
		// only reply to unit ID #9
		err = ErrIllegalFunction
		return
	}

	if req.Addr+req.Quantity > 10 {
		err = ErrIllegalDataAddress
		return
	}

	res, err = th.Device.HandleHoldingRegisters(req)

	// misbehave by returning one register too few
	if th.short && len(res) > 0 {
		res = res[1:]
	}

	return
}

func TestSlaveHandleRequest(t *testing.T) {
	var th *unitTestHandler
	var s *Slave
	var res *pdu
	var err error

	th = &unitTestHandler{Device: NewDevice(9)}
	s, err = NewSlave(&fakeTransport{}, th, nil)
	if err != nil {
		t.Fatalf("NewSlave() should have succeeded, got %v", err)
	}

	res, err = s.handleRequest(&pdu{
		unitId:       9,
		functionCode: fcWriteMultipleRegisters,
		payload:      []byte{0x00, 0x02, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44},
	})
	if err != nil {
		t.Fatalf("handleRequest() should have succeeded, got %v", err)
	}
	if res.functionCode != fcWriteMultipleRegisters || len(res.payload) != 4 || res.payload[3] != 0x02 {
		t.Errorf("unexpected response: %+v", res)
	}
	if th.HoldingRegister(3) != 0x3344 {
		t.Errorf("expected 0x3344 in register 3, got 0x%04x", th.HoldingRegister(3))
	}

	res, err = s.handleRequest(&pdu{
		unitId:       9,
		functionCode: fcReadHoldingRegisters,
		payload:      []byte{0x00, 0x02, 0x00, 0x02},
	})
	if err != nil {
		t.Fatalf("handleRequest() should have succeeded, got %v", err)
	}
	for i, b := range []byte{0x04, 0x11, 0x22, 0x33, 0x44} {
		if res.payload[i] != b {
			t.Errorf("expected 0x%02x at position %v, got 0x%02x", b, i, res.payload[i])
		}
	}

	// handler errors are passed through, to be mapped to exception codes
	_, err = s.handleRequest(&pdu{
		unitId:       8,
		functionCode: fcReadHoldingRegisters,
		payload:      []byte{0x00, 0x00, 0x00, 0x01},
	})
	if err != ErrIllegalFunction {
		t.Errorf("expected ErrIllegalFunction, got %v", err)
	}

	_, err = s.handleRequest(&pdu{
		unitId:       9,
		functionCode: fcReadHoldingRegisters,
		payload:      []byte{0x00, 0x09, 0x00, 0x02},
	})
	if err != ErrIllegalDataAddress {
		t.Errorf("expected ErrIllegalDataAddress, got %v", err)
	}

	// malformed requests are protocol errors
	for _, req := range []*pdu{
		{unitId: 9, functionCode: fcReadCoils, payload: []byte{0x00, 0x00, 0x00}},
		{unitId: 9, functionCode: fcReadHoldingRegisters, payload: []byte{0x00, 0x00, 0x00, 0x00}},
		{unitId: 9, functionCode: fcWriteSingleCoil, payload: []byte{0x00, 0x00, 0x12, 0x00}},
		{unitId: 9, functionCode: fcWriteMultipleCoils, payload: []byte{0x00, 0x00, 0x00, 0x09, 0x01, 0xff}},
	} {
		_, err = s.handleRequest(req)
		if err != ErrProtocolError {
			t.Errorf("fc 0x%02x: expected ErrProtocolError, got %v", req.functionCode, err)
		}
	}

	// handlers returning the wrong number of items
	th.short = true
	_, err = s.handleRequest(&pdu{
		unitId:       9,
		functionCode: fcReadHoldingRegisters,
		payload:      []byte{0x00, 0x00, 0x00, 0x02},
	})
	if err != ErrServerDeviceFailure {
		t.Errorf("expected ErrServerDeviceFailure, got %v", err)
	}

	return
}

func TestDeviceVendorRequests(t *testing.T) {
	var dev *Device
	var res []byte
	var err error

	dev = NewDevice(3)

	_, err = dev.HandleVendor(&VendorRequest{FunctionCode: 0x65})
	if err != ErrIllegalFunction {
		t.Errorf("expected ErrIllegalFunction, got %v", err)
	}

	// length field not matching the data
	_, err = dev.HandleVendor(&VendorRequest{
		FunctionCode: fcWriteMemory,
		Payload:      []byte{0x00, 0x00, 0x03, 0x01},
	})
	if err != ErrIllegalDataValue {
		t.Errorf("expected ErrIllegalDataValue, got %v", err)
	}

	// reading past the end of memory
	_, err = dev.HandleVendor(&VendorRequest{
		FunctionCode: fcReadMemory,
		Payload:      []byte{0xff, 0xff, 0x02},
	})
	if err != ErrIllegalDataAddress {
		t.Errorf("expected ErrIllegalDataAddress, got %v", err)
	}

	// reading an empty fifo
	res, err = dev.HandleVendor(&VendorRequest{
		FunctionCode: fcReadFifo,
		Payload:      []byte{0x01, 0x10},
	})
	if err != nil || len(res) != 2 || res[0] != 1 || res[1] != 0 {
		t.Errorf("unexpected fifo read result: % x, %v", res, err)
	}

	return
}
