package modbus

import (
	"net"
	"testing"
	"time"
)

func TestAssembleMBAPFrame(t *testing.T) {
	var it *ipTransport
	var frame []byte

	it = &ipTransport{}

	frame = it.assembleMBAPFrame(0x9219, &pdu{
		unitId:       0x33,
		functionCode: 0x11,
		payload:      []byte{0x22, 0x33, 0x44, 0x55},
	})
	// expect 7 bytes of MBAP header + 1 bytes of function code + 4 bytes of payload
	if len(frame) != 12 {
		t.Errorf("expected 12 bytes, got %v", len(frame))
	}
	for i, b := range []byte{
		0x92, 0x19, // transaction identifier (big endian)
		0x00, 0x00, // protocol identifier
		0x00, 0x06, // length (big endian)
		0x33, 0x11, // unit id and function code
		0x22, 0x33, // payload
		0x44, 0x55, // payload
	} {
		if frame[i] != b {
			t.Errorf("expected 0x%02x at position %v, got 0x%02x", b, i, frame[i])
		}
	}

	return
}

func TestIPTransportReadResponse(t *testing.T) {
	var it *ipTransport
	var p1, p2 net.Conn
	var txchan chan []byte
	var err error
	var res *pdu

	txchan = make(chan []byte, 2)
	p1, p2 = net.Pipe()
	go feedTestPipe(t, txchan, p1)

	it = newIPTransport(p2, "", 10*time.Millisecond, nil)
	it.lastTxnId = 0x9218

	// read a valid response
	txchan <- []byte{
		0x92, 0x18, // transaction identifier (big endian)
		0x00, 0x00, // protocol identifier
		0x00, 0x04, // length (big endian)
		0x31, 0x06, // unit id and function code
		0x12, 0x34, // payload
	}
	res, err = it.readResponse()
	if err != nil {
		t.Errorf("readResponse() should have succeeded, got %v", err)
	}
	if res.unitId != 0x31 {
		t.Errorf("expected 0x31 as unit id, got 0x%02x", res.unitId)
	}
	if res.functionCode != 0x06 {
		t.Errorf("expected 0x06 as function code, got 0x%02x", res.functionCode)
	}
	if len(res.payload) != 2 || res.payload[0] != 0x12 || res.payload[1] != 0x34 {
		t.Errorf("expected {0x12, 0x34} as payload, got % x", res.payload)
	}

	// a frame with an unexpected transaction id followed by a frame with a
	// matching transaction id: the first frame should be silently skipped
	txchan <- []byte{
		0x92, 0x19, // transaction identifier (big endian)
		0x00, 0x00, // protocol identifier
		0x00, 0x04, // length (big endian)
		0x31, 0x06, // unit id and function code
		0x12, 0x34, // payload
	}
	txchan <- []byte{
		0x92, 0x18, // transaction identifier (big endian)
		0x00, 0x00, // protocol identifier
		0x00, 0x04, // length (big endian)
		0x39, 0x02, // unit id and function code
		0x10, 0x01, // payload
	}
	res, err = it.readResponse()
	if err != nil {
		t.Errorf("readResponse() should have succeeded, got %v", err)
	}
	if res.unitId != 0x39 {
		t.Errorf("expected 0x39 as unit id, got 0x%02x", res.unitId)
	}
	if res.functionCode != 0x02 {
		t.Errorf("expected 0x02 as function code, got 0x%02x", res.functionCode)
	}

	// a frame with an unexpected protocol id, skipped without error,
	// followed by a frame with an illegal length
	txchan <- []byte{
		0x92, 0x18, // transaction identifier (big endian)
		0x00, 0x01, // protocol identifier
		0x00, 0x04, // length (big endian)
		0x31, 0x06, // unit id and function code
		0x12, 0x34, // payload
	}
	txchan <- []byte{
		0x92, 0x18, // transaction identifier (big endian)
		0x00, 0x00, // protocol identifier
		0x00, 0x01, // length (big endian)
		0x31, // unit id
	}
	_, err = it.readResponse()
	if err != ErrProtocolError {
		t.Errorf("readResponse() should have returned ErrProtocolError, got %v", err)
	}

	// a huge frame
	txchan <- []byte{
		0x92, 0x18, // transaction identifier (big endian)
		0x00, 0x00, // protocol identifier
		0x10, 0x0a, // length (big endian)
		0x31, // unit id
	}
	_, err = it.readResponse()
	if err != ErrProtocolError {
		t.Errorf("readResponse() should have returned ErrProtocolError, got %v", err)
	}

	p1.Close()
	p2.Close()

	return
}

func TestIPTransportTimeout(t *testing.T) {
	var it *ipTransport
	var p1, p2 net.Conn
	var err error

	p1, p2 = net.Pipe()
	it = newIPTransport(p2, "", 20*time.Millisecond, nil)

	// drain whatever the transport sends, never answer
	go func() {
		var buf = make([]byte, 64)
		for {
			if _, err := p1.Read(buf); err != nil {
				return
			}
		}
	}()

	_, err = it.ExecuteRequest(&pdu{
		unitId:       0x01,
		functionCode: fcReadHoldingRegisters,
		payload:      []byte{0x00, 0x00, 0x00, 0x01},
	})
	if err != ErrRequestTimedOut {
		t.Errorf("expected ErrRequestTimedOut, got %v", err)
	}

	p1.Close()
	p2.Close()

	return
}
