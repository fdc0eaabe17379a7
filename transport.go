package modbus

import (
	"time"
)

// Transport frames PDUs over a physical link. Transports are created with
// one of the New*Transport functions below and consumed either by a Master
// (ExecuteRequest) or by a Slave (ReadRequest/WriteResponse).
type Transport interface {
	Close() error
	ExecuteRequest(*pdu) (*pdu, error)
	ReadRequest() (*pdu, error)
	WriteResponse(*pdu) error
}

// Link is a byte stream link: a serial line, a stream socket or a BLE
// characteristic pair.
// Read should return ErrRequestTimedOut (or any error whose Timeout()
// method returns true) once the deadline set by SetDeadline has passed.
type Link interface {
	Close() error
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	SetDeadline(time.Time) error
}

// MessageLink is a datagram link where each message carries exactly one
// frame (websocket, udp).
type MessageLink interface {
	Close() error
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	SetDeadline(time.Time) error
}

// MessagePort is an addressed message link, where both ends of a
// conversation are identified by a node address (e.g. J1939 over CAN).
type MessagePort interface {
	Close() error
	Address() uint8
	SendTo(addr uint8, data []byte) error
	ReceiveFrom(deadline time.Time) (addr uint8, data []byte, err error)
}
