package config

import (
	"github.com/fieldbus/modbus-cli/internal/apperr"
)

// ConnectionKind selects the physical link a MODBUS transport runs over.
type ConnectionKind string

const (
	Serial    ConnectionKind = "serial"
	TCP       ConnectionKind = "tcp"
	UDP       ConnectionKind = "udp"
	Websocket ConnectionKind = "websocket"
	BLE       ConnectionKind = "ble"
	CANUSBCOM ConnectionKind = "can-usb-com"
	CAN       ConnectionKind = "can"
	// pass-through link bound by the ble and can providers, never selected
	// by the user
	Generic ConnectionKind = "generic"
)

// TransportKind selects how MODBUS PDUs are framed over a connection.
type TransportKind string

const (
	RTU        TransportKind = "rtu"
	ASCII      TransportKind = "ascii"
	IP         TransportKind = "ip"
	J1939      TransportKind = "j1939"
	Tunnel     TransportKind = "tunnel"
	Socketcand TransportKind = "socketcand"
)

var connectionKinds = []ConnectionKind{
	Serial, TCP, UDP, Websocket, BLE, CANUSBCOM, CAN, Generic,
}

var transportKinds = []TransportKind{
	RTU, ASCII, IP, J1939, Tunnel, Socketcand,
}

var compatibility = map[ConnectionKind][]TransportKind{
	Serial:    {RTU, ASCII},
	TCP:       {IP},
	UDP:       {IP, Tunnel},
	Websocket: {IP, Tunnel},
	BLE:       {IP},
	CANUSBCOM: {J1939},
	CAN:       {J1939, Socketcand},
	Generic:   {IP, J1939},
}

func ConnectionKinds() []ConnectionKind {
	return append([]ConnectionKind(nil), connectionKinds...)
}

func TransportKinds() []TransportKind {
	return append([]TransportKind(nil), transportKinds...)
}

func ParseConnectionKind(s string) (ck ConnectionKind, err error) {
	for _, k := range connectionKinds {
		if string(k) == s {
			ck = k
			return
		}
	}

	err = apperr.Usagef("parse connection kind", "unknown connection kind '%s'", s)

	return
}

func ParseTransportKind(s string) (tk TransportKind, err error) {
	for _, k := range transportKinds {
		if string(k) == s {
			tk = k
			return
		}
	}

	err = apperr.Usagef("parse transport kind", "unknown transport kind '%s'", s)

	return
}

// Returns the transport kinds which can run over connections of kind ck.
func (ck ConnectionKind) Transports() []TransportKind {
	return append([]TransportKind(nil), compatibility[ck]...)
}

// Returns true if transport kind tk can run over connections of kind ck.
func (ck ConnectionKind) Supports(tk TransportKind) bool {
	for _, k := range compatibility[ck] {
		if k == tk {
			return true
		}
	}

	return false
}

// Returns an error if the connection/transport pair cannot work together.
func CheckCompatible(ck ConnectionKind, tk TransportKind) (err error) {
	if !ck.Supports(tk) {
		err = apperr.Usagef("check kinds",
			"transport '%s' cannot run over a '%s' connection (supported: %v)",
			tk, ck, ck.Transports())
	}

	return
}
