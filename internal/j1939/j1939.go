// Package j1939 implements the parts of SAE J1939 needed to carry
// application messages between two nodes of a CAN bus: 29-bit identifiers,
// address claiming and the transport protocol (BAM and RTS/CTS) for
// messages longer than 8 bytes.
package j1939

import (
	"encoding/binary"
)

type Error string

func (je Error) Error() (s string) {
	s = string(je)

	return
}

func (je Error) Timeout() (yes bool) {
	yes = (je == ErrTimeout)

	return
}

const (
	ErrTimeout      Error = "j1939: timed out"
	ErrClosed       Error = "j1939: port closed"
	ErrAddressClaim Error = "j1939: no address could be claimed"
	ErrTooLong      Error = "j1939: message too long"
	ErrAborted      Error = "j1939: transfer aborted by peer"
)

const (
	PGNRequest      uint32 = 0xea00
	PGNAddressClaim uint32 = 0xee00
	PGNTPCM         uint32 = 0xec00
	PGNTPDT         uint32 = 0xeb00
	PGNProprietaryA uint32 = 0xef00

	// source address of nodes which have not claimed an address
	AddressNull uint8 = 0xfe
	// destination address of broadcasts
	AddressGlobal uint8 = 0xff

	DefaultPriority uint8 = 6
	tpPriority      uint8 = 7

	// largest payload of a transport protocol transfer: 255 packets of 7
	MaxMessageLength int = 1785
)

// ID is a decoded 29-bit J1939 identifier.
// For PDU1 (peer to peer) PGNs, the low byte of PGN is zero and Dest holds
// the destination address. PDU2 PGNs are broadcasts: Dest is AddressGlobal.
type ID struct {
	Priority uint8
	PGN      uint32
	Source   uint8
	Dest     uint8
}

func (id ID) Encode() (raw uint32) {
	raw = uint32(id.Priority&0x7)<<26 | (id.PGN&0x3ffff)<<8 | uint32(id.Source)

	if isPDU1(id.PGN) {
		raw = raw&^0xff00 | uint32(id.Dest)<<8
	}

	return
}

func DecodeID(raw uint32) (id ID) {
	id.Priority = uint8(raw>>26) & 0x7
	id.Source = uint8(raw)
	id.PGN = (raw >> 8) & 0x3ffff

	if isPDU1(id.PGN) {
		id.Dest = uint8(id.PGN)
		id.PGN &^= 0xff
	} else {
		id.Dest = AddressGlobal
	}

	return
}

// PDU format below 240: the PDU specific byte is a destination address.
func isPDU1(pgn uint32) bool {
	return (pgn>>8)&0xff < 0xf0
}

// Name is the 64-bit NAME a node claims its address with. On contention,
// the lowest NAME keeps the address.
type Name uint64

const (
	arbitraryAddressCapable Name = 1 << 63
)

// Returns an arbitrary address capable NAME with the given 21-bit
// identity number.
func NewName(identity uint32) (n Name) {
	n = arbitraryAddressCapable | Name(identity&0x1fffff)

	return
}

// Returns true if the node may fall back to another address when it loses
// its preferred one.
func (n Name) ArbitraryAddressCapable() bool {
	return n&arbitraryAddressCapable != 0
}

func (n Name) bytes() (b []byte) {
	b = make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))

	return
}

func pgnBytes(pgn uint32) (b []byte) {
	b = []byte{uint8(pgn), uint8(pgn >> 8), uint8(pgn >> 16)}

	return
}

func pgnFromBytes(b []byte) (pgn uint32) {
	pgn = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16

	return
}
