package j1939

import (
	"testing"
)

func TestIDEncoding(t *testing.T) {
	for _, tc := range []struct {
		id  ID
		raw uint32
	}{
		{ID{Priority: 6, PGN: PGNProprietaryA, Source: 0xfe, Dest: 0x10}, 0x18ef10fe},
		{ID{Priority: 6, PGN: PGNAddressClaim, Source: 0x80, Dest: AddressGlobal}, 0x18eeff80},
		{ID{Priority: 7, PGN: PGNTPDT, Source: 0x01, Dest: 0x02}, 0x1ceb0201},
		// PDU2: the destination is not part of the identifier
		{ID{Priority: 3, PGN: 0xfef1, Source: 0x00, Dest: AddressGlobal}, 0x0cfef100},
		// data page set
		{ID{Priority: 6, PGN: 0x1ef00, Source: 0x20, Dest: 0x30}, 0x19ef3020},
	} {
		if raw := tc.id.Encode(); raw != tc.raw {
			t.Errorf("%+v: expected 0x%08x, got 0x%08x", tc.id, tc.raw, raw)
		}
		if id := DecodeID(tc.raw); id != tc.id {
			t.Errorf("0x%08x: expected %+v, got %+v", tc.raw, tc.id, id)
		}
	}

	return
}

func TestName(t *testing.T) {
	var n = NewName(0xffffffff)

	if !n.ArbitraryAddressCapable() {
		t.Errorf("NewName() should be arbitrary address capable")
	}
	if uint64(n)&0x7fffffffffffffff != 0x1fffff {
		t.Errorf("the identity should be masked to 21 bits, got 0x%016x", uint64(n))
	}
	if Name(0x1234).ArbitraryAddressCapable() {
		t.Errorf("0x1234 is not arbitrary address capable")
	}

	b := Name(0x0102030405060708).bytes()
	if b[0] != 0x08 || b[7] != 0x01 {
		t.Errorf("expected little endian encoding, got % x", b)
	}

	return
}

func TestTransportProtocolHelpers(t *testing.T) {
	if packetCount(9) != 2 || packetCount(14) != 2 || packetCount(15) != 3 ||
		packetCount(MaxMessageLength) != 255 {
		t.Errorf("unexpected packet counts")
	}

	out := dtData([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 2)
	if len(out) != 8 || out[0] != 2 || out[1] != 8 || out[2] != 9 || out[3] != 0xff {
		t.Errorf("unexpected data packet % x", out)
	}

	cm := cmData(cmRTS, sizeFields(300, 43, 0xff), PGNProprietaryA)
	if len(cm) != 8 || cm[0] != cmRTS || cm[1] != 0x2c || cm[2] != 0x01 ||
		cm[3] != 43 || pgnFromBytes(cm[5:8]) != PGNProprietaryA {
		t.Errorf("unexpected control message % x", cm)
	}

	return
}
