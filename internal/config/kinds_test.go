package config

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCompatibility(t *testing.T) {
	for _, tc := range []struct {
		ck       ConnectionKind
		tk       TransportKind
		expected bool
	}{
		{Serial, RTU, true},
		{Serial, ASCII, true},
		{Serial, IP, false},
		{TCP, IP, true},
		{UDP, Tunnel, true},
		{Websocket, Tunnel, true},
		{Websocket, RTU, false},
		{BLE, IP, true},
		{CANUSBCOM, J1939, true},
		{CANUSBCOM, Socketcand, false},
		{CAN, Socketcand, true},
		{Generic, J1939, true},
		{Generic, Tunnel, false},
	} {
		if tc.ck.Supports(tc.tk) != tc.expected {
			t.Errorf("%s/%s: expected %v", tc.ck, tc.tk, tc.expected)
		}
		if (CheckCompatible(tc.ck, tc.tk) == nil) != tc.expected {
			t.Errorf("%s/%s: unexpected CheckCompatible() result", tc.ck, tc.tk)
		}
	}

	// every connection kind supports at least one transport
	for _, ck := range ConnectionKinds() {
		if len(ck.Transports()) == 0 {
			t.Errorf("%s: no transports", ck)
		}
	}

	return
}

func TestParseKinds(t *testing.T) {
	var ck ConnectionKind
	var tk TransportKind
	var err error

	ck, err = ParseConnectionKind("can-usb-com")
	if err != nil || ck != CANUSBCOM {
		t.Errorf("expected can-usb-com, got %v (%v)", ck, err)
	}

	_, err = ParseConnectionKind("CAN")
	if err == nil {
		t.Errorf("kinds should be case sensitive")
	}

	tk, err = ParseTransportKind("socketcand")
	if err != nil || tk != Socketcand {
		t.Errorf("expected socketcand, got %v (%v)", tk, err)
	}

	_, err = ParseTransportKind("")
	if err == nil {
		t.Errorf("ParseTransportKind() should have failed")
	}

	return
}

func TestKindUsage(t *testing.T) {
	var fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	var text string

	RegisterFlags(fs)

	text = fs.Lookup("connection").Usage
	for _, name := range []string{"serial", "tcp", "udp", "websocket", "ble", "can-usb-com", "can"} {
		if !strings.Contains(text, name) {
			t.Errorf("connection usage should mention %s: %q", name, text)
		}
	}
	if strings.Contains(text, string(Generic)) {
		t.Errorf("connection usage should not offer %s: %q", Generic, text)
	}

	text = fs.Lookup("transport").Usage
	if text != "transport kind: rtu, ascii, ip, j1939, tunnel, socketcand" {
		t.Errorf("unexpected transport usage: %q", text)
	}

	return
}
