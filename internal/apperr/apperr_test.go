package apperr

import (
	"errors"
	"io"
	"testing"
)

func TestWrapKeepsFirstKind(t *testing.T) {
	var err error

	err = Wrap(Connection, "open serial", io.EOF)
	if KindOf(err) != Connection {
		t.Errorf("expected a connection error, got %v", KindOf(err))
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("wrapped error should unwrap to io.EOF")
	}

	// wrapping again keeps the original classification
	err = Wrap(Protocol, "read holding", err)
	if KindOf(err) != Connection {
		t.Errorf("expected a connection error, got %v", KindOf(err))
	}

	if Wrap(Protocol, "noop", nil) != nil {
		t.Errorf("wrapping nil should return nil")
	}

	return
}

func TestErrorMessages(t *testing.T) {
	for _, tc := range []struct {
		err error
		msg string
	}{
		{Argumentf("parse", "bad number %q", "zz"), `argument error: parse: bad number "zz"`},
		{Usagef("", "unknown action"), "usage error: unknown action"},
		{Configf("load", "corrupt"), "config error: load: corrupt"},
		{Connectionf("open", "no such port"), "connection error: open: no such port"},
	} {
		if tc.err.Error() != tc.msg {
			t.Errorf("expected %q, got %q", tc.msg, tc.err.Error())
		}
	}

	return
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Errorf("nil should map to 0")
	}
	if ExitCode(Usagef("", "x")) != 1 || ExitCode(io.EOF) != 1 {
		t.Errorf("errors should map to 1")
	}
	if KindOf(io.EOF) != 0 {
		t.Errorf("plain errors carry no kind")
	}

	return
}
