package modbus

import (
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	var eb *EventBus
	var ev Event

	eb = NewEventBus(2)

	eb.Publish(Event{Kind: EventOpen, Source: "serial"})
	eb.Publish(Event{Kind: EventWrite, Data: []byte{0x01}})
	// the buffer is full: this one is dropped rather than blocking
	eb.Publish(Event{Kind: EventData})

	if eb.Dropped() != 1 {
		t.Errorf("expected 1 dropped event, got %v", eb.Dropped())
	}

	ev = <-eb.Events()
	if ev.Kind != EventOpen || ev.Source != "serial" || ev.Time.IsZero() {
		t.Errorf("unexpected event %+v", ev)
	}
	ev = <-eb.Events()
	if ev.Kind != EventWrite {
		t.Errorf("unexpected event %+v", ev)
	}

	eb.Close()
	eb.Close()
	eb.Publish(Event{Kind: EventClose})

	if _, ok := <-eb.Events(); ok {
		t.Errorf("events channel should be closed")
	}

	return
}

func TestNilEventBus(t *testing.T) {
	var eb *EventBus

	eb.Publish(Event{Kind: EventError, Err: errors.New("boom")})
	eb.Close()

	if eb.Events() != nil || eb.Dropped() != 0 {
		t.Errorf("a nil bus should have no channel and no drops")
	}

	return
}

func TestEventKindString(t *testing.T) {
	for kind, s := range map[EventKind]string{
		EventOpen:      "open",
		EventConnected: "connected",
		EventTxnError:  "transaction error",
		EventCancel:    "cancel",
		EventKind(99):  "unknown",
	} {
		if kind.String() != s {
			t.Errorf("expected %q, got %q", s, kind.String())
		}
	}

	return
}
