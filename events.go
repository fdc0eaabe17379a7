package modbus

import (
	"sync"
	"time"
)

type EventKind uint

const (
	// connection level notifications
	EventOpen EventKind = iota + 1
	EventClose
	EventError
	EventWrite
	EventData

	// master level notifications
	EventConnected

	// transaction level notifications
	EventRequest
	EventTimeout
	EventTxnError
	EventResponse
	EventComplete
	EventCancel
)

func (ek EventKind) String() (s string) {
	switch ek {
	case EventOpen:
		s = "open"
	case EventClose:
		s = "close"
	case EventError:
		s = "error"
	case EventWrite:
		s = "write"
	case EventData:
		s = "data"
	case EventConnected:
		s = "connected"
	case EventRequest:
		s = "request"
	case EventTimeout:
		s = "timeout"
	case EventTxnError:
		s = "transaction error"
	case EventResponse:
		s = "response"
	case EventComplete:
		s = "complete"
	case EventCancel:
		s = "cancel"
	default:
		s = "unknown"
	}

	return
}

// Event is a single notification published on an EventBus.
// Txn, Attempt, UnitId and FunctionCode are only set on transaction
// events; Data holds the raw bytes of write/data/response events.
type Event struct {
	Kind         EventKind
	Time         time.Time
	Source       string
	Txn          uint64
	Attempt      uint
	UnitId       uint8
	FunctionCode uint8
	Data         []byte
	Err          error
}

// EventBus carries notifications from connections and masters to
// whoever observes them. Publishing never blocks: events are dropped
// when the buffer is full or once the bus has been closed.
// All methods are safe to call on a nil *EventBus.
type EventBus struct {
	lock    sync.Mutex
	ch      chan Event
	closed  bool
	dropped uint64
}

func NewEventBus(depth int) (eb *EventBus) {
	if depth <= 0 {
		depth = 64
	}

	eb = &EventBus{
		ch: make(chan Event, depth),
	}

	return
}

// Publishes an event, stamping it with the current time if unset.
func (eb *EventBus) Publish(ev Event) {
	if eb == nil {
		return
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	eb.lock.Lock()
	defer eb.lock.Unlock()

	if eb.closed {
		return
	}

	select {
	case eb.ch <- ev:
	default:
		eb.dropped++
	}

	return
}

// Returns the channel events are delivered on. The channel is closed
// by Close().
func (eb *EventBus) Events() (ch <-chan Event) {
	if eb == nil {
		return
	}

	ch = eb.ch

	return
}

// Returns how many events were dropped because the buffer was full.
func (eb *EventBus) Dropped() (count uint64) {
	if eb == nil {
		return
	}

	eb.lock.Lock()
	defer eb.lock.Unlock()

	count = eb.dropped

	return
}

func (eb *EventBus) Close() {
	if eb == nil {
		return
	}

	eb.lock.Lock()
	defer eb.lock.Unlock()

	if !eb.closed {
		eb.closed = true
		close(eb.ch)
	}

	return
}
