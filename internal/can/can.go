// Package can provides a minimal CAN bus abstraction and adapters for
// SocketCAN interfaces, SLCAN (serial line) adapters and socketcand
// daemons.
package can

import (
	"fmt"
	"sync"
	"time"
)

type Error string

func (ce Error) Error() (s string) {
	s = string(ce)

	return
}

// Timeout returns true for ErrTimeout, so that callers can tell timeouts
// apart without knowing this package.
func (ce Error) Timeout() (yes bool) {
	yes = (ce == ErrTimeout)

	return
}

const (
	ErrTimeout      Error = "can: receive timed out"
	ErrClosed       Error = "can: bus closed"
	ErrBadFrame     Error = "can: malformed frame"
	ErrAdapterError Error = "can: adapter error"
	ErrUnsupported  Error = "can: not supported on this platform"

	maxStandardId uint32 = 0x7ff
	maxExtendedId uint32 = 0x1fffffff
	maxDataLength int    = 8
)

type Frame struct {
	Id       uint32
	Extended bool
	Data     []byte
}

// Returns an error if the identifier or the data length are out of range.
func (f Frame) Validate() (err error) {
	if (!f.Extended && f.Id > maxStandardId) || f.Id > maxExtendedId ||
		len(f.Data) > maxDataLength {
		err = ErrBadFrame
	}

	return
}

func (f Frame) String() (s string) {
	if f.Extended {
		s = fmt.Sprintf("%08x [%d] % x", f.Id, len(f.Data), f.Data)
	} else {
		s = fmt.Sprintf("%03x [%d] % x", f.Id, len(f.Data), f.Data)
	}

	return
}

// Bus is a CAN bus endpoint. Receive returns ErrTimeout once deadline has
// passed without a frame.
type Bus interface {
	Send(Frame) error
	Receive(deadline time.Time) (Frame, error)
	Close() error
}

// Hub is an in-memory CAN bus: every frame sent by one member is received
// by all the others.
type Hub struct {
	lock    sync.Mutex
	members []*hubMember
}

type hubMember struct {
	hub  *Hub
	rx   chan Frame
	done chan struct{}
	once sync.Once
}

func NewHub() (h *Hub) {
	h = &Hub{}

	return
}

// Returns a new bus endpoint attached to the hub.
func (h *Hub) Join() (b Bus) {
	var m = &hubMember{
		hub:  h,
		rx:   make(chan Frame, 256),
		done: make(chan struct{}),
	}

	h.lock.Lock()
	h.members = append(h.members, m)
	h.lock.Unlock()

	b = m

	return
}

func (hm *hubMember) Send(f Frame) (err error) {
	err = f.Validate()
	if err != nil {
		return
	}

	select {
	case <-hm.done:
		err = ErrClosed
		return
	default:
	}

	hm.hub.lock.Lock()
	defer hm.hub.lock.Unlock()

	for _, m := range hm.hub.members {
		if m == hm {
			continue
		}

		select {
		case m.rx <- Frame{Id: f.Id, Extended: f.Extended, Data: append([]byte(nil), f.Data...)}:
		default:
			// overrun: the frame is lost for this member, like on a real bus
		}
	}

	return
}

func (hm *hubMember) Receive(deadline time.Time) (f Frame, err error) {
	var timer = time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case f = <-hm.rx:
	case <-timer.C:
		err = ErrTimeout
	case <-hm.done:
		err = ErrClosed
	}

	return
}

func (hm *hubMember) Close() (err error) {
	hm.once.Do(func() {
		close(hm.done)

		hm.hub.lock.Lock()
		defer hm.hub.lock.Unlock()

		for i, m := range hm.hub.members {
			if m == hm {
				hm.hub.members = append(hm.hub.members[:i], hm.hub.members[i+1:]...)
				break
			}
		}
	})

	return
}
