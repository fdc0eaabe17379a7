package can

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

// fakeLine is the serial line of a fake SLCAN adapter: it acknowledges
// every command line and records everything written to it.
type fakeLine struct {
	lock    sync.Mutex
	rx      chan []byte
	written bytes.Buffer
	timeout time.Duration
	reject  string
	pending []byte
}

func newFakeLine() (fl *fakeLine) {
	fl = &fakeLine{
		rx: make(chan []byte, 16),
	}

	return
}

func (fl *fakeLine) Read(buf []byte) (n int, err error) {
	var timer *time.Timer

	fl.lock.Lock()
	if len(fl.pending) > 0 {
		n = copy(buf, fl.pending)
		fl.pending = fl.pending[n:]
		fl.lock.Unlock()
		return
	}
	timer = time.NewTimer(fl.timeout)
	fl.lock.Unlock()
	defer timer.Stop()

	select {
	case data := <-fl.rx:
		n = copy(buf, data)
		fl.lock.Lock()
		fl.pending = append(fl.pending, data[n:]...)
		fl.lock.Unlock()
	case <-timer.C:
	}

	return
}

func (fl *fakeLine) Write(buf []byte) (n int, err error) {
	fl.lock.Lock()
	defer fl.lock.Unlock()

	fl.written.Write(buf)
	n = len(buf)

	switch {
	case buf[0] == 't' || buf[0] == 'T':
		fl.rx <- []byte("z\r")
	case fl.reject != "" && string(buf) == fl.reject+"\r":
		fl.rx <- []byte("\a")
	default:
		fl.rx <- []byte("\r")
	}

	return
}

func (fl *fakeLine) Close() (err error) {
	return
}

func (fl *fakeLine) SetReadTimeout(timeout time.Duration) (err error) {
	fl.lock.Lock()
	defer fl.lock.Unlock()

	fl.timeout = timeout

	return
}

func TestEncodeSLCAN(t *testing.T) {
	for _, tc := range []struct {
		f        Frame
		expected string
	}{
		{Frame{Id: 0x123, Data: []byte{0x11, 0x22}}, "t12321122\r"},
		{Frame{Id: 0x7}, "t0070\r"},
		{Frame{Id: 0x18ef10fe, Extended: true, Data: []byte{0x03, 0xab}}, "T18EF10FE203AB\r"},
	} {
		line, err := encodeSLCAN(tc.f)
		if err != nil {
			t.Errorf("%v: encodeSLCAN() should have succeeded, got: %v", tc.f, err)
		}
		if string(line) != tc.expected {
			t.Errorf("%v: expected %q, got %q", tc.f, tc.expected, line)
		}
	}

	_, err := encodeSLCAN(Frame{Id: 0x1000})
	if err != ErrBadFrame {
		t.Errorf("expected ErrBadFrame, got: %v", err)
	}

	return
}

func TestDecodeSLCAN(t *testing.T) {
	var f Frame
	var err error

	f, err = decodeSLCAN([]byte("t1232AABB"))
	if err != nil || f.Id != 0x123 || f.Extended || !bytes.Equal(f.Data, []byte{0xaa, 0xbb}) {
		t.Errorf("unexpected frame %v (%v)", f, err)
	}

	// with a timestamp
	f, err = decodeSLCAN([]byte("T18EF10FE1551234"))
	if err != nil || f.Id != 0x18ef10fe || !f.Extended || !bytes.Equal(f.Data, []byte{0x55}) {
		t.Errorf("unexpected frame %v (%v)", f, err)
	}

	for _, line := range []string{"", "x123", "t12", "t1239", "t1232AAB", "t123\x2f", "t1231ZZ", "tFFF0"} {
		_, err = decodeSLCAN([]byte(line))
		if err != ErrBadFrame {
			t.Errorf("%q: expected ErrBadFrame, got: %v", line, err)
		}
	}

	return
}

func TestSLCANExchange(t *testing.T) {
	var fl *fakeLine
	var s *SLCAN
	var f Frame
	var err error

	fl = newFakeLine()

	s, err = NewSLCAN(fl, 250000)
	if err != nil {
		t.Fatalf("NewSLCAN() should have succeeded, got: %v", err)
	}
	if fl.written.String() != "C\rS5\rO\r" {
		t.Errorf("unexpected setup sequence %q", fl.written.String())
	}

	err = s.Send(Frame{Id: 0x321, Data: []byte{0x01}})
	if err != nil {
		t.Errorf("Send() should have succeeded, got: %v", err)
	}

	// the ack of the transmission is skipped, the frame split across
	// reads is reassembled
	fl.rx <- []byte("t45")
	fl.rx <- []byte("61FF\r")

	f, err = s.Receive(time.Now().Add(500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Receive() should have succeeded, got: %v", err)
	}
	if f.Id != 0x456 || len(f.Data) != 1 || f.Data[0] != 0xff {
		t.Errorf("unexpected frame %v", f)
	}

	_, err = s.Receive(time.Now().Add(50 * time.Millisecond))
	if err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got: %v", err)
	}

	return
}

func TestSLCANSetupErrors(t *testing.T) {
	var fl *fakeLine
	var err error

	_, err = NewSLCAN(newFakeLine(), 42)
	if err == nil {
		t.Errorf("NewSLCAN() should have failed on an unsupported bit rate")
	}

	fl = newFakeLine()
	fl.reject = "O"

	_, err = NewSLCAN(fl, 500000)
	if err == nil {
		t.Errorf("NewSLCAN() should have failed when the adapter rejects the open command")
	}

	return
}
