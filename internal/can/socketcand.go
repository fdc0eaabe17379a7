package can

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	socketcandHandshakeTimeout = 3 * time.Second
)

// Socketcand is a CAN bus reached through a socketcand daemon, in raw mode.
type Socketcand struct {
	conn    net.Conn
	reader  *bufio.Reader
	pending string
	txLock  sync.Mutex
	rxLock  sync.Mutex
}

// Connects to the socketcand daemon at addr (host:port) and opens bus.
func DialSocketcand(ctx context.Context, addr string, bus string) (s *Socketcand, err error) {
	var dialer net.Dialer
	var conn net.Conn

	conn, err = dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return
	}

	s, err = NewSocketcand(conn, bus)
	if err != nil {
		conn.Close()
	}

	return
}

// Runs the socketcand handshake over conn: wait for the greeting, open bus
// and switch to raw mode.
func NewSocketcand(conn net.Conn, bus string) (s *Socketcand, err error) {
	s = &Socketcand{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}

	err = conn.SetDeadline(time.Now().Add(socketcandHandshakeTimeout))
	if err != nil {
		return
	}

	err = s.expect("hi")
	if err != nil {
		return
	}

	for _, cmd := range []string{"open " + bus, "rawmode"} {
		err = s.write(cmd)
		if err != nil {
			return
		}

		err = s.expect("ok")
		if err != nil {
			return
		}
	}

	err = conn.SetDeadline(time.Time{})

	return
}

func (s *Socketcand) Send(f Frame) (err error) {
	var msg string

	err = f.Validate()
	if err != nil {
		return
	}

	if f.Extended {
		msg = fmt.Sprintf("send %08X %d", f.Id, len(f.Data))
	} else {
		msg = fmt.Sprintf("send %03X %d", f.Id, len(f.Data))
	}

	for _, b := range f.Data {
		msg += fmt.Sprintf(" %02X", b)
	}

	err = s.write(msg)

	return
}

// Receives the next frame. Other daemon messages are skipped, errors
// reported by the daemon are returned as ErrAdapterError.
func (s *Socketcand) Receive(deadline time.Time) (f Frame, err error) {
	var fields []string

	s.rxLock.Lock()
	defer s.rxLock.Unlock()

	err = s.conn.SetReadDeadline(deadline)
	if err != nil {
		return
	}

	for {
		fields, err = s.readMessage()
		if err != nil {
			return
		}

		switch {
		case len(fields) > 0 && fields[0] == "frame":
			f, err = decodeSocketcandFrame(fields)
			return
		case len(fields) > 0 && fields[0] == "error":
			err = fmt.Errorf("%w: %s", ErrAdapterError, strings.Join(fields[1:], " "))
			return
		}
	}
}

func (s *Socketcand) Close() (err error) {
	err = s.conn.Close()

	return
}

func (s *Socketcand) write(msg string) (err error) {
	s.txLock.Lock()
	defer s.txLock.Unlock()

	_, err = s.conn.Write([]byte("< " + msg + " >"))

	return
}

// Reads a message and checks that it is the expected one.
func (s *Socketcand) expect(expected string) (err error) {
	var fields []string

	fields, err = s.readMessage()
	if err != nil {
		return
	}

	if strings.Join(fields, " ") != expected {
		err = fmt.Errorf("%w: expected '< %s >', got '< %s >'",
			ErrAdapterError, expected, strings.Join(fields, " "))
	}

	return
}

// Reads a '< ... >' message and returns its fields.
// Partial messages interrupted by a timeout are kept for the next call.
func (s *Socketcand) readMessage() (fields []string, err error) {
	var chunk string
	var msg string
	var start int

	chunk, err = s.reader.ReadString('>')
	s.pending += chunk
	if err != nil {
		var ne net.Error

		if errors.As(err, &ne) && ne.Timeout() {
			err = ErrTimeout
		}
		return
	}

	msg, s.pending = s.pending, ""

	start = strings.IndexByte(msg, '<')
	if start < 0 {
		err = ErrBadFrame
		return
	}

	fields = strings.Fields(msg[start+1 : len(msg)-1])

	return
}

// Decodes the fields of a '< frame id seconds.useconds data >' message.
func decodeSocketcandFrame(fields []string) (f Frame, err error) {
	var id uint64
	var data string

	if len(fields) < 3 || len(fields) > 4 {
		err = ErrBadFrame
		return
	}

	id, err = strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		err = ErrBadFrame
		return
	}

	f.Id = uint32(id)
	f.Extended = len(fields[1]) > 3

	if len(fields) == 4 {
		data = fields[3]
	}

	f.Data, err = hex.DecodeString(data)
	if err != nil {
		err = ErrBadFrame
		return
	}

	err = f.Validate()

	return
}
