package connection

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fieldbus/modbus-cli/internal/config"
)

const (
	maxDatagramLength = 1024
)

// udpSockWrapper exposes a UDP socket both as a byte stream, for
// transports reading frames piecemeal, and as a message link exchanging
// whole datagrams.
type udpSockWrapper struct {
	sock  *net.UDPConn
	rxbuf []byte
	// unread bytes of the last datagram, aliasing rxbuf
	pending []byte
}

func newUDPSockWrapper(sock net.Conn) (usw *udpSockWrapper) {
	usw = &udpSockWrapper{
		rxbuf: make([]byte, maxDatagramLength),
		sock:  sock.(*net.UDPConn),
	}

	return
}

// Serves reads from the current datagram until it is used up, then
// waits for the next one.
func (usw *udpSockWrapper) Read(buf []byte) (rlen int, err error) {
	if len(usw.pending) == 0 {
		rlen, err = usw.sock.Read(usw.rxbuf)
		if err != nil {
			return
		}
		usw.pending = usw.rxbuf[0:rlen]
	}

	rlen = copy(buf, usw.pending)
	usw.pending = usw.pending[rlen:]

	return
}

// Reads a whole datagram. Bytes left over by a previous Read() are
// discarded.
func (usw *udpSockWrapper) ReadMessage() (msg []byte, err error) {
	var rlen int

	usw.pending = nil

	rlen, err = usw.sock.Read(usw.rxbuf)
	if err != nil {
		return
	}

	msg = append(msg, usw.rxbuf[0:rlen]...)

	return
}

func (usw *udpSockWrapper) WriteMessage(msg []byte) (err error) {
	_, err = usw.sock.Write(msg)

	return
}

func (usw *udpSockWrapper) Close() (err error) {
	err = usw.sock.Close()

	return
}

func (usw *udpSockWrapper) Write(buf []byte) (wlen int, err error) {
	wlen, err = usw.sock.Write(buf)

	return
}

func (usw *udpSockWrapper) SetDeadline(deadline time.Time) (err error) {
	err = usw.sock.SetDeadline(deadline)

	return
}

func openUDP(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var conn net.Conn

	conn, err = dial(ctx, "udp", c)
	if err != nil {
		return
	}

	h, err = f.messageTransport(fmt.Sprintf("udp(%s)", conn.RemoteAddr()), newUDPSockWrapper(conn), c)

	return
}
