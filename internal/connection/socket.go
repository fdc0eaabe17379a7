package connection

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fieldbus/modbus-cli/internal/config"
)

const (
	defaultMODBUSPort = "502"
)

type socketWrapper struct {
	socket net.Conn
}

func newSocketWrapper(s net.Conn) (sw *socketWrapper) {
	sw = &socketWrapper{
		socket: s,
	}

	return
}

// Closes the socket.
func (sw *socketWrapper) Close() (err error) {
	err = sw.socket.Close()

	return
}

// Reads bytes from the socket. Reads past the deadline return a net.Error
// whose Timeout() method returns true.
func (sw *socketWrapper) Read(rxbuf []byte) (cnt int, err error) {
	cnt, err = sw.socket.Read(rxbuf)

	return
}

// Sends the bytes over the wire.
func (sw *socketWrapper) Write(txbuf []byte) (cnt int, err error) {
	cnt, err = sw.socket.Write(txbuf)

	return
}

func (sw *socketWrapper) SetDeadline(deadline time.Time) (err error) {
	err = sw.socket.SetDeadline(deadline)

	return
}

// Returns addr with the MODBUS port appended if it has none.
func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, defaultMODBUSPort)
	}

	return addr
}

func dial(ctx context.Context, network string, c config.Config) (conn net.Conn, err error) {
	var dialer = net.Dialer{
		Timeout: timeoutOf(c),
	}

	conn, err = dialer.DialContext(ctx, network, withDefaultPort(c.Port))

	return
}

func openTCP(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var conn net.Conn

	conn, err = dial(ctx, "tcp", c)
	if err != nil {
		return
	}

	h, err = f.streamTransport(fmt.Sprintf("tcp(%s)", conn.RemoteAddr()), newSocketWrapper(conn), c)

	return
}
