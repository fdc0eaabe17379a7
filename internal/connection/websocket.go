package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fieldbus/modbus-cli/internal/config"
)

const (
	ErrNotConnected Error = "websocket not connected"
	ErrLinkClosed   Error = "link closed"
)

type Error string

func (ce Error) Error() (s string) {
	s = string(ce)

	return
}

// wsLink carries MODBUS traffic over a websocket, one binary message per
// frame. A failed connection is dropped and dialed again, following the
// reconnection policy, on the next write.
type wsLink struct {
	url      string
	policy   config.WebsocketPolicy
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	lock     sync.Mutex
	conn     *websocket.Conn
	deadline time.Time
	rxbuf    []byte
	closed   bool
}

// Dials url, retrying as per policy.
func dialWebsocket(ctx context.Context, url string, policy config.WebsocketPolicy, logger zerolog.Logger) (wl *wsLink, err error) {
	wl = &wsLink{
		url:    url,
		policy: policy,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: time.Duration(policy.Timeout) * time.Millisecond,
		},
	}

	wl.conn, err = wl.connect(ctx)
	if err != nil {
		wl = nil
	}

	return
}

// Returns a link over an established connection, which is never redialed.
func newWebsocketLink(conn *websocket.Conn) (wl *wsLink) {
	wl = &wsLink{
		conn:   conn,
		logger: zerolog.Nop(),
	}

	return
}

// Dials the url up to 1 + policy.Attempts times, doubling the delay
// between attempts up to policy.MaxDelay.
func (wl *wsLink) connect(ctx context.Context) (conn *websocket.Conn, err error) {
	var delay = time.Duration(wl.policy.Delay) * time.Millisecond
	var maxDelay = time.Duration(wl.policy.MaxDelay) * time.Millisecond

	for attempt := 0; ; attempt++ {
		conn, _, err = wl.dialer.DialContext(ctx, wl.url, nil)
		if err == nil {
			wl.logger.Debug().Str("url", wl.url).Int("attempt", attempt).Msg("websocket connected")
			return
		}

		if attempt >= wl.policy.Attempts {
			return
		}

		wl.logger.Debug().Err(err).Str("url", wl.url).Dur("delay", delay).
			Msg("websocket dial failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Returns the current connection, reconnecting first if needed and
// allowed.
func (wl *wsLink) current(reconnect bool) (conn *websocket.Conn, err error) {
	wl.lock.Lock()
	defer wl.lock.Unlock()

	if wl.closed {
		err = ErrLinkClosed
		return
	}

	if wl.conn == nil && reconnect && wl.url != "" {
		wl.conn, err = wl.connect(context.Background())
		if err != nil {
			return
		}
	}

	if wl.conn == nil {
		err = ErrNotConnected
		return
	}

	conn = wl.conn

	return
}

// Drops conn if it still is the current connection.
func (wl *wsLink) drop(conn *websocket.Conn, cause error) {
	wl.lock.Lock()
	defer wl.lock.Unlock()

	if wl.conn == conn {
		wl.logger.Debug().Err(cause).Msg("dropping websocket connection")
		wl.conn.Close()
		wl.conn = nil
		wl.rxbuf = nil
	}

	return
}

func (wl *wsLink) ReadMessage() (msg []byte, err error) {
	var conn *websocket.Conn

	conn, err = wl.current(false)
	if err != nil {
		return
	}

	err = conn.SetReadDeadline(wl.getDeadline())
	if err != nil {
		return
	}

	for {
		var kind int

		kind, msg, err = conn.ReadMessage()
		if err != nil {
			// the connection is unusable after any read error,
			// timeouts included
			wl.drop(conn, err)
			return
		}

		if kind == websocket.BinaryMessage {
			return
		}
	}
}

func (wl *wsLink) WriteMessage(msg []byte) (err error) {
	var conn *websocket.Conn

	conn, err = wl.current(true)
	if err != nil {
		return
	}

	err = conn.SetWriteDeadline(wl.getDeadline())
	if err != nil {
		return
	}

	err = conn.WriteMessage(websocket.BinaryMessage, msg)
	if err != nil {
		wl.drop(conn, err)
	}

	return
}

// Reads bytes off the current message, reading the next one when it is
// exhausted.
func (wl *wsLink) Read(buf []byte) (n int, err error) {
	if len(wl.rxbuf) == 0 {
		wl.rxbuf, err = wl.ReadMessage()
		if err != nil {
			return
		}
	}

	n = copy(buf, wl.rxbuf)
	wl.rxbuf = wl.rxbuf[n:]

	return
}

func (wl *wsLink) Write(buf []byte) (n int, err error) {
	err = wl.WriteMessage(buf)
	if err == nil {
		n = len(buf)
	}

	return
}

func (wl *wsLink) SetDeadline(deadline time.Time) (err error) {
	wl.lock.Lock()
	defer wl.lock.Unlock()

	wl.deadline = deadline

	return
}

func (wl *wsLink) getDeadline() (deadline time.Time) {
	wl.lock.Lock()
	defer wl.lock.Unlock()

	deadline = wl.deadline

	return
}

func (wl *wsLink) Close() (err error) {
	wl.lock.Lock()
	defer wl.lock.Unlock()

	if wl.closed {
		return
	}

	wl.closed = true

	if wl.conn != nil {
		wl.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = wl.conn.Close()
		wl.conn = nil
	}

	return
}

func openWebsocket(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var wl *wsLink

	wl, err = dialWebsocket(ctx, c.Port, c.WS, f.logger().With().Str("component", "websocket").Logger())
	if err != nil {
		return
	}

	h, err = f.messageTransport(fmt.Sprintf("websocket(%s)", c.Port), wl, c)

	return
}
