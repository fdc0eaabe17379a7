// Package connection opens the link selected by the connection kind of a
// configuration and frames MODBUS PDUs over it with the selected
// transport. It also enumerates the links available for each kind.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
	"github.com/fieldbus/modbus-cli/internal/config"
)

// Port is one connection target found in list mode.
type Port struct {
	Name        string
	Description string
}

func (p Port) String() (s string) {
	if p.Description == "" {
		s = p.Name
	} else {
		s = fmt.Sprintf("%s\t%s", p.Name, p.Description)
	}

	return
}

// Handle is an open connection and the MODBUS transport running over it.
// Connection and Transport are the effective kinds, which may differ from
// the configured ones: the ble and can providers bind a generic link.
type Handle struct {
	Name       string
	Connection config.ConnectionKind
	Transport  config.TransportKind
	Modbus     modbus.Transport
}

// Closes the transport and the link below it.
func (h *Handle) Close() (err error) {
	err = h.Modbus.Close()

	return
}

// Factory opens and lists connections. Link level notifications (open,
// close, error, write, data) are published on Events.
type Factory struct {
	Log    *zerolog.Logger
	Events *modbus.EventBus
}

type provider struct {
	open func(ctx context.Context, f *Factory, c config.Config) (*Handle, error)
	list func(ctx context.Context, f *Factory, c config.Config, fn func(Port)) error
}

var providers = map[config.ConnectionKind]provider{
	config.Serial:    {open: openSerial, list: listSerial},
	config.TCP:       {open: openTCP, list: listNothing},
	config.UDP:       {open: openUDP, list: listNothing},
	config.Websocket: {open: openWebsocket, list: listNothing},
	config.BLE:       {open: openBLE, list: listBLE},
	config.CANUSBCOM: {open: openCANUSBCOM, list: listCANUSBCOM},
	config.CAN:       {open: openCAN, list: listCAN},
}

// Opens the connection described by c.
func (f *Factory) Open(ctx context.Context, c config.Config) (h *Handle, err error) {
	var p provider
	var ok bool

	p, ok = providers[c.Connection]
	if !ok {
		err = apperr.Usagef("open", "no provider for connection kind '%s'", c.Connection)
		return
	}

	err = config.CheckCompatible(c.Connection, c.Transport)
	if err != nil {
		return
	}

	f.logger().Debug().Str("connection", string(c.Connection)).
		Str("transport", string(c.Transport)).Str("port", c.Port).Msg("opening")

	h, err = p.open(ctx, f, c)
	if err != nil {
		err = apperr.Wrap(apperr.Connection, "open "+string(c.Connection), err)
		h = nil
		return
	}

	f.Events.Publish(modbus.Event{Kind: modbus.EventOpen, Source: h.Name})

	return
}

// Calls fn for every connection of the configured kind found. Some kinds
// (ble, socketcand) keep discovering until ctx is done.
func (f *Factory) List(ctx context.Context, c config.Config, fn func(Port)) (err error) {
	var p provider
	var ok bool

	p, ok = providers[c.Connection]
	if !ok {
		err = apperr.Usagef("list", "no provider for connection kind '%s'", c.Connection)
		return
	}

	err = p.list(ctx, f, c, fn)
	if err != nil {
		err = apperr.Wrap(apperr.Connection, "list "+string(c.Connection), err)
	}

	return
}

func (f *Factory) logger() (l *zerolog.Logger) {
	var nop zerolog.Logger

	if f.Log != nil {
		l = f.Log
		return
	}

	nop = zerolog.Nop()
	l = &nop

	return
}

func timeoutOf(c config.Config) time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Frames PDUs over a byte stream link.
func (f *Factory) streamTransport(name string, link modbus.Link, c config.Config) (h *Handle, err error) {
	var t modbus.Transport

	link = newTapLink(name, link, f.Events)

	switch c.Transport {
	case config.RTU:
		t = modbus.NewRTUTransport(link, uint(c.Baudrate), timeoutOf(c), f.Log)
	case config.ASCII:
		t = modbus.NewASCIITransport(link, uint(c.Baudrate), timeoutOf(c), f.Log)
	case config.IP:
		t = modbus.NewIPTransport(link, timeoutOf(c), f.Log)
	default:
		link.Close()
		err = apperr.Usagef("open", "transport '%s' cannot run over a byte stream", c.Transport)
		return
	}

	h = &Handle{
		Name:       name,
		Connection: c.Connection,
		Transport:  c.Transport,
		Modbus:     t,
	}

	return
}

// Frames PDUs over a link able to carry both byte streams and messages.
func (f *Factory) messageTransport(name string, link messageStreamLink, c config.Config) (h *Handle, err error) {
	if c.Transport != config.Tunnel {
		h, err = f.streamTransport(name, link, c)
		return
	}

	h = &Handle{
		Name:       name,
		Connection: c.Connection,
		Transport:  c.Transport,
		Modbus: modbus.NewTunnelTransport(
			newTapMessageLink(name, link, f.Events), timeoutOf(c), f.Log),
	}

	return
}

// messageStreamLink carries either a byte stream or discrete messages.
type messageStreamLink interface {
	modbus.Link
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
}

func listNothing(ctx context.Context, f *Factory, c config.Config, fn func(Port)) (err error) {
	f.logger().Info().Str("connection", string(c.Connection)).Msg("nothing to list")

	return
}
