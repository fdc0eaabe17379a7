package connection

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
	"github.com/fieldbus/modbus-cli/internal/can"
	"github.com/fieldbus/modbus-cli/internal/config"
	"github.com/fieldbus/modbus-cli/internal/j1939"
)

const (
	defaultSocketcandPort = "29536"
	beaconListenTime      = 3 * time.Second
)

// Opens a serial CAN adapter speaking the SLCAN protocol.
func openCANUSBCOM(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var bus *can.SLCAN

	bus, err = can.OpenSLCAN(c.Port, c.Canrate)
	if err != nil {
		return
	}

	h, err = f.openJ1939(ctx, fmt.Sprintf("can-usb-com(%s)", c.Port), bus, c)

	return
}

// Opens a SocketCAN interface, or a bus exported by a socketcand daemon.
func openCAN(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var bus can.Bus
	var addr, name string

	switch c.Transport {
	case config.Socketcand:
		addr, name, err = splitSocketcandPort(c.Port)
		if err != nil {
			return
		}

		bus, err = can.DialSocketcand(ctx, addr, name)
		if err != nil {
			return
		}

		h, err = f.openJ1939(ctx, fmt.Sprintf("socketcand(%s/%s)", addr, name), bus, c)

	default:
		bus, err = can.OpenSocketCAN(c.Port)
		if err != nil {
			return
		}

		h, err = f.openJ1939(ctx, fmt.Sprintf("can(%s)", c.Port), bus, c)
	}

	return
}

// Splits a host[:port]/bus socketcand target.
func splitSocketcandPort(port string) (addr string, bus string, err error) {
	var idx = strings.LastIndex(port, "/")

	if idx <= 0 || idx == len(port)-1 {
		err = apperr.Usagef("socketcand", "expected host[:port]/bus, got '%s'", port)
		return
	}

	addr, bus = port[:idx], port[idx+1:]

	if _, _, e := net.SplitHostPort(addr); e != nil {
		addr = net.JoinHostPort(addr, defaultSocketcandPort)
	}

	return
}

// Claims an address on bus and binds a j1939 transport to it.
// The bus is closed on failure.
func (f *Factory) openJ1939(ctx context.Context, name string, bus can.Bus, c config.Config) (h *Handle, err error) {
	var port *j1939.Port

	port, err = j1939.Open(ctx, bus, j1939.Options{
		Preferred: uint8(c.Canid),
		Name:      j1939.NewName(uint32(os.Getpid())),
		Logger:    f.Log,
	})
	if err != nil {
		bus.Close()
		return
	}

	f.logger().Info().Str("port", name).
		Str("address", fmt.Sprintf("0x%02x", port.Address())).Msg("address claimed")

	h = &Handle{
		Name:       name,
		Connection: config.Generic,
		Transport:  config.J1939,
		Modbus:     modbus.NewJ1939Transport(newTapPort(name, port, f.Events), timeoutOf(c), f.Log),
	}

	return
}

// Lists SocketCAN interfaces, or socketcand daemons announcing themselves
// on the local network.
func listCAN(ctx context.Context, f *Factory, c config.Config, fn func(Port)) (err error) {
	var names []string

	if c.Transport == config.Socketcand {
		err = listSocketcand(ctx, fn)
		return
	}

	names, err = can.ListInterfaces()
	if err != nil {
		return
	}

	for _, name := range names {
		fn(Port{Name: name, Description: "socketcan"})
	}

	return
}

func listSocketcand(ctx context.Context, fn func(Port)) (err error) {
	var lock sync.Mutex

	ctx, cancel := context.WithTimeout(ctx, beaconListenTime)
	defer cancel()

	err = can.ListenBeacons(ctx, func(b can.Beacon) {
		var addr string
		var e error

		addr, e = b.Addr()
		if e != nil {
			return
		}

		lock.Lock()
		defer lock.Unlock()

		for _, bus := range b.Buses {
			fn(Port{
				Name:        addr + "/" + bus.Name,
				Description: strings.TrimSpace(b.Name + " " + b.Description),
			})
		}
	})

	return
}
