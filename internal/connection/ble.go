package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/config"
)

const (
	// largest write without response with the default ATT MTU
	bleChunkLength = 20
)

// Nordic UART service: writes go to the RX characteristic, data comes
// back as TX notifications.
var (
	nusService = mustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	nusRX      = mustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	nusTX      = mustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

func mustParseUUID(s string) (uuid bluetooth.UUID) {
	var err error

	uuid, err = bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}

	return
}

// bleLink is a byte stream over a pair of BLE characteristics.
type bleLink struct {
	write      func([]byte) (int, error)
	disconnect func() error
	rx         chan []byte
	pending    []byte
	lock       sync.Mutex
	deadline   time.Time
	done       chan struct{}
	closeOnce  sync.Once
	log        *zerolog.Logger
}

func newBLELink(write func([]byte) (int, error), disconnect func() error, log *zerolog.Logger) (bl *bleLink) {
	bl = &bleLink{
		write:      write,
		disconnect: disconnect,
		rx:         make(chan []byte, 64),
		done:       make(chan struct{}),
		log:        log,
	}

	return
}

// Notification callback: queues received data for Read().
// A full queue loses the notification, and with it the frame in flight.
func (bl *bleLink) notify(buf []byte) {
	select {
	case bl.rx <- append([]byte(nil), buf...):
	default:
		if bl.log != nil {
			bl.log.Warn().Int("length", len(buf)).Msg("receive queue full, notification dropped")
		}
	}

	return
}

func (bl *bleLink) Read(buf []byte) (n int, err error) {
	var timer *time.Timer

	if len(bl.pending) == 0 {
		select {
		case <-bl.done:
			err = ErrLinkClosed
			return
		default:
		}

		bl.lock.Lock()
		timer = time.NewTimer(time.Until(bl.deadline))
		bl.lock.Unlock()
		defer timer.Stop()

		select {
		case bl.pending = <-bl.rx:
		case <-timer.C:
			err = modbus.ErrRequestTimedOut
			return
		case <-bl.done:
			err = ErrLinkClosed
			return
		}
	}

	n = copy(buf, bl.pending)
	bl.pending = bl.pending[n:]

	return
}

// Writes buf in chunks small enough for a single ATT write.
func (bl *bleLink) Write(buf []byte) (n int, err error) {
	var end int
	var cnt int

	for n < len(buf) {
		end = n + bleChunkLength
		if end > len(buf) {
			end = len(buf)
		}

		cnt, err = bl.write(buf[n:end])
		n += cnt
		if err != nil {
			return
		}
	}

	return
}

func (bl *bleLink) SetDeadline(deadline time.Time) (err error) {
	bl.lock.Lock()
	defer bl.lock.Unlock()

	bl.deadline = deadline

	return
}

func (bl *bleLink) Close() (err error) {
	bl.closeOnce.Do(func() {
		close(bl.done)
		err = bl.disconnect()
	})

	return
}

// Returns true if the scan result is the peripheral we are after: the one
// at port if it is a hardware address, else the first one advertising the
// UART service.
func blePeripheralMatches(port string, address string, hasUART bool) bool {
	var mac = strings.ReplaceAll(port, "-", ":")

	if isHardwareAddress(port) {
		return strings.EqualFold(address, mac)
	}

	return hasUART
}

func isHardwareAddress(s string) bool {
	var parts = strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })

	if len(parts) != 6 {
		return false
	}

	for _, p := range parts {
		if len(p) != 2 || strings.Trim(p, "0123456789abcdefABCDEF") != "" {
			return false
		}
	}

	return true
}

// Waits for the adapter to come up, then scans until a matching
// peripheral is found and binds a link to its UART service.
func openBLE(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var adapter = bluetooth.DefaultAdapter
	var found = make(chan bluetooth.ScanResult, 1)
	var scanErr = make(chan error, 1)
	var result bluetooth.ScanResult
	var link *bleLink

	err = adapter.Enable()
	if err != nil {
		return
	}

	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if blePeripheralMatches(c.Port, r.Address.String(), r.HasServiceUUID(nusService)) {
				a.StopScan()
				select {
				case found <- r:
				default:
				}
			}
		})
	}()

	select {
	case result = <-found:
	case err = <-scanErr:
		if err == nil {
			err = fmt.Errorf("scan stopped before %s was found", c.Port)
		}
		return
	case <-ctx.Done():
		adapter.StopScan()
		err = ctx.Err()
		return
	}

	f.logger().Debug().Str("address", result.Address.String()).
		Str("name", result.LocalName()).Msg("found peripheral")

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{nusService})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		if err == nil {
			err = fmt.Errorf("%s has no UART service", result.Address.String())
		}
		return
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{nusRX, nusTX})
	if err != nil || len(chars) != 2 {
		device.Disconnect()
		if err == nil {
			err = fmt.Errorf("%s: incomplete UART service", result.Address.String())
		}
		return
	}

	rx, tx := chars[0], chars[1]
	if rx.UUID() != nusRX {
		rx, tx = tx, rx
	}

	link = newBLELink(rx.WriteWithoutResponse, device.Disconnect, f.logger())

	err = tx.EnableNotifications(link.notify)
	if err != nil {
		device.Disconnect()
		return
	}

	h, err = f.streamTransport(fmt.Sprintf("ble(%s)", result.Address.String()), link,
		config.Config{Transport: config.IP, Timeout: c.Timeout})
	if err != nil {
		return
	}

	h.Connection = config.Generic
	h.Transport = config.IP

	return
}

// Prints every peripheral found until ctx is done.
func listBLE(ctx context.Context, f *Factory, c config.Config, fn func(Port)) (err error) {
	var adapter = bluetooth.DefaultAdapter
	var seen = map[string]bool{}
	var lock sync.Mutex
	var scanErr = make(chan error, 1)

	err = adapter.Enable()
	if err != nil {
		return
	}

	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			var addr = r.Address.String()

			lock.Lock()
			defer lock.Unlock()

			if seen[addr] {
				return
			}
			seen[addr] = true

			fn(Port{
				Name:        addr,
				Description: fmt.Sprintf("%s (rssi %d)", r.LocalName(), r.RSSI),
			})
		})
	}()

	select {
	case err = <-scanErr:
	case <-ctx.Done():
		adapter.StopScan()
		<-scanErr
	}

	return
}
