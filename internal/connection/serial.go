package connection

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/config"
)

const (
	serialReadTimeout = 10 * time.Millisecond
)

// serialPortWrapper wraps a serial.Port (i.e. physical port) to
// 1) satisfy the modbus.Link interface and
// 2) add Read() deadline/timeout support.
type serialPortWrapper struct {
	conf     *serialPortConfig
	port     serial.Port
	deadline time.Time
}

type serialPortConfig struct {
	Device   string
	Speed    int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

func newSerialPortWrapper(conf *serialPortConfig) (spw *serialPortWrapper) {
	spw = &serialPortWrapper{
		conf: conf,
	}

	return
}

func (spw *serialPortWrapper) Open() (err error) {
	spw.port, err = serial.Open(spw.conf.Device, &serial.Mode{
		BaudRate: spw.conf.Speed,
		DataBits: spw.conf.DataBits,
		Parity:   spw.conf.Parity,
		StopBits: spw.conf.StopBits,
	})
	if err != nil {
		return
	}

	err = spw.port.SetReadTimeout(serialReadTimeout)
	if err != nil {
		spw.port.Close()
	}

	return
}

// Closes the serial port.
func (spw *serialPortWrapper) Close() (err error) {
	err = spw.port.Close()

	return
}

// Reads bytes from the underlying serial port.
// If Read() is called after the deadline, a timeout error is returned without
// attempting to read from the serial port.
// If Read() is called before the deadline, a read attempt to the serial port
// is made. At this point, one of two things can happen:
//   - the serial port's receive buffer has one or more bytes and port.Read()
//     returns immediately (partial or full read),
//   - the serial port's receive buffer is empty: port.Read() blocks for
//     up to 10ms and returns with no data.
//
// As the transports use io.ReadFull(), Read() will be called as many times
// as necessary until either enough bytes have been read or an error is
// returned (ErrRequestTimedOut or any other i/o error).
func (spw *serialPortWrapper) Read(rxbuf []byte) (cnt int, err error) {
	// return a timeout error if the deadline has passed
	if time.Now().After(spw.deadline) {
		err = modbus.ErrRequestTimedOut
		return
	}

	cnt, err = spw.port.Read(rxbuf)

	return
}

// Sends the bytes over the wire.
func (spw *serialPortWrapper) Write(txbuf []byte) (cnt int, err error) {
	cnt, err = spw.port.Write(txbuf)

	return
}

// Saves the i/o deadline (only used by Read).
func (spw *serialPortWrapper) SetDeadline(deadline time.Time) (err error) {
	spw.deadline = deadline

	return
}

func openSerial(ctx context.Context, f *Factory, c config.Config) (h *Handle, err error) {
	var spw *serialPortWrapper

	spw = newSerialPortWrapper(&serialPortConfig{
		Device:   c.Port,
		Speed:    c.Baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})

	err = spw.Open()
	if err != nil {
		return
	}

	h, err = f.streamTransport(fmt.Sprintf("serial(%s)", c.Port), spw, c)

	return
}

func listSerial(ctx context.Context, f *Factory, c config.Config, fn func(Port)) (err error) {
	var names []string

	names, err = serial.GetPortsList()
	if err != nil {
		return
	}

	for _, name := range names {
		fn(Port{Name: name})
	}

	return
}

// Lists USB serial adapters only: the ones a CAN adapter can hide behind.
func listCANUSBCOM(ctx context.Context, f *Factory, c config.Config, fn func(Port)) (err error) {
	var ports []*enumerator.PortDetails

	ports, err = enumerator.GetDetailedPortsList()
	if err != nil {
		return
	}

	for _, p := range ports {
		if !p.IsUSB {
			continue
		}

		fn(Port{
			Name: p.Name,
			Description: fmt.Sprintf("%s:%s %s %s",
				p.VID, p.PID, p.Product, p.SerialNumber),
		})
	}

	return
}
