package cli

import (
	"context"
	"sync"
	"time"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/config"
	"github.com/fieldbus/modbus-cli/internal/connection"
)

type call struct {
	op    string
	args  []interface{}
	start time.Time
	end   time.Time
}

// fakeMaster records the operations it is asked to run.
type fakeMaster struct {
	lock      sync.Mutex
	calls     []call
	delay     time.Duration
	err       error
	onCall    func(n int)
	connected chan struct{}
	closed    bool
	closedAt  time.Time
	onClose   func()
}

func newFakeMaster() (fm *fakeMaster) {
	fm = &fakeMaster{connected: make(chan struct{})}

	return
}

func (fm *fakeMaster) record(op string, fc uint8, args ...interface{}) (res *modbus.Response, err error) {
	var c = call{op: op, args: args, start: time.Now()}
	var n int

	time.Sleep(fm.delay)
	c.end = time.Now()

	fm.lock.Lock()
	fm.calls = append(fm.calls, c)
	n = len(fm.calls)
	err = fm.err
	fm.lock.Unlock()

	if fm.onCall != nil {
		fm.onCall(n)
	}

	if err != nil {
		return
	}

	res = &modbus.Response{
		UnitId:       1,
		FunctionCode: fc,
		Data:         []byte{0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03},
		Value:        []uint16{1, 2, 3},
	}

	return
}

func (fm *fakeMaster) callList() (calls []call) {
	fm.lock.Lock()
	defer fm.lock.Unlock()

	calls = append(calls, fm.calls...)

	return
}

func (fm *fakeMaster) ReadCoils(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error) {
	return fm.record("ReadCoils", 0x01, addr, quantity)
}

func (fm *fakeMaster) ReadDiscreteInputs(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error) {
	return fm.record("ReadDiscreteInputs", 0x02, addr, quantity)
}

func (fm *fakeMaster) ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error) {
	return fm.record("ReadHoldingRegisters", 0x03, addr, quantity)
}

func (fm *fakeMaster) ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error) {
	return fm.record("ReadInputRegisters", 0x04, addr, quantity)
}

func (fm *fakeMaster) WriteCoil(ctx context.Context, addr uint16, value bool) (*modbus.Response, error) {
	return fm.record("WriteCoil", 0x05, addr, value)
}

func (fm *fakeMaster) WriteRegisters(ctx context.Context, addr uint16, values []uint16) (*modbus.Response, error) {
	return fm.record("WriteRegisters", 0x10, addr, values)
}

func (fm *fakeMaster) ReportSlaveId(ctx context.Context) (*modbus.Response, error) {
	return fm.record("ReportSlaveId", 0x11)
}

func (fm *fakeMaster) ReadFifo(ctx context.Context, id uint8, max uint8) (*modbus.Response, error) {
	return fm.record("ReadFifo", 0x41, id, max)
}

func (fm *fakeMaster) WriteFifo(ctx context.Context, id uint8, values []byte) (*modbus.Response, error) {
	return fm.record("WriteFifo", 0x42, id, values)
}

func (fm *fakeMaster) ReadObject(ctx context.Context, id uint8) (*modbus.Response, error) {
	return fm.record("ReadObject", 0x43, id)
}

func (fm *fakeMaster) WriteObject(ctx context.Context, id uint8, data []byte) (*modbus.Response, error) {
	return fm.record("WriteObject", 0x44, id, data)
}

func (fm *fakeMaster) ReadMemory(ctx context.Context, addr uint16, length uint8) (*modbus.Response, error) {
	return fm.record("ReadMemory", 0x45, addr, length)
}

func (fm *fakeMaster) WriteMemory(ctx context.Context, addr uint16, data []byte) (*modbus.Response, error) {
	return fm.record("WriteMemory", 0x46, addr, data)
}

func (fm *fakeMaster) Command(ctx context.Context, id uint8, data []byte) (*modbus.Response, error) {
	return fm.record("Command", 0x47, id, data)
}

func (fm *fakeMaster) Generic(ctx context.Context, functionCode uint8, data []byte) (*modbus.Response, error) {
	return fm.record("Generic", functionCode, functionCode, data)
}

func (fm *fakeMaster) Open() (err error) {
	fm.lock.Lock()
	defer fm.lock.Unlock()

	select {
	case <-fm.connected:
	default:
		close(fm.connected)
	}

	return
}

func (fm *fakeMaster) Connected() <-chan struct{} {
	return fm.connected
}

func (fm *fakeMaster) Close() (err error) {
	var first bool

	fm.lock.Lock()
	if !fm.closed {
		fm.closed = true
		fm.closedAt = time.Now()
		first = true
	}
	fm.lock.Unlock()

	if first && fm.onClose != nil {
		fm.onClose()
	}

	return
}

func (fm *fakeMaster) isClosed() bool {
	fm.lock.Lock()
	defer fm.lock.Unlock()

	return fm.closed
}

// fakeOpener hands out an empty handle, or fails with err. It blocks until
// release is closed if release is set.
type fakeOpener struct {
	err     error
	release chan struct{}
}

func (fo *fakeOpener) Open(ctx context.Context, c config.Config) (h *connection.Handle, err error) {
	if fo.release != nil {
		<-fo.release
	}

	if ctx.Err() != nil {
		err = ctx.Err()
		return
	}

	if fo.err != nil {
		err = fo.err
		return
	}

	h = &connection.Handle{Name: "fake", Connection: c.Connection, Transport: c.Transport}

	return
}
