package connection

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
	"github.com/fieldbus/modbus-cli/internal/can"
	"github.com/fieldbus/modbus-cli/internal/config"
	"github.com/fieldbus/modbus-cli/internal/j1939"
)

func TestFactoryRejectsIncompatibleKinds(t *testing.T) {
	var f = &Factory{}
	var err error

	_, err = f.Open(context.Background(), config.Config{
		Connection: config.TCP,
		Transport:  config.RTU,
		Port:       "localhost:502",
	})
	if apperr.KindOf(err) != apperr.Usage {
		t.Errorf("expected a usage error, got: %v", err)
	}

	_, err = f.Open(context.Background(), config.Config{
		Connection: config.Generic,
		Transport:  config.IP,
	})
	if apperr.KindOf(err) != apperr.Usage {
		t.Errorf("expected a usage error, got: %v", err)
	}

	return
}

func TestFactoryOpenFailure(t *testing.T) {
	var f = &Factory{Events: modbus.NewEventBus(16)}
	var l net.Listener
	var addr string
	var err error

	// grab a free port, then release it so that nothing listens there
	l, err = net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr = l.Addr().String()
	l.Close()

	_, err = f.Open(context.Background(), config.Config{
		Connection: config.TCP,
		Transport:  config.IP,
		Port:       addr,
		Timeout:    500,
	})
	if apperr.KindOf(err) != apperr.Connection {
		t.Errorf("expected a connection error, got: %v", err)
	}

	if evs := drainEvents(f.Events.Events()); len(evs) != 0 {
		t.Errorf("expected no events, got %v", len(evs))
	}

	return
}

func TestTCPDevice(t *testing.T) {
	var l net.Listener
	var dev *modbus.Device
	var f *Factory
	var h *Handle
	var m *modbus.Master
	var res *modbus.Response
	var err error

	l, err = net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer l.Close()

	dev = modbus.NewDevice(0x05)
	go func() {
		var conn net.Conn
		var slave *modbus.Slave
		var err error

		conn, err = l.Accept()
		if err != nil {
			return
		}

		slave, err = modbus.NewSlave(modbus.NewIPTransport(conn, 10*time.Second, nil), dev, nil)
		if err != nil {
			return
		}

		slave.Serve(context.Background())
	}()

	f = &Factory{}
	h, err = f.Open(context.Background(), config.Config{
		Connection: config.TCP,
		Transport:  config.IP,
		Port:       l.Addr().String(),
		Timeout:    1000,
	})
	if err != nil {
		t.Fatalf("Open() should have succeeded, got: %v", err)
	}

	m, err = modbus.NewMaster(h.Modbus, &modbus.MasterConfiguration{UnitId: 0x05})
	if err != nil {
		t.Fatalf("NewMaster() should have succeeded, got: %v", err)
	}
	defer m.Close()

	_, err = m.WriteRegisters(context.Background(), 0x100, []uint16{0xcafe, 0xbeef})
	if err != nil {
		t.Fatalf("WriteRegisters() should have succeeded, got: %v", err)
	}

	if dev.HoldingRegister(0x100) != 0xcafe || dev.HoldingRegister(0x101) != 0xbeef {
		t.Errorf("registers were not written")
	}

	res, err = m.ReportSlaveId(context.Background())
	if err != nil {
		t.Fatalf("ReportSlaveId() should have succeeded, got: %v", err)
	}

	if id, ok := res.Value.(*modbus.SlaveId); !ok || id.Id != 0x05 || !id.Running {
		t.Errorf("unexpected response: %v", res)
	}

	return
}

func TestJ1939Device(t *testing.T) {
	var hub = can.NewHub()
	var node *j1939.Port
	var dev *modbus.Device
	var f *Factory
	var h *Handle
	var m *modbus.Master
	var res *modbus.Response
	var slave *modbus.Slave
	var ctx context.Context
	var cancel context.CancelFunc
	var err error

	node, err = j1939.Open(context.Background(), hub.Join(), j1939.Options{
		Preferred: 0x20,
		Name:      j1939.NewName(0xabcdef),
	})
	if err != nil {
		t.Fatalf("j1939.Open() should have succeeded, got: %v", err)
	}

	dev = modbus.NewDevice(0x20)
	dev.SetInputRegister(0x02, 0x0bad)

	slave, err = modbus.NewSlave(modbus.NewJ1939Transport(node, time.Second, nil), dev, nil)
	if err != nil {
		t.Fatalf("NewSlave() should have succeeded, got: %v", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go slave.Serve(ctx)
	defer node.Close()

	f = &Factory{Events: modbus.NewEventBus(64)}
	h, err = f.openJ1939(context.Background(), "test", hub.Join(), config.Config{
		Canid:   0xfe,
		Timeout: 1000,
	})
	if err != nil {
		t.Fatalf("openJ1939() should have succeeded, got: %v", err)
	}

	if h.Connection != config.Generic || h.Transport != config.J1939 {
		t.Errorf("unexpected handle kinds: %v/%v", h.Connection, h.Transport)
	}

	m, err = modbus.NewMaster(h.Modbus, &modbus.MasterConfiguration{UnitId: 0x20})
	if err != nil {
		t.Fatalf("NewMaster() should have succeeded, got: %v", err)
	}
	defer m.Close()

	res, err = m.ReadInputRegisters(context.Background(), 0x02, 1)
	if err != nil {
		t.Fatalf("ReadInputRegisters() should have succeeded, got: %v", err)
	}

	if regs, ok := res.Value.([]uint16); !ok || len(regs) != 1 || regs[0] != 0x0bad {
		t.Errorf("unexpected response: %v", res)
	}

	// nobody at 0x21
	m, err = modbus.NewMaster(h.Modbus, &modbus.MasterConfiguration{UnitId: 0x21})
	if err != nil {
		t.Fatalf("NewMaster() should have succeeded, got: %v", err)
	}

	_, err = m.ReadInputRegisters(context.Background(), 0x02, 1)
	if !errors.Is(err, modbus.ErrRequestTimedOut) {
		t.Errorf("expected ErrRequestTimedOut, got: %v", err)
	}

	return
}

func TestTapPublishes(t *testing.T) {
	var bus = modbus.NewEventBus(16)
	var p1, p2 net.Conn
	var tl *tapLink
	var buf = make([]byte, 4)
	var evs []modbus.Event
	var err error

	p1, p2 = net.Pipe()
	defer p2.Close()

	tl = newTapLink("pipe", p1, bus)

	go p2.Write([]byte{0x01, 0x02})
	_, err = tl.Read(buf)
	if err != nil {
		t.Fatalf("Read() should have succeeded, got: %v", err)
	}

	go p2.Read(make([]byte, 4))
	_, err = tl.Write([]byte{0x03})
	if err != nil {
		t.Fatalf("Write() should have succeeded, got: %v", err)
	}

	// timeouts are not errors worth publishing
	tl.SetDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = tl.Read(buf)
	if !isTimeout(err) {
		t.Errorf("expected a timeout, got: %v", err)
	}

	tl.Close()

	evs = drainEvents(bus.Events())
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %v", len(evs))
	}

	if evs[0].Kind != modbus.EventData || len(evs[0].Data) != 2 || evs[0].Source != "pipe" {
		t.Errorf("unexpected first event: %+v", evs[0])
	}
	if evs[1].Kind != modbus.EventWrite || len(evs[1].Data) != 1 {
		t.Errorf("unexpected second event: %+v", evs[1])
	}
	if evs[2].Kind != modbus.EventClose {
		t.Errorf("unexpected third event: %+v", evs[2])
	}

	return
}

func TestSplitSocketcandPort(t *testing.T) {
	for _, c := range []struct {
		port string
		addr string
		bus  string
		fail bool
	}{
		{port: "10.0.0.2/can0", addr: "10.0.0.2:29536", bus: "can0"},
		{port: "gw.local:30000/vcan1", addr: "gw.local:30000", bus: "vcan1"},
		{port: "10.0.0.2", fail: true},
		{port: "10.0.0.2/", fail: true},
		{port: "/can0", fail: true},
	} {
		addr, bus, err := splitSocketcandPort(c.port)
		if c.fail {
			if apperr.KindOf(err) != apperr.Usage {
				t.Errorf("%s: expected a usage error, got: %v", c.port, err)
			}
			continue
		}

		if err != nil || addr != c.addr || bus != c.bus {
			t.Errorf("%s: got %s %s (%v)", c.port, addr, bus, err)
		}
	}

	return
}

func TestBLEPeripheralMatches(t *testing.T) {
	if !blePeripheralMatches("AA-BB-CC-DD-EE-FF", "aa:bb:cc:dd:ee:ff", false) {
		t.Errorf("address should have matched")
	}
	if blePeripheralMatches("AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:00", true) {
		t.Errorf("address should not have matched")
	}
	if !blePeripheralMatches("any", "aa:bb:cc:dd:ee:00", true) {
		t.Errorf("uart peripheral should have matched")
	}
	if blePeripheralMatches("", "aa:bb:cc:dd:ee:00", false) {
		t.Errorf("non-uart peripheral should not have matched")
	}

	return
}

func TestBLELinkChunksWrites(t *testing.T) {
	var chunks [][]byte
	var bl *bleLink
	var buf = make([]byte, 8)
	var n int
	var err error

	bl = newBLELink(func(b []byte) (int, error) {
		chunks = append(chunks, append([]byte(nil), b...))
		return len(b), nil
	}, func() error { return nil }, nil)

	n, err = bl.Write(make([]byte, 45))
	if err != nil || n != 45 {
		t.Errorf("Write() returned %v, %v", n, err)
	}
	if len(chunks) != 3 || len(chunks[0]) != 20 || len(chunks[2]) != 5 {
		t.Errorf("unexpected chunks: %v", chunks)
	}

	bl.notify([]byte{0x01, 0x02, 0x03})
	bl.SetDeadline(time.Now().Add(100 * time.Millisecond))

	n, err = bl.Read(buf[:2])
	if err != nil || n != 2 {
		t.Errorf("Read() returned %v, %v", n, err)
	}
	n, err = bl.Read(buf)
	if err != nil || n != 1 || buf[0] != 0x03 {
		t.Errorf("Read() returned %v, %v", n, err)
	}

	_, err = bl.Read(buf)
	if err != modbus.ErrRequestTimedOut {
		t.Errorf("expected ErrRequestTimedOut, got: %v", err)
	}

	bl.Close()
	_, err = bl.Read(buf)
	if err != ErrLinkClosed {
		t.Errorf("expected ErrLinkClosed, got: %v", err)
	}

	return
}

func TestBLELinkReportsDroppedNotifications(t *testing.T) {
	var out bytes.Buffer
	var log = zerolog.New(&out)
	var bl *bleLink

	bl = newBLELink(func(b []byte) (int, error) { return len(b), nil },
		func() error { return nil }, &log)
	defer bl.Close()

	for i := 0; i < cap(bl.rx); i++ {
		bl.notify([]byte{uint8(i)})
	}
	if out.Len() != 0 {
		t.Errorf("nothing should have been logged yet, got '%s'", out.String())
	}

	bl.notify([]byte{0xaa, 0xbb})
	if !strings.Contains(out.String(), `"level":"warn"`) ||
		!strings.Contains(out.String(), "notification dropped") {
		t.Errorf("expected a warning about the dropped notification, got '%s'", out.String())
	}

	return
}
