package connection

import (
	"errors"
	"time"

	modbus "github.com/fieldbus/modbus-cli"
)

// tap publishes link level notifications on an event bus.
type tap struct {
	name   string
	events *modbus.EventBus
}

func (t tap) publish(kind modbus.EventKind, data []byte, err error) {
	t.events.Publish(modbus.Event{
		Kind:   kind,
		Source: t.name,
		Data:   append([]byte(nil), data...),
		Err:    err,
	})

	return
}

// tapLink publishes the traffic of a byte stream link.
type tapLink struct {
	tap
	link modbus.Link
}

func newTapLink(name string, link modbus.Link, events *modbus.EventBus) (tl *tapLink) {
	tl = &tapLink{
		tap:  tap{name: name, events: events},
		link: link,
	}

	return
}

func (tl *tapLink) Read(buf []byte) (n int, err error) {
	n, err = tl.link.Read(buf)
	if n > 0 {
		tl.publish(modbus.EventData, buf[:n], nil)
	}
	if err != nil && !isTimeout(err) {
		tl.publish(modbus.EventError, nil, err)
	}

	return
}

func (tl *tapLink) Write(buf []byte) (n int, err error) {
	tl.publish(modbus.EventWrite, buf, nil)

	n, err = tl.link.Write(buf)
	if err != nil {
		tl.publish(modbus.EventError, nil, err)
	}

	return
}

func (tl *tapLink) SetDeadline(deadline time.Time) (err error) {
	err = tl.link.SetDeadline(deadline)

	return
}

func (tl *tapLink) Close() (err error) {
	err = tl.link.Close()
	tl.publish(modbus.EventClose, nil, err)

	return
}

// tapMessageLink publishes the traffic of a message link.
type tapMessageLink struct {
	tap
	link modbus.MessageLink
}

func newTapMessageLink(name string, link modbus.MessageLink, events *modbus.EventBus) (tml *tapMessageLink) {
	tml = &tapMessageLink{
		tap:  tap{name: name, events: events},
		link: link,
	}

	return
}

func (tml *tapMessageLink) SetDeadline(deadline time.Time) (err error) {
	err = tml.link.SetDeadline(deadline)

	return
}

func (tml *tapMessageLink) Close() (err error) {
	err = tml.link.Close()
	tml.publish(modbus.EventClose, nil, err)

	return
}

func (tml *tapMessageLink) ReadMessage() (msg []byte, err error) {
	msg, err = tml.link.ReadMessage()
	if len(msg) > 0 {
		tml.publish(modbus.EventData, msg, nil)
	}
	if err != nil && !isTimeout(err) {
		tml.publish(modbus.EventError, nil, err)
	}

	return
}

func (tml *tapMessageLink) WriteMessage(msg []byte) (err error) {
	tml.publish(modbus.EventWrite, msg, nil)

	err = tml.link.WriteMessage(msg)
	if err != nil {
		tml.publish(modbus.EventError, nil, err)
	}

	return
}

// tapPort publishes the traffic of an addressed port.
type tapPort struct {
	tap
	port modbus.MessagePort
}

func newTapPort(name string, port modbus.MessagePort, events *modbus.EventBus) (tp *tapPort) {
	tp = &tapPort{
		tap:  tap{name: name, events: events},
		port: port,
	}

	return
}

func (tp *tapPort) Address() uint8 {
	return tp.port.Address()
}

func (tp *tapPort) SendTo(addr uint8, data []byte) (err error) {
	tp.publish(modbus.EventWrite, data, nil)

	err = tp.port.SendTo(addr, data)
	if err != nil {
		tp.publish(modbus.EventError, nil, err)
	}

	return
}

func (tp *tapPort) ReceiveFrom(deadline time.Time) (addr uint8, data []byte, err error) {
	addr, data, err = tp.port.ReceiveFrom(deadline)
	if len(data) > 0 {
		tp.publish(modbus.EventData, data, nil)
	}
	if err != nil && !isTimeout(err) {
		tp.publish(modbus.EventError, nil, err)
	}

	return
}

func (tp *tapPort) Close() (err error) {
	err = tp.port.Close()
	tp.publish(modbus.EventClose, nil, err)

	return
}

// Returns true if err is a deadline expiry, whichever layer produced it.
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }

	if errors.Is(err, modbus.ErrRequestTimedOut) {
		return true
	}

	return errors.As(err, &te) && te.Timeout()
}
