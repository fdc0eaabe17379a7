package modbus

import (
	"sync"
)

// Device is an in-memory RequestHandler simulating a slave device:
// coils, discrete inputs, holding and input registers, 64kB of memory,
// objects, fifos and an echoing command interpreter.
// Use it with a Slave to get a device on the other end of a transport.
type Device struct {
	lock      sync.Mutex
	id        uint8
	running   bool
	coils     map[uint16]bool
	discretes map[uint16]bool
	holding   map[uint16]uint16
	input     map[uint16]uint16
	memory    []byte
	objects   map[uint8][]byte
	fifos     map[uint8][]byte
}

// Returns a new, zeroed device reporting itself as slave id.
func NewDevice(id uint8) (d *Device) {
	d = &Device{
		id:        id,
		running:   true,
		coils:     map[uint16]bool{},
		discretes: map[uint16]bool{},
		holding:   map[uint16]uint16{},
		input:     map[uint16]uint16{},
		memory:    make([]byte, 0x10000),
		objects:   map[uint8][]byte{},
		fifos:     map[uint8][]byte{},
	}

	return
}

func (d *Device) SetDiscreteInput(addr uint16, value bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.discretes[addr] = value

	return
}

func (d *Device) SetInputRegister(addr uint16, value uint16) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.input[addr] = value

	return
}

func (d *Device) SetHoldingRegister(addr uint16, value uint16) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.holding[addr] = value

	return
}

func (d *Device) HoldingRegister(addr uint16) (value uint16) {
	d.lock.Lock()
	defer d.lock.Unlock()

	value = d.holding[addr]

	return
}

func (d *Device) Coil(addr uint16) (value bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	value = d.coils[addr]

	return
}

// Returns a copy of length bytes of memory starting at addr.
func (d *Device) Memory(addr uint16, length int) (out []byte) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if int(addr)+length > len(d.memory) {
		length = len(d.memory) - int(addr)
	}
	out = append(out, d.memory[addr:int(addr)+length]...)

	return
}

func (d *Device) SetObject(id uint8, data []byte) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.objects[id] = append([]byte(nil), data...)

	return
}

// Returns the values currently queued in fifo id.
func (d *Device) Fifo(id uint8) (values []byte) {
	d.lock.Lock()
	defer d.lock.Unlock()

	values = append(values, d.fifos[id]...)

	return
}

func (d *Device) HandleCoils(req *CoilsRequest) (res []bool, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for i := 0; i < int(req.Quantity); i++ {
		addr := req.Addr + uint16(i)

		if req.IsWrite {
			d.coils[addr] = req.Args[i]
		}
		res = append(res, d.coils[addr])
	}

	return
}

func (d *Device) HandleDiscreteInputs(req *DiscreteInputsRequest) (res []bool, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for i := 0; i < int(req.Quantity); i++ {
		res = append(res, d.discretes[req.Addr+uint16(i)])
	}

	return
}

func (d *Device) HandleHoldingRegisters(req *HoldingRegistersRequest) (res []uint16, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for i := 0; i < int(req.Quantity); i++ {
		addr := req.Addr + uint16(i)

		if req.IsWrite {
			d.holding[addr] = req.Args[i]
		}
		res = append(res, d.holding[addr])
	}

	return
}

func (d *Device) HandleInputRegisters(req *InputRegistersRequest) (res []uint16, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for i := 0; i < int(req.Quantity); i++ {
		res = append(res, d.input[req.Addr+uint16(i)])
	}

	return
}

// Handles report slave id and the fifo/object/memory/command extensions.
func (d *Device) HandleVendor(req *VendorRequest) (res []byte, err error) {
	var data []byte
	var addr int
	var length int

	d.lock.Lock()
	defer d.lock.Unlock()

	switch req.FunctionCode {
	case fcReportSlaveId:
		if len(req.Payload) != 0 {
			err = ErrIllegalDataValue
			return
		}

		data = []byte{d.id, 0x00}
		if d.running {
			data[1] = 0xff
		}
		data = append(data, []byte("sim")...)

	case fcReadFifo:
		var fifo []byte
		var max int

		if len(req.Payload) != 2 {
			err = ErrIllegalDataValue
			return
		}

		fifo = d.fifos[req.Payload[0]]
		max = int(req.Payload[1])
		if max > len(fifo) {
			max = len(fifo)
		}
		// status byte: number of values left in the fifo
		data = append(data, uint8(len(fifo)-max))
		data = append(data, fifo[:max]...)
		d.fifos[req.Payload[0]] = fifo[max:]

	case fcWriteFifo:
		if len(req.Payload) < 2 || int(req.Payload[1]) != len(req.Payload)-2 {
			err = ErrIllegalDataValue
			return
		}

		d.fifos[req.Payload[0]] = append(d.fifos[req.Payload[0]], req.Payload[2:]...)
		data = []byte{req.Payload[1]}

	case fcReadObject:
		var ok bool

		if len(req.Payload) != 1 {
			err = ErrIllegalDataValue
			return
		}

		data, ok = d.objects[req.Payload[0]]
		if !ok {
			err = ErrIllegalDataAddress
			return
		}

	case fcWriteObject:
		if len(req.Payload) < 2 || int(req.Payload[1]) != len(req.Payload)-2 {
			err = ErrIllegalDataValue
			return
		}

		d.objects[req.Payload[0]] = append([]byte(nil), req.Payload[2:]...)
		data = []byte{0x00}

	case fcReadMemory:
		if len(req.Payload) != 3 {
			err = ErrIllegalDataValue
			return
		}

		addr = int(bytesToUint16(req.Payload[0:2]))
		length = int(req.Payload[2])
		if addr+length > len(d.memory) {
			err = ErrIllegalDataAddress
			return
		}

		data = append(data, d.memory[addr:addr+length]...)

	case fcWriteMemory:
		if len(req.Payload) < 3 || int(req.Payload[2]) != len(req.Payload)-3 {
			err = ErrIllegalDataValue
			return
		}

		addr = int(bytesToUint16(req.Payload[0:2]))
		length = int(req.Payload[2])
		if addr+length > len(d.memory) {
			err = ErrIllegalDataAddress
			return
		}

		copy(d.memory[addr:], req.Payload[3:])
		data = []byte{0x00}

	case fcCommand:
		if len(req.Payload) < 1 {
			err = ErrIllegalDataValue
			return
		}

		// echo the command id and its arguments
		data = append(data, req.Payload...)

	default:
		err = ErrIllegalFunction
		return
	}

	// byte count followed by data
	res = append([]byte{uint8(len(data))}, data...)

	return
}
