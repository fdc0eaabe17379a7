package modbus

import (
	"context"

	"github.com/rs/zerolog"
)

// Request object passed to the coil handler.
type CoilsRequest struct {
	ClientAddr string // the source (master) address
	UnitId     uint8  // the requested unit id (slave id)
	Addr       uint16 // the base coil address requested
	Quantity   uint16 // the number of consecutive coils covered by this request
	IsWrite    bool   // true if the request is a write, false if a read
	Args       []bool // coil values to be set, from Addr to Addr + Quantity - 1 (writes only)
}

// Request object passed to the discrete input handler.
type DiscreteInputsRequest struct {
	ClientAddr string
	UnitId     uint8
	Addr       uint16
	Quantity   uint16
}

// Request object passed to the holding register handler.
type HoldingRegistersRequest struct {
	ClientAddr string
	UnitId     uint8
	Addr       uint16
	Quantity   uint16
	IsWrite    bool
	Args       []uint16 // register values to be set (writes only)
}

// Request object passed to the input register handler.
type InputRegistersRequest struct {
	ClientAddr string
	UnitId     uint8
	Addr       uint16
	Quantity   uint16
}

// Request object passed to the vendor handler: report slave id (0x11),
// the fifo/object/memory/command extensions (0x41-0x47) and any function
// code the slave does not decode itself.
type VendorRequest struct {
	ClientAddr   string
	UnitId       uint8
	FunctionCode uint8
	Payload      []byte // request payload, following the function code
}

// The RequestHandler interface should be implemented by the handler
// object passed to NewSlave.
// Handlers return either nil or a modbus error (see mapErrorToExceptionCode()
// in modbus.go). Any non-nil error is sent back as an exception response.
type RequestHandler interface {
	// HandleCoils handles the read coils (0x01), write single coil (0x05)
	// and write multiple coils (0x0f) function codes.
	HandleCoils(req *CoilsRequest) (res []bool, err error)

	// HandleDiscreteInputs handles the read discrete inputs (0x02) function code.
	HandleDiscreteInputs(req *DiscreteInputsRequest) (res []bool, err error)

	// HandleHoldingRegisters handles the read holding registers (0x03),
	// write single register (0x06) and write multiple registers (0x10).
	HandleHoldingRegisters(req *HoldingRegistersRequest) (res []uint16, err error)

	// HandleInputRegisters handles the read input registers (0x04) function code.
	HandleInputRegisters(req *InputRegistersRequest) (res []uint16, err error)

	// HandleVendor handles every other function code. res is the complete
	// response payload, following the function code (byte count included
	// where the function code has one).
	HandleVendor(req *VendorRequest) (res []byte, err error)
}

// Slave answers requests read from a transport. It is the device side of
// a link, used to simulate devices.
type Slave struct {
	logger    *logger
	transport Transport
	handler   RequestHandler
	addr      string
}

// Returns a new slave serving requests read off t with handler.
func NewSlave(t Transport, handler RequestHandler, customLogger *zerolog.Logger) (s *Slave, err error) {
	if t == nil || handler == nil {
		err = ErrConfigurationError
		return
	}

	s = &Slave{
		logger:    newLogger("modbus-slave", customLogger),
		transport: t,
		handler:   handler,
		addr:      "local",
	}

	return
}

// Serves requests until ctx is done or the transport fails.
// Timeouts and corrupted frames are skipped. Protocol errors close the
// transport.
func (s *Slave) Serve(ctx context.Context) (err error) {
	var req *pdu
	var res *pdu

	for {
		if ctx.Err() != nil {
			err = ctx.Err()
			return
		}

		req, err = s.transport.ReadRequest()
		if err != nil {
			if isTimeout(err) || err == ErrBadCRC || err == ErrBadLRC || err == ErrShortFrame {
				continue
			}
			return
		}

		res, err = s.handleRequest(req)
		if err == ErrProtocolError {
			s.logger.Warningf("protocol error, closing link (fc 0x%02x)", req.functionCode)
			s.transport.Close()
			return
		}

		// map go errors to modbus exceptions
		if err != nil {
			res = &pdu{
				unitId:       req.unitId,
				functionCode: (0x80 | req.functionCode),
				payload:      []byte{mapErrorToExceptionCode(err)},
			}
		}

		err = s.transport.WriteResponse(res)
		if err != nil {
			s.logger.Warningf("failed to write response: %v", err)
			return
		}
	}
}

// Decodes and validates a request, calls the appropriate handler and
// builds the response PDU.
func (s *Slave) handleRequest(req *pdu) (res *pdu, err error) {
	var addr uint16
	var quantity uint16

	switch req.functionCode {
	case fcReadCoils, fcReadDiscreteInputs:
		var coils []bool

		if len(req.payload) != 4 {
			err = ErrProtocolError
			return
		}

		addr = bytesToUint16(req.payload[0:2])
		quantity = bytesToUint16(req.payload[2:4])

		// ensure the reply never exceeds the maximum PDU length and we
		// never read past 0xffff
		if quantity > 2000 || quantity == 0 {
			err = ErrProtocolError
			return
		}
		if uint32(addr)+uint32(quantity)-1 > 0xffff {
			err = ErrIllegalDataAddress
			return
		}

		if req.functionCode == fcReadCoils {
			coils, err = s.handler.HandleCoils(&CoilsRequest{
				ClientAddr: s.addr,
				UnitId:     req.unitId,
				Addr:       addr,
				Quantity:   quantity,
			})
		} else {
			coils, err = s.handler.HandleDiscreteInputs(&DiscreteInputsRequest{
				ClientAddr: s.addr,
				UnitId:     req.unitId,
				Addr:       addr,
				Quantity:   quantity,
			})
		}
		if err != nil {
			return
		}

		// make sure the handler returned the expected number of items
		if len(coils) != int(quantity) {
			s.logger.Errorf("handler returned %v bools, expected %v", len(coils), quantity)
			err = ErrServerDeviceFailure
			return
		}

		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
		}
		res.payload = encodeBools(coils)
		res.payload = append([]byte{uint8(len(res.payload))}, res.payload...)

	case fcWriteSingleCoil:
		if len(req.payload) != 4 {
			err = ErrProtocolError
			return
		}

		addr = bytesToUint16(req.payload[0:2])

		// the value field should be either 0xff00 or 0x0000
		if (req.payload[2] != 0xff && req.payload[2] != 0x00) || req.payload[3] != 0x00 {
			err = ErrProtocolError
			return
		}

		_, err = s.handler.HandleCoils(&CoilsRequest{
			ClientAddr: s.addr,
			UnitId:     req.unitId,
			Addr:       addr,
			Quantity:   1,
			IsWrite:    true,
			Args:       []bool{req.payload[2] == 0xff},
		})
		if err != nil {
			return
		}

		// echo the address and value in the response
		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
			payload:      append([]byte(nil), req.payload...),
		}

	case fcWriteMultipleCoils:
		var expectedLen int

		if len(req.payload) < 6 {
			err = ErrProtocolError
			return
		}

		addr = bytesToUint16(req.payload[0:2])
		quantity = bytesToUint16(req.payload[2:4])

		if quantity > 0x7b0 || quantity == 0 {
			err = ErrProtocolError
			return
		}
		if uint32(addr)+uint32(quantity)-1 > 0xffff {
			err = ErrIllegalDataAddress
			return
		}

		// 1 byte for 8 coils
		expectedLen = int(quantity) / 8
		if quantity%8 != 0 {
			expectedLen++
		}

		if req.payload[4] != uint8(expectedLen) || len(req.payload)-5 != expectedLen {
			err = ErrProtocolError
			return
		}

		_, err = s.handler.HandleCoils(&CoilsRequest{
			ClientAddr: s.addr,
			UnitId:     req.unitId,
			Addr:       addr,
			Quantity:   quantity,
			IsWrite:    true,
			Args:       decodeBools(quantity, req.payload[5:]),
		})
		if err != nil {
			return
		}

		// echo the address and quantity in the response
		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
			payload:      append([]byte(nil), req.payload[0:4]...),
		}

	case fcReadHoldingRegisters, fcReadInputRegisters:
		var regs []uint16

		if len(req.payload) != 4 {
			err = ErrProtocolError
			return
		}

		addr = bytesToUint16(req.payload[0:2])
		quantity = bytesToUint16(req.payload[2:4])

		if quantity > 0x007d || quantity == 0 {
			err = ErrProtocolError
			return
		}
		if uint32(addr)+uint32(quantity)-1 > 0xffff {
			err = ErrIllegalDataAddress
			return
		}

		if req.functionCode == fcReadHoldingRegisters {
			regs, err = s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
				ClientAddr: s.addr,
				UnitId:     req.unitId,
				Addr:       addr,
				Quantity:   quantity,
			})
		} else {
			regs, err = s.handler.HandleInputRegisters(&InputRegistersRequest{
				ClientAddr: s.addr,
				UnitId:     req.unitId,
				Addr:       addr,
				Quantity:   quantity,
			})
		}
		if err != nil {
			return
		}

		if len(regs) != int(quantity) {
			s.logger.Errorf("handler returned %v 16-bit values, expected %v", len(regs), quantity)
			err = ErrServerDeviceFailure
			return
		}

		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
			// byte count (2 bytes per register) followed by register values
			payload: append([]byte{uint8(len(regs) * 2)}, uint16sToBytes(regs)...),
		}

	case fcWriteSingleRegister:
		if len(req.payload) != 4 {
			err = ErrProtocolError
			return
		}

		addr = bytesToUint16(req.payload[0:2])

		_, err = s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
			ClientAddr: s.addr,
			UnitId:     req.unitId,
			Addr:       addr,
			Quantity:   1,
			IsWrite:    true,
			Args:       []uint16{bytesToUint16(req.payload[2:4])},
		})
		if err != nil {
			return
		}

		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
			payload:      append([]byte(nil), req.payload...),
		}

	case fcWriteMultipleRegisters:
		if len(req.payload) < 6 {
			err = ErrProtocolError
			return
		}

		addr = bytesToUint16(req.payload[0:2])
		quantity = bytesToUint16(req.payload[2:4])

		if quantity > 0x007b || quantity == 0 {
			err = ErrProtocolError
			return
		}
		if uint32(addr)+uint32(quantity)-1 > 0xffff {
			err = ErrIllegalDataAddress
			return
		}

		// 2 bytes per register
		if req.payload[4] != uint8(quantity*2) || len(req.payload)-5 != int(quantity)*2 {
			err = ErrProtocolError
			return
		}

		_, err = s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
			ClientAddr: s.addr,
			UnitId:     req.unitId,
			Addr:       addr,
			Quantity:   quantity,
			IsWrite:    true,
			Args:       bytesToUint16s(req.payload[5:]),
		})
		if err != nil {
			return
		}

		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
			payload:      append([]byte(nil), req.payload[0:4]...),
		}

	default:
		var payload []byte

		payload, err = s.handler.HandleVendor(&VendorRequest{
			ClientAddr:   s.addr,
			UnitId:       req.unitId,
			FunctionCode: req.functionCode,
			Payload:      req.payload,
		})
		if err != nil {
			return
		}

		if len(payload) > maxPDUPayloadLength {
			s.logger.Errorf("handler returned %v bytes, at most %v fit", len(payload), maxPDUPayloadLength)
			err = ErrServerDeviceFailure
			return
		}

		res = &pdu{
			unitId:       req.unitId,
			functionCode: req.functionCode,
			payload:      payload,
		}
	}

	if res == nil {
		err = ErrServerDeviceFailure
		s.logger.Errorf("internal error (fc 0x%02x)", req.functionCode)
	}

	return
}
