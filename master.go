package modbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Master configuration object.
type MasterConfiguration struct {
	// unit id (slave id) of requests issued by the master
	UnitId uint8
	// how many times a transaction is retried after a timeout or a
	// corrupted response. Exception responses are never retried.
	MaxRetries uint
	// how many transactions may be queued at once. The wire itself always
	// carries at most one transaction at a time.
	MaxConcurrentRequests uint
	// where to publish transaction notifications (optional)
	Events *EventBus
	// where to log (optional, discards everything when nil)
	Logger *zerolog.Logger
}

// Master is a modbus master (client) issuing requests over a Transport.
type Master struct {
	conf      MasterConfiguration
	logger    *logger
	transport Transport
	unitId    uint8
	queue     chan struct{}
	connected chan struct{}
	openOnce  sync.Once
	txnSeq    uint64
	// held for the duration of a transaction
	lock sync.Mutex
	// guards closed
	stateLock sync.Mutex
	closed    bool
}

// Returns a new modbus master running requests over t.
func NewMaster(t Transport, conf *MasterConfiguration) (m *Master, err error) {
	var c MasterConfiguration

	if conf != nil {
		c = *conf
	}

	m = &Master{
		conf:      c,
		logger:    newLogger("modbus-master", c.Logger),
		transport: t,
		unitId:    c.UnitId,
		connected: make(chan struct{}),
	}

	if t == nil {
		m.logger.Error("no transport given")
		err = ErrConfigurationError
		m = nil
		return
	}

	if m.conf.MaxConcurrentRequests == 0 {
		m.conf.MaxConcurrentRequests = 1
	}
	m.queue = make(chan struct{}, m.conf.MaxConcurrentRequests)

	return
}

// Marks the master as connected. The first call closes the channel
// returned by Connected() and publishes EventConnected, subsequent calls
// are no-ops.
func (m *Master) Open() (err error) {
	if m.isClosed() {
		err = ErrClosed
		return
	}

	m.openOnce.Do(func() {
		close(m.connected)
		m.conf.Events.Publish(Event{
			Kind:   EventConnected,
			Source: "master",
			UnitId: m.unitId,
		})
		m.logger.Infof("connected (unit id %v)", m.unitId)
	})

	return
}

// Returns a channel closed once the master is connected.
func (m *Master) Connected() (ch <-chan struct{}) {
	ch = m.connected

	return
}

// Closes the underlying transport. A transaction in flight is cut short
// and any request issued afterwards fails with ErrClosed.
func (m *Master) Close() (err error) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	err = m.transport.Close()

	return
}

func (m *Master) isClosed() (yes bool) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()

	yes = m.closed

	return
}

// Reads multiple coils (function code 0x01).
func (m *Master) ReadCoils(ctx context.Context, addr uint16, quantity uint16) (res *Response, err error) {
	res, err = m.readBools(ctx, fcReadCoils, addr, quantity)

	return
}

// Reads multiple discrete inputs (function code 0x02).
func (m *Master) ReadDiscreteInputs(ctx context.Context, addr uint16, quantity uint16) (res *Response, err error) {
	res, err = m.readBools(ctx, fcReadDiscreteInputs, addr, quantity)

	return
}

// Reads multiple holding registers (function code 0x03).
func (m *Master) ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) (res *Response, err error) {
	res, err = m.readRegisters(ctx, fcReadHoldingRegisters, addr, quantity)

	return
}

// Reads multiple input registers (function code 0x04).
func (m *Master) ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) (res *Response, err error) {
	res, err = m.readRegisters(ctx, fcReadInputRegisters, addr, quantity)

	return
}

// Writes a single coil (function code 0x05).
func (m *Master) WriteCoil(ctx context.Context, addr uint16, value bool) (res *Response, err error) {
	var req *pdu
	var rp *pdu

	req = &pdu{
		functionCode: fcWriteSingleCoil,
	}

	// coil address
	req.payload = uint16ToBytes(addr)
	// coil value
	if value {
		req.payload = append(req.payload, 0xff, 0x00)
	} else {
		req.payload = append(req.payload, 0x00, 0x00)
	}

	rp, err = m.executeRequest(ctx, req)
	if err != nil {
		return
	}

	// expect the address and value to be echoed back
	if len(rp.payload) != 4 ||
		bytesToUint16(rp.payload[0:2]) != addr ||
		rp.payload[2] != req.payload[2] || rp.payload[3] != 0x00 {
		err = ErrProtocolError
		return
	}

	res = newResponse(rp, []bool{value})

	return
}

// Writes multiple 16-bit holding registers (function code 0x10).
func (m *Master) WriteRegisters(ctx context.Context, addr uint16, values []uint16) (res *Response, err error) {
	var req *pdu
	var rp *pdu
	var quantity uint16

	quantity = uint16(len(values))

	if len(values) == 0 {
		err = ErrUnexpectedParameters
		m.logger.Error("quantity of registers is 0")
		return
	}

	if len(values) > 123 {
		err = ErrUnexpectedParameters
		m.logger.Error("quantity of registers exceeds 123")
		return
	}

	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrUnexpectedParameters
		m.logger.Error("end register address is past 0xffff")
		return
	}

	req = &pdu{
		functionCode: fcWriteMultipleRegisters,
	}

	// base address
	req.payload = uint16ToBytes(addr)
	// quantity of registers
	req.payload = append(req.payload, uint16ToBytes(quantity)...)
	// byte count (2 bytes per register)
	req.payload = append(req.payload, byte(quantity*2))
	// register values
	req.payload = append(req.payload, uint16sToBytes(values)...)

	rp, err = m.executeRequest(ctx, req)
	if err != nil {
		return
	}

	// expect the base address and quantity to be echoed back
	if len(rp.payload) != 4 ||
		bytesToUint16(rp.payload[0:2]) != addr ||
		bytesToUint16(rp.payload[2:4]) != quantity {
		err = ErrProtocolError
		return
	}

	res = newResponse(rp, values)

	return
}

// Requests the device identification (function code 0x11).
func (m *Master) ReportSlaveId(ctx context.Context) (res *Response, err error) {
	var rp *pdu
	var data []byte
	var sid *SlaveId

	rp, err = m.executeRequest(ctx, &pdu{functionCode: fcReportSlaveId})
	if err != nil {
		return
	}

	data, err = checkByteCount(rp)
	if err != nil {
		return
	}

	// slave id and run indicator status at the very least
	if len(data) < 2 {
		err = ErrProtocolError
		return
	}

	sid = &SlaveId{
		Id:      data[0],
		Running: data[1] == 0xff,
		Extra:   data[2:],
	}

	res = newResponse(rp, sid)

	return
}

// Reads up to max values off fifo id.
func (m *Master) ReadFifo(ctx context.Context, id uint8, max uint8) (res *Response, err error) {
	var rp *pdu
	var data []byte

	rp, err = m.executeRequest(ctx, &pdu{
		functionCode: fcReadFifo,
		payload:      []byte{id, max},
	})
	if err != nil {
		return
	}

	data, err = checkByteCount(rp)
	if err != nil {
		return
	}

	// status byte, followed by at most max values
	if len(data) < 1 || len(data)-1 > int(max) {
		err = ErrProtocolError
		return
	}

	res = newResponse(rp, &FifoData{
		Status: data[0],
		Values: data[1:],
	})

	return
}

// Pushes values onto fifo id. The decoded value is the number of values
// accepted by the device.
func (m *Master) WriteFifo(ctx context.Context, id uint8, values []byte) (res *Response, err error) {
	var req *pdu

	if len(values) == 0 || len(values) > maxVendorDataLength {
		err = ErrUnexpectedParameters
		m.logger.Errorf("fifo write of %v values is out of bounds", len(values))
		return
	}

	req = &pdu{
		functionCode: fcWriteFifo,
		payload:      []byte{id, uint8(len(values))},
	}
	req.payload = append(req.payload, values...)

	res, err = m.executeAcknowledged(ctx, req)

	return
}

// Reads object id.
func (m *Master) ReadObject(ctx context.Context, id uint8) (res *Response, err error) {
	res, err = m.executeWithData(ctx, &pdu{
		functionCode: fcReadObject,
		payload:      []byte{id},
	})

	return
}

// Writes data to object id. The decoded value is the status byte returned
// by the device.
func (m *Master) WriteObject(ctx context.Context, id uint8, data []byte) (res *Response, err error) {
	var req *pdu

	if len(data) > maxVendorDataLength {
		err = ErrUnexpectedParameters
		m.logger.Errorf("object write of %v bytes exceeds %v", len(data), maxVendorDataLength)
		return
	}

	req = &pdu{
		functionCode: fcWriteObject,
		payload:      []byte{id, uint8(len(data))},
	}
	req.payload = append(req.payload, data...)

	res, err = m.executeAcknowledged(ctx, req)

	return
}

// Reads length bytes of device memory starting at addr.
func (m *Master) ReadMemory(ctx context.Context, addr uint16, length uint8) (res *Response, err error) {
	var req *pdu

	if length == 0 || int(length) > maxVendorDataLength {
		err = ErrUnexpectedParameters
		m.logger.Errorf("memory read length %v is out of bounds", length)
		return
	}

	req = &pdu{
		functionCode: fcReadMemory,
		payload:      uint16ToBytes(addr),
	}
	req.payload = append(req.payload, length)

	res, err = m.executeWithData(ctx, req)
	if err != nil {
		return
	}

	if len(res.Data)-1 != int(length) {
		err = ErrProtocolError
		res = nil
		return
	}

	return
}

// Writes data to device memory starting at addr. The decoded value is the
// status byte returned by the device.
func (m *Master) WriteMemory(ctx context.Context, addr uint16, data []byte) (res *Response, err error) {
	var req *pdu

	if len(data) == 0 || len(data) > maxVendorDataLength {
		err = ErrUnexpectedParameters
		m.logger.Errorf("memory write of %v bytes is out of bounds", len(data))
		return
	}

	req = &pdu{
		functionCode: fcWriteMemory,
		payload:      uint16ToBytes(addr),
	}
	req.payload = append(req.payload, uint8(len(data)))
	req.payload = append(req.payload, data...)

	res, err = m.executeAcknowledged(ctx, req)

	return
}

// Runs command id with the given arguments.
func (m *Master) Command(ctx context.Context, id uint8, data []byte) (res *Response, err error) {
	var req *pdu

	if len(data) > maxVendorDataLength {
		err = ErrUnexpectedParameters
		m.logger.Errorf("command arguments exceed %v bytes", maxVendorDataLength)
		return
	}

	req = &pdu{
		functionCode: fcCommand,
		payload:      append([]byte{id}, data...),
	}

	res, err = m.executeWithData(ctx, req)

	return
}

// Sends an arbitrary function code with data as payload. The response
// payload is returned undecoded.
func (m *Master) Generic(ctx context.Context, functionCode uint8, data []byte) (res *Response, err error) {
	var rp *pdu

	if functionCode == 0 || functionCode&0x80 == 0x80 {
		err = ErrUnexpectedParameters
		m.logger.Errorf("invalid function code 0x%02x", functionCode)
		return
	}

	if len(data) > maxPDUPayloadLength {
		err = ErrUnexpectedParameters
		m.logger.Errorf("payload exceeds %v bytes", maxPDUPayloadLength)
		return
	}

	rp, err = m.executeRequest(ctx, &pdu{
		functionCode: functionCode,
		payload:      data,
	})
	if err != nil {
		return
	}

	res = newResponse(rp, rp.payload)

	return
}

/*** unexported methods ***/

const (
	maxPDUPayloadLength int = 252
	maxVendorDataLength int = 250
)

// Reads quantity coils or discrete inputs.
func (m *Master) readBools(ctx context.Context, fc uint8, addr uint16, quantity uint16) (res *Response, err error) {
	var req *pdu
	var rp *pdu
	var data []byte
	var expectedLen int

	if quantity == 0 {
		err = ErrUnexpectedParameters
		m.logger.Error("quantity of coils is 0")
		return
	}

	if quantity > 2000 {
		err = ErrUnexpectedParameters
		m.logger.Error("quantity of coils exceeds 2000")
		return
	}

	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrUnexpectedParameters
		m.logger.Error("end coil address is past 0xffff")
		return
	}

	req = &pdu{
		functionCode: fc,
	}
	// start address
	req.payload = uint16ToBytes(addr)
	// quantity
	req.payload = append(req.payload, uint16ToBytes(quantity)...)

	rp, err = m.executeRequest(ctx, req)
	if err != nil {
		return
	}

	data, err = checkByteCount(rp)
	if err != nil {
		return
	}

	// 1 byte per 8 coils
	expectedLen = int(quantity) / 8
	if quantity%8 != 0 {
		expectedLen++
	}

	if len(data) != expectedLen {
		err = ErrProtocolError
		return
	}

	res = newResponse(rp, decodeBools(quantity, data))

	return
}

// Reads quantity holding or input registers.
func (m *Master) readRegisters(ctx context.Context, fc uint8, addr uint16, quantity uint16) (res *Response, err error) {
	var req *pdu
	var rp *pdu
	var data []byte

	if quantity == 0 {
		err = ErrUnexpectedParameters
		m.logger.Error("quantity of registers is 0")
		return
	}

	if quantity > 125 {
		err = ErrUnexpectedParameters
		m.logger.Error("quantity of registers exceeds 125")
		return
	}

	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrUnexpectedParameters
		m.logger.Error("end register address is past 0xffff")
		return
	}

	req = &pdu{
		functionCode: fc,
	}
	// start address
	req.payload = uint16ToBytes(addr)
	// quantity
	req.payload = append(req.payload, uint16ToBytes(quantity)...)

	rp, err = m.executeRequest(ctx, req)
	if err != nil {
		return
	}

	data, err = checkByteCount(rp)
	if err != nil {
		return
	}

	// 2 bytes per register
	if len(data) != 2*int(quantity) {
		err = ErrProtocolError
		return
	}

	res = newResponse(rp, bytesToUint16s(data))

	return
}

// Runs a vendor request whose response is a byte count followed by data,
// and returns that data as the decoded value.
func (m *Master) executeWithData(ctx context.Context, req *pdu) (res *Response, err error) {
	var rp *pdu
	var data []byte

	rp, err = m.executeRequest(ctx, req)
	if err != nil {
		return
	}

	data, err = checkByteCount(rp)
	if err != nil {
		return
	}

	res = newResponse(rp, data)

	return
}

// Runs a vendor write request, acknowledged with a single status byte.
func (m *Master) executeAcknowledged(ctx context.Context, req *pdu) (res *Response, err error) {
	var rp *pdu
	var data []byte

	rp, err = m.executeRequest(ctx, req)
	if err != nil {
		return
	}

	data, err = checkByteCount(rp)
	if err != nil {
		return
	}

	if len(data) != 1 {
		err = ErrProtocolError
		return
	}

	res = newResponse(rp, data[0])

	return
}

// Runs a request across the transport, retrying on timeouts and corrupted
// frames, and returns the response once its unit id and function code
// have been validated.
func (m *Master) executeRequest(ctx context.Context, req *pdu) (res *pdu, err error) {
	var txn uint64
	var attempt uint

	// wait for a slot in the queue
	select {
	case m.queue <- struct{}{}:
	case <-ctx.Done():
		err = ctx.Err()
		m.publish(EventCancel, 0, 0, req, nil, err)
		return
	}
	defer func() { <-m.queue }()

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.isClosed() {
		err = ErrClosed
		return
	}

	req.unitId = m.unitId
	m.txnSeq++
	txn = m.txnSeq

	defer func() {
		m.publish(EventComplete, txn, attempt, req, res, err)
	}()

	for attempt = 1; attempt <= m.conf.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			err = ctx.Err()
			m.publish(EventCancel, txn, attempt, req, nil, err)
			return
		}

		m.publish(EventRequest, txn, attempt, req, nil, nil)

		res, err = m.transport.ExecuteRequest(req)
		if err == nil {
			break
		}

		if isTimeout(err) {
			err = ErrRequestTimedOut
			m.publish(EventTimeout, txn, attempt, req, nil, err)
		} else {
			m.publish(EventTxnError, txn, attempt, req, nil, err)
		}

		// closed under our feet
		if m.isClosed() {
			err = ErrClosed
			break
		}

		if err != ErrRequestTimedOut && err != ErrBadCRC &&
			err != ErrBadLRC && err != ErrShortFrame {
			break
		}

		m.logger.Warningf("txn %v, attempt %v: %v", txn, attempt, err)
	}

	if attempt > m.conf.MaxRetries+1 {
		attempt = m.conf.MaxRetries + 1
	}

	if err != nil {
		res = nil
		return
	}

	// make sure the source unit id matches that of the request
	if (res.functionCode&0x80) == 0x00 && res.unitId != req.unitId {
		err = ErrBadUnitId
		res = nil
		return
	}
	// accept errors from gateway devices (using special unit id #255)
	if (res.functionCode&0x80) == 0x80 &&
		(res.unitId != req.unitId && res.unitId != 0xff) {
		err = ErrBadUnitId
		res = nil
		return
	}

	m.publish(EventResponse, txn, attempt, req, res, nil)

	// validate the response code
	switch {
	case res.functionCode == req.functionCode:
		// positive response

	case res.functionCode == (req.functionCode | 0x80):
		if len(res.payload) != 1 {
			err = ErrProtocolError
		} else {
			err = mapExceptionCodeToError(res.payload[0])
		}
		res = nil

	default:
		err = ErrProtocolError
		m.logger.Warningf("unexpected response code (%v)", res.functionCode)
		res = nil
	}

	return
}

// Publishes a transaction event on the master's event bus.
func (m *Master) publish(kind EventKind, txn uint64, attempt uint, req *pdu, res *pdu, err error) {
	var ev Event

	if m.conf.Events == nil {
		return
	}

	ev = Event{
		Kind:         kind,
		Source:       "master",
		Txn:          txn,
		Attempt:      attempt,
		UnitId:       req.unitId,
		FunctionCode: req.functionCode,
		Data:         req.payload,
		Err:          err,
	}

	if res != nil {
		ev.UnitId = res.unitId
		ev.FunctionCode = res.functionCode
		ev.Data = res.payload
	}

	m.conf.Events.Publish(ev)

	return
}

// Returns the data following the byte count of a response payload,
// after checking the byte count matches.
func checkByteCount(res *pdu) (data []byte, err error) {
	if len(res.payload) < 1 || int(res.payload[0]) != len(res.payload)-1 {
		err = ErrProtocolError
		return
	}

	data = res.payload[1:]

	return
}

func newResponse(p *pdu, value interface{}) (res *Response) {
	res = &Response{
		UnitId:       p.unitId,
		FunctionCode: p.functionCode,
		Data:         p.payload,
		Value:        value,
	}

	return
}
