package modbus

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxRTUFrameLength int           = 256
	minRTUIdleTime    time.Duration = 20 * time.Millisecond
)

type rtuTransport struct {
	logger       *logger
	link         Link
	timeout      time.Duration
	lastActivity time.Time
	t35          time.Duration
	t1           time.Duration
	idle         time.Duration
}

// errUnknownLength is returned by expectedResponseLength when the frame
// length cannot be derived from its header.
const errUnknownLength Error = "unknown frame length"

// NewRTUTransport returns a transport framing PDUs as RTU ADUs (unit id,
// PDU, CRC) over link, observing the inter-frame delays of a serial line
// running at speed bps.
func NewRTUTransport(link Link, speed uint, timeout time.Duration, customLogger *zerolog.Logger) (t Transport) {
	t = newRTUTransport(link, "", speed, timeout, customLogger)

	return
}

// Returns a new RTU transport.
func newRTUTransport(link Link, addr string, speed uint, timeout time.Duration, customLogger *zerolog.Logger) (rt *rtuTransport) {
	if speed == 0 {
		speed = 19200
	}

	rt = &rtuTransport{
		logger:  newLogger(fmt.Sprintf("rtu-transport(%s)", addr), customLogger),
		link:    link,
		timeout: timeout,
		t1:      serialCharTime(speed),
	}

	if speed >= 19200 {
		// for baud rates equal to or greater than 19200 bauds, a fixed value of
		// 1750 uS is specified for t3.5.
		rt.t35 = 1750 * time.Microsecond
	} else {
		// for lower baud rates, the inter-frame delay should be 3.5 character times
		rt.t35 = (serialCharTime(speed) * 35) / 10
	}

	// frames of unknown length are delimited by line silence. Serial reads
	// block for up to 10ms when no data is available, hence the floor.
	rt.idle = 3 * rt.t35
	if rt.idle < minRTUIdleTime {
		rt.idle = minRTUIdleTime
	}

	return
}

// Closes the rtu link.
func (rt *rtuTransport) Close() (err error) {
	err = rt.link.Close()

	return
}

// Runs a request across the rtu link and returns a response.
func (rt *rtuTransport) ExecuteRequest(req *pdu) (res *pdu, err error) {
	var ts time.Time
	var t time.Duration
	var n int

	// set an i/o deadline on the link
	err = rt.link.SetDeadline(time.Now().Add(rt.timeout))
	if err != nil {
		return
	}

	// if the line was active less than 3.5 char times ago,
	// let t3.5 expire before transmitting
	t = time.Since(rt.lastActivity.Add(rt.t35))
	if t < 0 {
		time.Sleep(t * (-1))
	}

	ts = time.Now()

	// build an RTU ADU out of the request object and
	// send the final ADU+CRC on the wire
	n, err = rt.link.Write(rt.assembleRTUFrame(req))
	if err != nil {
		return
	}

	// estimate how long the serial line was busy for.
	// note that on most platforms, Write() will be buffered and return
	// immediately rather than block until the buffer is drained
	rt.lastActivity = ts.Add(time.Duration(n) * rt.t1)

	// observe inter-frame delays
	time.Sleep(time.Until(rt.lastActivity.Add(rt.t35)))

	// read the response back from the wire
	res, err = rt.readRTUFrame()

	if err == ErrBadCRC || err == ErrProtocolError || err == ErrShortFrame {
		// wait for and flush any data coming off the link to allow
		// devices to re-sync
		time.Sleep(time.Duration(maxRTUFrameLength) * rt.t1)
		discard(rt.link)
	}

	// mark the time if we heard anything back
	if err != ErrRequestTimedOut {
		rt.lastActivity = time.Now()
	}

	return
}

// Reads a request from the rtu link.
// Requests are delimited by line silence rather than decoded by length, the
// way slave devices frame RTU traffic.
func (rt *rtuTransport) ReadRequest() (req *pdu, err error) {
	var frame []byte

	err = rt.link.SetDeadline(time.Now().Add(rt.timeout))
	if err != nil {
		return
	}

	frame, err = rt.readUntilIdle(nil)
	if err != nil {
		return
	}

	req, err = decodeRTUADU(frame)
	if err == nil {
		rt.lastActivity = time.Now()
	}

	return
}

// Writes a response to the rtu link.
func (rt *rtuTransport) WriteResponse(res *pdu) (err error) {
	var n int

	// the idle read which delimited the request has let the deadline expire
	err = rt.link.SetDeadline(time.Now().Add(rt.timeout))
	if err != nil {
		return
	}

	// build an RTU ADU out of the request object and
	// send the final ADU+CRC on the wire
	n, err = rt.link.Write(rt.assembleRTUFrame(res))
	if err != nil {
		return
	}

	rt.lastActivity = time.Now().Add(rt.t1 * time.Duration(n))

	return
}

// Waits for, reads and decodes a frame from the rtu link.
func (rt *rtuTransport) readRTUFrame() (res *pdu, err error) {
	var rxbuf []byte
	var byteCount int
	var bytesNeeded int
	var crc crc

	rxbuf = make([]byte, maxRTUFrameLength)

	// read the serial ADU header: unit id (1 byte), function code (1 byte) and
	// PDU length/exception code (1 byte)
	byteCount, err = io.ReadFull(rt.link, rxbuf[0:3])
	if (byteCount > 0 || err == nil) && byteCount != 3 {
		err = ErrShortFrame
		return
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		if isTimeout(err) {
			err = ErrRequestTimedOut
		}
		return
	}

	// figure out how many further bytes to read
	bytesNeeded, err = expectedResponseLength(uint8(rxbuf[1]), uint8(rxbuf[2]))
	if err == errUnknownLength {
		// fall back to reading until the line goes quiet
		rxbuf, err = rt.readUntilIdle(rxbuf[0:3])
		if err != nil {
			return
		}

		res, err = decodeRTUADU(rxbuf)
		return
	}
	if err != nil {
		return
	}

	// we need to read 2 additional bytes of CRC after the payload
	bytesNeeded += 2

	// never read more than the max allowed frame length
	if byteCount+bytesNeeded > maxRTUFrameLength {
		err = ErrProtocolError
		return
	}

	byteCount, err = io.ReadFull(rt.link, rxbuf[3:3+bytesNeeded])
	if err != nil && err != io.ErrUnexpectedEOF {
		if isTimeout(err) {
			err = ErrRequestTimedOut
		}
		return
	}
	if byteCount != bytesNeeded {
		rt.logger.Warningf("expected %v bytes, received %v", bytesNeeded, byteCount)
		err = ErrShortFrame
		return
	}

	// compute the CRC on the entire frame, excluding the CRC
	crc.init()
	crc.add(rxbuf[0 : 3+bytesNeeded-2])

	// compare CRC values
	if !crc.isEqual(rxbuf[3+bytesNeeded-2], rxbuf[3+bytesNeeded-1]) {
		err = ErrBadCRC
		return
	}

	res = &pdu{
		unitId:       rxbuf[0],
		functionCode: rxbuf[1],
		// pass the byte count + trailing data as payload, withtout the CRC
		payload: rxbuf[2 : 3+bytesNeeded-2],
	}

	return
}

// Reads bytes off the link, appending them to buf, until the link has been
// quiet for rt.idle. The current link deadline applies to the first byte.
func (rt *rtuTransport) readUntilIdle(buf []byte) (out []byte, err error) {
	var rxbuf []byte
	var cnt int

	rxbuf = make([]byte, maxRTUFrameLength)
	out = buf

	if len(out) > 0 {
		err = rt.link.SetDeadline(time.Now().Add(rt.idle))
		if err != nil {
			return
		}
	}

	for len(out) < maxRTUFrameLength {
		cnt, err = rt.link.Read(rxbuf[0 : maxRTUFrameLength-len(out)])
		if cnt > 0 {
			out = append(out, rxbuf[0:cnt]...)
			rt.link.SetDeadline(time.Now().Add(rt.idle))
		}

		if err != nil {
			if isTimeout(err) {
				if len(out) > 0 {
					err = nil
					break
				}
				err = ErrRequestTimedOut
			}
			return
		}
	}

	return
}

// Turns a PDU object into bytes.
func (rt *rtuTransport) assembleRTUFrame(p *pdu) (adu []byte) {
	adu = assembleRTUADU(p)

	return
}

// Builds an RTU ADU (unit id, function code, payload, CRC) from a PDU.
func assembleRTUADU(p *pdu) (adu []byte) {
	var crc crc

	adu = append(adu, p.unitId)
	adu = append(adu, p.functionCode)
	adu = append(adu, p.payload...)

	// run the ADU through the CRC generator
	crc.init()
	crc.add(adu)

	// append the CRC to the ADU
	adu = append(adu, crc.value()...)

	return
}

// Validates the CRC of a complete RTU ADU and turns it into a PDU.
func decodeRTUADU(adu []byte) (p *pdu, err error) {
	var crc crc

	// unit id, function code and 2 bytes of CRC at the very least
	if len(adu) < 4 {
		err = ErrShortFrame
		return
	}

	crc.init()
	crc.add(adu[0 : len(adu)-2])
	if !crc.isEqual(adu[len(adu)-2], adu[len(adu)-1]) {
		err = ErrBadCRC
		return
	}

	p = &pdu{
		unitId:       adu[0],
		functionCode: adu[1],
		payload:      append([]byte(nil), adu[2:len(adu)-2]...),
	}

	return
}

// Computes the expected length of a modbus RTU response, i.e. the number of
// bytes following the 3-byte header (excluding the CRC).
func expectedResponseLength(responseCode uint8, responseLength uint8) (byteCount int, err error) {
	switch responseCode {
	case fcReadHoldingRegisters,
		fcReadInputRegisters,
		fcReadCoils,
		fcReadDiscreteInputs,
		fcReportSlaveId,
		fcReadFifo,
		fcWriteFifo,
		fcReadObject,
		fcWriteObject,
		fcReadMemory,
		fcWriteMemory,
		fcCommand:
		byteCount = int(responseLength)
	case fcWriteSingleRegister,
		fcWriteMultipleRegisters,
		fcWriteSingleCoil,
		fcWriteMultipleCoils:
		byteCount = 3
	case fcMaskWriteRegister:
		byteCount = 5
	default:
		if responseCode&0x80 == 0x80 {
			// exception responses only carry the exception code,
			// which is part of the header
			byteCount = 0
		} else {
			err = errUnknownLength
		}
	}

	return
}

// Discards the contents of the link's rx buffer, eating up to 1kB of data.
// Note that on a serial line, this call may block for up to serialConf.Timeout
// i.e. 10ms.
func discard(link Link) {
	var rxbuf = make([]byte, 1024)

	link.SetDeadline(time.Now().Add(500 * time.Microsecond))
	io.ReadFull(link, rxbuf)

	return
}

// Returns how long it takes to send 1 byte on a serial line at the
// specified baud rate.
func serialCharTime(rate_bps uint) (ct time.Duration) {
	// note: an RTU byte on the wire is:
	// - 1 start bit,
	// - 8 data bits,
	// - 1 parity or stop bit
	// - 1 stop bit
	ct = (11) * time.Second / time.Duration(rate_bps)

	return
}
