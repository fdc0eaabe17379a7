package modbus

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// ':' + 2 hex chars per byte of a 256-byte ADU (LRC included) + CRLF
	maxASCIIFrameLength int = 1 + 2*256 + 2
)

type asciiTransport struct {
	logger       *logger
	link         Link
	timeout      time.Duration
	lastActivity time.Time
	t35          time.Duration
	t1           time.Duration
}

// NewASCIITransport returns a transport framing PDUs as ASCII frames
// (':', hex encoded unit id, PDU and LRC, CRLF) over link.
func NewASCIITransport(link Link, speed uint, timeout time.Duration, customLogger *zerolog.Logger) (t Transport) {
	t = newASCIITransport(link, "", speed, timeout, customLogger)

	return
}

// Returns a new ASCII transport.
func newASCIITransport(link Link, addr string, speed uint, timeout time.Duration, customLogger *zerolog.Logger) (at *asciiTransport) {
	if speed == 0 {
		speed = 19200
	}

	at = &asciiTransport{
		logger:  newLogger(fmt.Sprintf("ascii-transport(%s)", addr), customLogger),
		link:    link,
		timeout: timeout,
		t1:      serialCharTime(speed),
	}

	if speed >= 19200 {
		at.t35 = 1750 * time.Microsecond
	} else {
		at.t35 = (serialCharTime(speed) * 35) / 10
	}

	return
}

// Closes the ASCII link.
func (at *asciiTransport) Close() (err error) {
	err = at.link.Close()

	return
}

// Runs a request across the link and returns a response.
func (at *asciiTransport) ExecuteRequest(req *pdu) (res *pdu, err error) {
	var ts time.Time
	var t time.Duration
	var n int

	err = at.link.SetDeadline(time.Now().Add(at.timeout))
	if err != nil {
		return
	}

	// let the line settle before transmitting
	t = time.Since(at.lastActivity.Add(at.t35))
	if t < 0 {
		time.Sleep(-t)
	}

	ts = time.Now()

	n, err = at.link.Write(at.assembleASCIIFrame(req))
	if err != nil {
		return
	}

	at.lastActivity = ts.Add(time.Duration(n) * at.t1)

	res, err = at.readASCIIFrame()
	if err == ErrBadLRC || err == ErrProtocolError || err == ErrShortFrame {
		time.Sleep(time.Duration(maxASCIIFrameLength) * at.t1)
		discard(at.link)
	}

	if err != ErrRequestTimedOut {
		at.lastActivity = time.Now()
	}

	return
}

// Reads a request from the link.
func (at *asciiTransport) ReadRequest() (req *pdu, err error) {
	err = at.link.SetDeadline(time.Now().Add(at.timeout))
	if err != nil {
		return
	}

	req, err = at.readASCIIFrame()
	if err == nil {
		at.lastActivity = time.Now()
	}

	return
}

// Writes a response to the link.
func (at *asciiTransport) WriteResponse(res *pdu) (err error) {
	var n int

	err = at.link.SetDeadline(time.Now().Add(at.timeout))
	if err != nil {
		return
	}

	n, err = at.link.Write(at.assembleASCIIFrame(res))
	if err != nil {
		return
	}

	at.lastActivity = time.Now().Add(time.Duration(n) * at.t1)

	return
}

// Reads and decodes a frame from the link. Anything received before the
// start-of-frame colon is discarded.
func (at *asciiTransport) readASCIIFrame() (res *pdu, err error) {
	var rxbuf []byte
	var b []byte
	var cnt int

	rxbuf = make([]byte, 0, maxASCIIFrameLength)
	b = make([]byte, 1)

	for {
		cnt, err = at.link.Read(b)
		if err != nil {
			if isTimeout(err) {
				err = ErrRequestTimedOut
			}
			return
		}

		if cnt == 0 {
			continue
		}

		// skip noise until the start of a frame
		if len(rxbuf) == 0 && b[0] != ':' {
			continue
		}

		rxbuf = append(rxbuf, b[0])
		if len(rxbuf) > maxASCIIFrameLength {
			err = ErrProtocolError
			return
		}

		if b[0] == '\n' {
			break
		}
	}

	res, err = decodeASCIIFrame(rxbuf)

	return
}

// Turns a PDU object into an ASCII frame.
func (at *asciiTransport) assembleASCIIFrame(p *pdu) (frame []byte) {
	var adu []byte
	var enc []byte

	adu = append(adu, p.unitId, p.functionCode)
	adu = append(adu, p.payload...)
	adu = append(adu, computeLRC(adu))

	enc = make([]byte, hex.EncodedLen(len(adu)))
	hex.Encode(enc, adu)

	frame = append(frame, ':')
	frame = append(frame, bytes.ToUpper(enc)...)
	frame = append(frame, '\r', '\n')

	return
}

// Decodes a complete ':...\r\n' frame.
func decodeASCIIFrame(frame []byte) (p *pdu, err error) {
	var body []byte
	var raw []byte

	if len(frame) < 3 || frame[0] != ':' ||
		frame[len(frame)-2] != '\r' || frame[len(frame)-1] != '\n' {
		err = ErrProtocolError
		return
	}

	body = frame[1 : len(frame)-2]

	// unit id, function code and LRC: 6 hex chars at the very least
	if len(body) < 6 {
		err = ErrShortFrame
		return
	}

	if len(body)%2 != 0 {
		err = ErrProtocolError
		return
	}

	raw = make([]byte, hex.DecodedLen(len(body)))
	_, err = hex.Decode(raw, body)
	if err != nil {
		err = ErrProtocolError
		return
	}

	if !verifyLRC(raw[:len(raw)-1], raw[len(raw)-1]) {
		err = ErrBadLRC
		return
	}

	p = &pdu{
		unitId:       raw[0],
		functionCode: raw[1],
		payload:      raw[2 : len(raw)-1],
	}

	return
}
