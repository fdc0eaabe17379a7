package modbus

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxMBAPFrameLength int = 260
	mbapHeaderLength   int = 7
)

type ipTransport struct {
	logger    *logger
	link      Link
	timeout   time.Duration
	lastTxnId uint16
}

// NewIPTransport returns a transport framing PDUs with an MBAP header
// (transaction id, protocol id, length, unit id) over link.
// This is the framing used on TCP and over BLE/websocket stream links.
func NewIPTransport(link Link, timeout time.Duration, customLogger *zerolog.Logger) (t Transport) {
	t = newIPTransport(link, "", timeout, customLogger)

	return
}

// Returns a new MBAP transport.
func newIPTransport(link Link, addr string, timeout time.Duration, customLogger *zerolog.Logger) (it *ipTransport) {
	it = &ipTransport{
		link:    link,
		timeout: timeout,
		logger:  newLogger(fmt.Sprintf("ip-transport(%s)", addr), customLogger),
	}

	return
}

// Closes the underlying link.
func (it *ipTransport) Close() (err error) {
	err = it.link.Close()

	return
}

// Runs a request across the link and returns a response.
func (it *ipTransport) ExecuteRequest(req *pdu) (res *pdu, err error) {
	// set an i/o deadline on the link (read and write)
	err = it.link.SetDeadline(time.Now().Add(it.timeout))
	if err != nil {
		return
	}

	// increase the transaction ID counter
	it.lastTxnId++

	_, err = it.link.Write(it.assembleMBAPFrame(it.lastTxnId, req))
	if err != nil {
		return
	}

	res, err = it.readResponse()

	return
}

// Reads a request from the link.
func (it *ipTransport) ReadRequest() (req *pdu, err error) {
	var txnId uint16

	err = it.link.SetDeadline(time.Now().Add(it.timeout))
	if err != nil {
		return
	}

	req, txnId, err = it.readMBAPFrame()
	if err != nil {
		return
	}

	// store the incoming transaction id
	it.lastTxnId = txnId

	return
}

// Writes a response to the link.
func (it *ipTransport) WriteResponse(res *pdu) (err error) {
	_, err = it.link.Write(it.assembleMBAPFrame(it.lastTxnId, res))

	return
}

// Reads as many MBAP+modbus frames as necessary until either the response
// matching it.lastTxnId is received or an error occurs.
func (it *ipTransport) readResponse() (res *pdu, err error) {
	var txnId uint16

	for {
		res, txnId, err = it.readMBAPFrame()

		// ignore unknown protocol identifiers
		if err == ErrUnknownProtocolId {
			continue
		}

		if err != nil {
			return
		}

		// ignore unknown transaction identifiers
		if it.lastTxnId != txnId {
			it.logger.Warningf("received unexpected transaction id "+
				"(expected 0x%04x, received 0x%04x)",
				it.lastTxnId, txnId)
			continue
		}

		break
	}

	return
}

// Reads an entire frame (MBAP header + modbus PDU) from the link.
func (it *ipTransport) readMBAPFrame() (p *pdu, txnId uint16, err error) {
	var rxbuf []byte
	var bytesNeeded int
	var protocolId uint16
	var unitId uint8

	// read the MBAP header
	rxbuf = make([]byte, mbapHeaderLength)
	_, err = io.ReadFull(it.link, rxbuf)
	if err != nil {
		if isTimeout(err) {
			err = ErrRequestTimedOut
		}
		return
	}

	txnId = bytesToUint16(rxbuf[0:2])
	protocolId = bytesToUint16(rxbuf[2:4])
	unitId = rxbuf[6]

	// the length field includes the unit id, which we already have
	bytesNeeded = int(bytesToUint16(rxbuf[4:6]))
	bytesNeeded--

	// never read more than the max allowed frame length
	if bytesNeeded+mbapHeaderLength > maxMBAPFrameLength {
		err = ErrProtocolError
		return
	}

	// an MBAP length of 0 is illegal
	if bytesNeeded <= 0 {
		err = ErrProtocolError
		return
	}

	// read the PDU
	rxbuf = make([]byte, bytesNeeded)
	_, err = io.ReadFull(it.link, rxbuf)
	if err != nil {
		if isTimeout(err) {
			err = ErrRequestTimedOut
		}
		return
	}

	if protocolId != 0x0000 {
		err = ErrUnknownProtocolId
		it.logger.Warningf("received unexpected protocol id 0x%04x", protocolId)
		return
	}

	p = &pdu{
		unitId:       unitId,
		functionCode: rxbuf[0],
		payload:      rxbuf[1:],
	}

	return
}

// Turns a PDU into an MBAP frame (MBAP header + PDU) and returns it as bytes.
func (it *ipTransport) assembleMBAPFrame(txnId uint16, p *pdu) (payload []byte) {
	// transaction identifier
	payload = uint16ToBytes(txnId)
	// protocol identifier (always 0x0000)
	payload = append(payload, 0x00, 0x00)
	// length (covers unit identifier + function code + payload fields)
	payload = append(payload, uint16ToBytes(uint16(2+len(p.payload)))...)
	// unit identifier
	payload = append(payload, p.unitId)
	// function code
	payload = append(payload, p.functionCode)
	// payload
	payload = append(payload, p.payload...)

	return
}
