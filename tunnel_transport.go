package modbus

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// tunnelTransport carries one RTU ADU (unit id, PDU, CRC) per message,
// the way RTU-over-UDP and websocket tunnels frame traffic. Message
// boundaries delimit frames, so no inter-frame timing applies.
type tunnelTransport struct {
	logger  *logger
	link    MessageLink
	timeout time.Duration
}

// NewTunnelTransport returns a transport sending one RTU ADU per message
// over link.
func NewTunnelTransport(link MessageLink, timeout time.Duration, customLogger *zerolog.Logger) (t Transport) {
	t = newTunnelTransport(link, "", timeout, customLogger)

	return
}

func newTunnelTransport(link MessageLink, addr string, timeout time.Duration, customLogger *zerolog.Logger) (tt *tunnelTransport) {
	tt = &tunnelTransport{
		logger:  newLogger(fmt.Sprintf("tunnel-transport(%s)", addr), customLogger),
		link:    link,
		timeout: timeout,
	}

	return
}

func (tt *tunnelTransport) Close() (err error) {
	err = tt.link.Close()

	return
}

// Runs a request across the link and returns a response.
// Messages which fail the CRC check or come from another unit are
// skipped until the deadline expires.
func (tt *tunnelTransport) ExecuteRequest(req *pdu) (res *pdu, err error) {
	err = tt.link.SetDeadline(time.Now().Add(tt.timeout))
	if err != nil {
		return
	}

	err = tt.link.WriteMessage(assembleRTUADU(req))
	if err != nil {
		return
	}

	for {
		res, err = tt.readFrame()
		if err == ErrBadCRC || err == ErrShortFrame {
			tt.logger.Warningf("dropping message: %v", err)
			continue
		}
		if err != nil {
			return
		}

		// broadcast (0) requests never get a reply, anything else should
		// come from the addressed unit or a gateway
		if res.unitId != req.unitId && res.unitId != 0xff {
			tt.logger.Warningf("dropping message from unit %v", res.unitId)
			continue
		}

		break
	}

	return
}

// Reads a request from the link.
func (tt *tunnelTransport) ReadRequest() (req *pdu, err error) {
	err = tt.link.SetDeadline(time.Now().Add(tt.timeout))
	if err != nil {
		return
	}

	req, err = tt.readFrame()

	return
}

// Writes a response to the link.
func (tt *tunnelTransport) WriteResponse(res *pdu) (err error) {
	err = tt.link.WriteMessage(assembleRTUADU(res))

	return
}

func (tt *tunnelTransport) readFrame() (p *pdu, err error) {
	var msg []byte

	msg, err = tt.link.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			err = ErrRequestTimedOut
		}
		return
	}

	p, err = decodeRTUADU(msg)

	return
}
