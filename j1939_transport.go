package modbus

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// j1939Transport carries PDUs (function code + payload) as J1939
// messages. The unit id of a request is the destination node address, the
// unit id of a response is its source address.
type j1939Transport struct {
	logger   *logger
	port     MessagePort
	timeout  time.Duration
	lastPeer uint8
}

// NewJ1939Transport returns a transport exchanging PDUs with the node
// addressed by the unit id over port.
func NewJ1939Transport(port MessagePort, timeout time.Duration, customLogger *zerolog.Logger) (t Transport) {
	t = newJ1939Transport(port, timeout, customLogger)

	return
}

func newJ1939Transport(port MessagePort, timeout time.Duration, customLogger *zerolog.Logger) (jt *j1939Transport) {
	jt = &j1939Transport{
		logger:  newLogger(fmt.Sprintf("j1939-transport(0x%02x)", port.Address()), customLogger),
		port:    port,
		timeout: timeout,
	}

	return
}

func (jt *j1939Transport) Close() (err error) {
	err = jt.port.Close()

	return
}

// Runs a request across the bus and returns the response of the
// addressed node. Messages from other nodes are ignored.
func (jt *j1939Transport) ExecuteRequest(req *pdu) (res *pdu, err error) {
	var deadline time.Time
	var src uint8
	var msg []byte

	err = jt.port.SendTo(req.unitId, jt.assembleMessage(req))
	if err != nil {
		return
	}

	deadline = time.Now().Add(jt.timeout)

	for {
		src, msg, err = jt.port.ReceiveFrom(deadline)
		if err != nil {
			if isTimeout(err) {
				err = ErrRequestTimedOut
			}
			return
		}

		if src != req.unitId {
			jt.logger.Debugf("ignoring message from node 0x%02x", src)
			continue
		}

		if len(msg) < 1 {
			err = ErrShortFrame
			return
		}

		break
	}

	res = &pdu{
		unitId:       src,
		functionCode: msg[0],
		payload:      msg[1:],
	}

	return
}

// Reads a request addressed to this node.
func (jt *j1939Transport) ReadRequest() (req *pdu, err error) {
	var src uint8
	var msg []byte

	src, msg, err = jt.port.ReceiveFrom(time.Now().Add(jt.timeout))
	if err != nil {
		if isTimeout(err) {
			err = ErrRequestTimedOut
		}
		return
	}

	if len(msg) < 1 {
		err = ErrShortFrame
		return
	}

	jt.lastPeer = src

	req = &pdu{
		unitId:       jt.port.Address(),
		functionCode: msg[0],
		payload:      msg[1:],
	}

	return
}

// Sends a response back to the node the last request came from.
func (jt *j1939Transport) WriteResponse(res *pdu) (err error) {
	err = jt.port.SendTo(jt.lastPeer, jt.assembleMessage(res))

	return
}

func (jt *j1939Transport) assembleMessage(p *pdu) (msg []byte) {
	msg = append(msg, p.functionCode)
	msg = append(msg, p.payload...)

	return
}
