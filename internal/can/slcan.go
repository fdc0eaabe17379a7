package can

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	slcanAckTimeout  = 500 * time.Millisecond
	slcanReadTimeout = 10 * time.Millisecond
	maxSLCANLine     = 64
)

var slcanBitrates = map[int]int{
	10000:   0,
	20000:   1,
	50000:   2,
	100000:  3,
	125000:  4,
	250000:  5,
	500000:  6,
	800000:  7,
	1000000: 8,
}

// Line is a serial line with a read timeout: Read returns (0, nil) when
// no data arrived in time, the way go.bug.st/serial ports do.
type Line interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// SLCAN is a CAN bus reached through a Lawicel/SLCAN adapter: CAN frames
// are exchanged as ASCII lines over a (usually USB CDC) serial line.
type SLCAN struct {
	line   Line
	txLock sync.Mutex
	rxLock sync.Mutex
	rxbuf  []byte
}

// Opens the SLCAN adapter at device and brings the bus up at bitrate.
func OpenSLCAN(device string, bitrate int) (s *SLCAN, err error) {
	var port serial.Port

	port, err = serial.Open(device, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return
	}

	s, err = NewSLCAN(port, bitrate)
	if err != nil {
		port.Close()
	}

	return
}

// Sets up the adapter on the other end of line and opens the CAN channel
// at bitrate.
func NewSLCAN(line Line, bitrate int) (s *SLCAN, err error) {
	var code int
	var ok bool

	code, ok = slcanBitrates[bitrate]
	if !ok {
		err = fmt.Errorf("can: unsupported slcan bit rate %v", bitrate)
		return
	}

	err = line.SetReadTimeout(slcanReadTimeout)
	if err != nil {
		return
	}

	s = &SLCAN{
		line: line,
	}

	// the channel may be closed already, in which case the adapter
	// complains: ignore it
	s.command("C")

	err = s.command(fmt.Sprintf("S%d", code))
	if err != nil {
		return
	}

	err = s.command("O")
	if err != nil {
		return
	}

	return
}

func (s *SLCAN) Send(f Frame) (err error) {
	var line []byte

	line, err = encodeSLCAN(f)
	if err != nil {
		return
	}

	s.txLock.Lock()
	defer s.txLock.Unlock()

	_, err = s.line.Write(line)

	return
}

// Receives the next data frame. Acknowledgements and remote frames are
// skipped.
func (s *SLCAN) Receive(deadline time.Time) (f Frame, err error) {
	var line []byte
	var bell bool

	for {
		line, bell, err = s.nextLine(deadline)
		if err != nil {
			return
		}

		if bell || len(line) == 0 || (line[0] != 't' && line[0] != 'T') {
			continue
		}

		f, err = decodeSLCAN(line)

		return
	}
}

// Closes the CAN channel and the serial line.
func (s *SLCAN) Close() (err error) {
	s.txLock.Lock()
	s.line.Write([]byte("C\r"))
	s.txLock.Unlock()

	err = s.line.Close()

	return
}

// Sends a command and waits for the adapter to acknowledge it.
func (s *SLCAN) command(cmd string) (err error) {
	var deadline time.Time
	var bell bool

	s.txLock.Lock()
	_, err = s.line.Write([]byte(cmd + "\r"))
	s.txLock.Unlock()
	if err != nil {
		return
	}

	deadline = time.Now().Add(slcanAckTimeout)
	_, bell, err = s.nextLine(deadline)
	if err != nil {
		return
	}

	if bell {
		err = fmt.Errorf("%w: command '%s' rejected", ErrAdapterError, cmd)
	}

	return
}

// Returns the next line sent by the adapter, without its terminator.
// bell is set if the line was terminated by BEL (an error indication)
// rather than CR.
func (s *SLCAN) nextLine(deadline time.Time) (line []byte, bell bool, err error) {
	var buf = make([]byte, maxSLCANLine)
	var n int

	s.rxLock.Lock()
	defer s.rxLock.Unlock()

	for {
		for i, b := range s.rxbuf {
			if b == '\r' || b == '\a' {
				line = append(line, s.rxbuf[:i]...)
				bell = (b == '\a')
				s.rxbuf = s.rxbuf[i+1:]
				return
			}
		}

		if len(s.rxbuf) > maxSLCANLine {
			s.rxbuf = nil
			err = ErrBadFrame
			return
		}

		if time.Now().After(deadline) {
			err = ErrTimeout
			return
		}

		n, err = s.line.Read(buf)
		if err != nil {
			return
		}

		s.rxbuf = append(s.rxbuf, buf[:n]...)
	}
}

// Encodes a frame as a 't' (standard) or 'T' (extended) transmit line.
func encodeSLCAN(f Frame) (line []byte, err error) {
	err = f.Validate()
	if err != nil {
		return
	}

	if f.Extended {
		line = []byte(fmt.Sprintf("T%08X%d", f.Id, len(f.Data)))
	} else {
		line = []byte(fmt.Sprintf("t%03X%d", f.Id, len(f.Data)))
	}

	for _, b := range f.Data {
		line = append(line, fmt.Sprintf("%02X", b)...)
	}

	line = append(line, '\r')

	return
}

// Decodes a 't' or 'T' line (without its CR), with or without the
// trailing 4-digit timestamp.
func decodeSLCAN(line []byte) (f Frame, err error) {
	var idLen int
	var id uint64
	var dlc int
	var data []byte

	switch {
	case len(line) > 0 && line[0] == 't':
		idLen = 3
	case len(line) > 0 && line[0] == 'T':
		idLen = 8
		f.Extended = true
	default:
		err = ErrBadFrame
		return
	}

	if len(line) < 2+idLen {
		err = ErrBadFrame
		return
	}

	id, err = strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		err = ErrBadFrame
		return
	}

	dlc = int(line[1+idLen] - '0')
	if dlc < 0 || dlc > maxDataLength {
		err = ErrBadFrame
		return
	}

	data = line[2+idLen:]
	if len(data) != 2*dlc && len(data) != 2*dlc+4 {
		err = ErrBadFrame
		return
	}

	f.Id = uint32(id)
	f.Data = make([]byte, dlc)

	_, err = hex.Decode(f.Data, data[:2*dlc])
	if err != nil {
		err = ErrBadFrame
		return
	}

	err = f.Validate()

	return
}
