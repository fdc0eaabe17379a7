package j1939

import (
	"encoding/binary"
	"time"
)

const (
	// transport protocol connection management control bytes
	cmRTS   uint8 = 16
	cmCTS   uint8 = 17
	cmEoMA  uint8 = 19
	cmBAM   uint8 = 32
	cmAbort uint8 = 255

	abortTimeout  uint8 = 3
	abortSequence uint8 = 5

	// T1..T4 are collapsed into a single timeout
	tpTimeout = 1250 * time.Millisecond

	bytesPerPacket = 7
)

// session is an incoming transport protocol transfer.
type session struct {
	bam          bool
	pgn          uint32
	size         int
	packets      int
	next         int
	data         []byte
	lastActivity time.Time
}

func packetCount(size int) int {
	return (size + bytesPerPacket - 1) / bytesPerPacket
}

// Returns connection management frame data: control byte, 4 bytes of
// control specific fields and the PGN of the transferred message.
func cmData(control uint8, fields [4]byte, pgn uint32) (data []byte) {
	data = append([]byte{control}, fields[:]...)
	data = append(data, pgnBytes(pgn)...)

	return
}

func sizeFields(size int, packets int, last uint8) (fields [4]byte) {
	binary.LittleEndian.PutUint16(fields[0:2], uint16(size))
	fields[2] = uint8(packets)
	fields[3] = last

	return
}

// Returns data packet seq (from 1) of data, padded with 0xff.
func dtData(data []byte, seq int) (out []byte) {
	var start = (seq - 1) * bytesPerPacket
	var end = start + bytesPerPacket

	if end > len(data) {
		end = len(data)
	}

	out = append([]byte{uint8(seq)}, data[start:end]...)
	for len(out) < 8 {
		out = append(out, 0xff)
	}

	return
}

func (p *Port) sendCM(src uint8, dest uint8, data []byte) (err error) {
	err = p.send(ID{Priority: tpPriority, PGN: PGNTPCM, Source: src, Dest: dest}, data)

	return
}

func (p *Port) sendDT(src uint8, dest uint8, data []byte, seq int) (err error) {
	err = p.send(ID{Priority: tpPriority, PGN: PGNTPDT, Source: src, Dest: dest}, dtData(data, seq))

	return
}

// Broadcasts data with the broadcast announce message protocol.
func (p *Port) sendBAM(id ID, data []byte) (err error) {
	var packets = packetCount(len(data))

	p.txLock.Lock()
	defer p.txLock.Unlock()

	err = p.sendCM(id.Source, AddressGlobal,
		cmData(cmBAM, sizeFields(len(data), packets, 0xff), id.PGN))
	if err != nil {
		return
	}

	for seq := 1; seq <= packets; seq++ {
		select {
		case <-time.After(p.opts.BAMInterval):
		case <-p.done:
			err = ErrClosed
			return
		}

		err = p.sendDT(id.Source, AddressGlobal, data, seq)
		if err != nil {
			return
		}
	}

	return
}

// Sends data to id.Dest over an RTS/CTS connection.
func (p *Port) sendRTS(id ID, data []byte) (err error) {
	var packets = packetCount(len(data))
	var ctrl = make(chan []byte, 4)
	var msg []byte

	p.txLock.Lock()
	defer p.txLock.Unlock()

	p.lock.Lock()
	p.peer = id.Dest
	p.ctrl = ctrl
	p.lock.Unlock()

	defer func() {
		p.lock.Lock()
		p.ctrl = nil
		p.lock.Unlock()
	}()

	err = p.sendCM(id.Source, id.Dest,
		cmData(cmRTS, sizeFields(len(data), packets, 0xff), id.PGN))
	if err != nil {
		return
	}

	for {
		msg, err = p.waitControl(ctrl)
		if err != nil {
			if err == ErrTimeout {
				p.sendCM(id.Source, id.Dest,
					cmData(cmAbort, [4]byte{abortTimeout, 0xff, 0xff, 0xff}, id.PGN))
			}
			return
		}

		switch msg[0] {
		case cmCTS:
			var count = int(msg[1])
			var next = int(msg[2])

			// count 0: the receiver asks to hold on
			for seq := next; seq < next+count && seq <= packets; seq++ {
				err = p.sendDT(id.Source, id.Dest, data, seq)
				if err != nil {
					return
				}
			}

		case cmEoMA:
			return

		case cmAbort:
			err = ErrAborted
			return
		}
	}
}

func (p *Port) waitControl(ctrl chan []byte) (msg []byte, err error) {
	var timer = time.NewTimer(tpTimeout)
	defer timer.Stop()

	select {
	case msg = <-ctrl:
	case <-timer.C:
		err = ErrTimeout
	case <-p.done:
		err = ErrClosed
	}

	return
}

func (p *Port) handleCM(id ID, data []byte) {
	var size int
	var packets int
	var pgn uint32

	if len(data) != 8 {
		return
	}

	pgn = pgnFromBytes(data[5:8])

	switch data[0] {
	case cmRTS, cmBAM:
		size = int(binary.LittleEndian.Uint16(data[1:3]))
		packets = int(data[3])

		if pgn != p.opts.PGN || size <= 8 || size > MaxMessageLength ||
			packets != packetCount(size) || (data[0] == cmBAM) != (id.Dest == AddressGlobal) {
			p.logger.Debug().Uint8("source", id.Source).Msg("ignoring transfer")
			return
		}

		p.sessions[id.Source] = &session{
			bam:          data[0] == cmBAM,
			pgn:          pgn,
			size:         size,
			packets:      packets,
			next:         1,
			data:         make([]byte, packets*bytesPerPacket),
			lastActivity: time.Now(),
		}

		if data[0] == cmRTS {
			// clear to send everything at once
			p.sendCM(id.Dest, id.Source,
				cmData(cmCTS, [4]byte{uint8(packets), 1, 0xff, 0xff}, pgn))
		}

	case cmCTS, cmEoMA, cmAbort:
		p.lock.Lock()
		peer, ctrl := p.peer, p.ctrl
		p.lock.Unlock()

		if ctrl != nil && id.Source == peer && id.Dest != AddressGlobal {
			select {
			case ctrl <- data:
			default:
			}
		}

		if data[0] == cmAbort {
			delete(p.sessions, id.Source)
		}
	}

	return
}

func (p *Port) handleDT(id ID, data []byte) {
	var s = p.sessions[id.Source]
	var seq int

	if s == nil || len(data) != 8 || s.bam != (id.Dest == AddressGlobal) {
		return
	}

	seq = int(data[0])
	if seq != s.next {
		delete(p.sessions, id.Source)
		if !s.bam {
			p.sendCM(id.Dest, id.Source,
				cmData(cmAbort, [4]byte{abortSequence, 0xff, 0xff, 0xff}, s.pgn))
		}
		return
	}

	copy(s.data[(seq-1)*bytesPerPacket:], data[1:])
	s.next++
	s.lastActivity = time.Now()

	if s.next <= s.packets {
		return
	}

	delete(p.sessions, id.Source)
	p.deliver(id.Source, s.data[:s.size])

	if !s.bam {
		p.sendCM(id.Dest, id.Source,
			cmData(cmEoMA, sizeFields(s.size, s.packets, 0xff), s.pgn))
	}

	return
}

// Drops incoming transfers which went silent.
func (p *Port) expireSessions() {
	for src, s := range p.sessions {
		if time.Since(s.lastActivity) > tpTimeout {
			p.logger.Debug().Uint8("source", src).Msg("transfer timed out")
			delete(p.sessions, src)
		}
	}

	return
}
