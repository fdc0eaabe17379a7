package j1939

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/modbus-cli/internal/can"
)

const (
	claimTimeout  = 250 * time.Millisecond
	pollInterval  = 50 * time.Millisecond
	inboxCapacity = 16
)

type Options struct {
	// preferred source address, AddressNull to pick any free one
	Preferred uint8
	// random arbitrary address capable NAME if zero
	Name Name
	// PGN application messages are sent with, PGNProprietaryA if zero
	PGN      uint32
	Priority uint8
	// gap between BAM data packets, 50ms if zero
	BAMInterval time.Duration
	Logger      *zerolog.Logger
}

type message struct {
	src  uint8
	data []byte
}

// Port is a J1939 node on a CAN bus, exchanging application messages of
// up to MaxMessageLength bytes with other nodes.
type Port struct {
	bus    can.Bus
	opts   Options
	logger zerolog.Logger

	lock   sync.Mutex
	addr   uint8
	claims map[uint8]Name
	lost   chan struct{}
	// remote end of the outgoing RTS/CTS transfer and its control messages
	peer uint8
	ctrl chan []byte

	// incoming transfers by source address, owned by the reader goroutine
	sessions map[uint8]*session

	txLock    sync.Mutex
	inbox     chan message
	done      chan struct{}
	dead      chan struct{}
	rxErr     error
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Joins the bus and claims an address: the preferred one if free, else
// (if the NAME allows it) the first free one in the 128-247 range.
func Open(ctx context.Context, bus can.Bus, opts Options) (p *Port, err error) {
	if opts.Name == 0 {
		opts.Name = NewName(rand.Uint32())
	}
	if opts.PGN == 0 {
		opts.PGN = PGNProprietaryA
	}
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}
	if opts.BAMInterval == 0 {
		opts.BAMInterval = 50 * time.Millisecond
	}

	p = &Port{
		bus:      bus,
		opts:     opts,
		logger:   zerolog.Nop(),
		addr:     AddressNull,
		claims:   map[uint8]Name{},
		sessions: map[uint8]*session{},
		inbox:    make(chan message, inboxCapacity),
		done:     make(chan struct{}),
		dead:     make(chan struct{}),
	}

	if opts.Logger != nil {
		p.logger = opts.Logger.With().Str("component", "j1939").Logger()
	}

	p.wg.Add(1)
	go p.run()

	err = p.claim(ctx)
	if err != nil {
		p.Close()
		p = nil
	}

	return
}

// Returns the claimed source address, AddressNull if it was lost.
func (p *Port) Address() (addr uint8) {
	p.lock.Lock()
	defer p.lock.Unlock()

	addr = p.addr

	return
}

// Sends data to the node at dest (or to all nodes if dest is
// AddressGlobal), using the transport protocol past 8 bytes.
func (p *Port) SendTo(dest uint8, data []byte) (err error) {
	var id ID

	if len(data) > MaxMessageLength {
		err = ErrTooLong
		return
	}

	id = ID{
		Priority: p.opts.Priority,
		PGN:      p.opts.PGN,
		Source:   p.Address(),
		Dest:     dest,
	}

	if id.Source == AddressNull {
		err = ErrAddressClaim
		return
	}

	switch {
	case len(data) <= 8:
		err = p.send(id, data)
	case dest == AddressGlobal || !isPDU1(p.opts.PGN):
		err = p.sendBAM(id, data)
	default:
		err = p.sendRTS(id, data)
	}

	return
}

// Returns the next application message and its source address.
func (p *Port) ReceiveFrom(deadline time.Time) (src uint8, data []byte, err error) {
	var timer = time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case msg := <-p.inbox:
		src, data = msg.src, msg.data
	case <-timer.C:
		err = ErrTimeout
	case <-p.done:
		err = ErrClosed
	case <-p.dead:
		err = p.rxErr
	}

	return
}

// Leaves the bus and closes it.
func (p *Port) Close() (err error) {
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.bus.Close()
		p.wg.Wait()
	})

	return
}

func (p *Port) send(id ID, data []byte) (err error) {
	err = p.bus.Send(can.Frame{
		Id:       id.Encode(),
		Extended: true,
		Data:     data,
	})

	return
}

func (p *Port) sendClaim(addr uint8) (err error) {
	err = p.send(ID{
		Priority: DefaultPriority,
		PGN:      PGNAddressClaim,
		Source:   addr,
		Dest:     AddressGlobal,
	}, p.opts.Name.bytes())

	return
}

// Returns the addresses to try claiming, in order.
func (p *Port) candidates() (addrs []uint8) {
	if p.opts.Preferred < AddressNull {
		addrs = append(addrs, p.opts.Preferred)

		if !p.opts.Name.ArbitraryAddressCapable() {
			return
		}
	}

	for addr := uint8(128); addr <= 247; addr++ {
		if addr != p.opts.Preferred {
			addrs = append(addrs, addr)
		}
	}

	return
}

// Returns true if addr is held by a node with a higher priority NAME.
func (p *Port) inUse(addr uint8) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	owner, ok := p.claims[addr]

	return ok && owner < p.opts.Name
}

func (p *Port) claim(ctx context.Context) (err error) {
	var timer *time.Timer

	// ask every node for its address first
	err = p.send(ID{
		Priority: DefaultPriority,
		PGN:      PGNRequest,
		Source:   AddressNull,
		Dest:     AddressGlobal,
	}, pgnBytes(PGNAddressClaim))
	if err != nil {
		return
	}

	err = sleep(ctx, claimTimeout)
	if err != nil {
		return
	}

	for _, addr := range p.candidates() {
		var lost chan struct{}

		if p.inUse(addr) {
			continue
		}

		lost = make(chan struct{})
		p.lock.Lock()
		p.addr = addr
		p.lost = lost
		p.lock.Unlock()

		err = p.sendClaim(addr)
		if err != nil {
			return
		}

		timer = time.NewTimer(claimTimeout)

		select {
		case <-timer.C:
			p.lock.Lock()
			p.lost = nil
			p.lock.Unlock()

			p.logger.Debug().Uint8("address", addr).Msg("address claimed")
			return
		case <-lost:
			timer.Stop()
			p.logger.Debug().Uint8("address", addr).Msg("address claim lost")
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
			return
		}
	}

	p.lock.Lock()
	p.addr = AddressNull
	p.lock.Unlock()

	// cannot claim
	p.sendClaim(AddressNull)
	err = ErrAddressClaim

	return
}

// Reads frames off the bus until the port is closed or the bus fails.
func (p *Port) run() {
	var f can.Frame
	var err error

	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		p.expireSessions()

		f, err = p.bus.Receive(time.Now().Add(pollInterval))
		switch {
		case err == nil:
			p.handleFrame(f)
		case errors.Is(err, can.ErrTimeout), errors.Is(err, can.ErrBadFrame):
			continue
		default:
			select {
			case <-p.done:
			default:
				p.logger.Error().Err(err).Msg("bus receive failed")
				p.rxErr = err
				close(p.dead)
			}
			return
		}
	}
}

func (p *Port) handleFrame(f can.Frame) {
	var id ID
	var addr uint8

	if !f.Extended {
		return
	}

	id = DecodeID(f.Id)
	addr = p.Address()

	if id.Dest != AddressGlobal && (id.Dest != addr || addr == AddressNull) {
		return
	}

	switch id.PGN {
	case PGNAddressClaim:
		if len(f.Data) == 8 {
			p.handleClaim(id.Source, Name(binary.LittleEndian.Uint64(f.Data)))
		}

	case PGNRequest:
		if len(f.Data) >= 3 && pgnFromBytes(f.Data) == PGNAddressClaim && addr != AddressNull {
			p.sendClaim(addr)
		}

	case PGNTPCM:
		p.handleCM(id, f.Data)

	case PGNTPDT:
		p.handleDT(id, f.Data)

	case p.opts.PGN:
		p.deliver(id.Source, f.Data)
	}

	return
}

func (p *Port) handleClaim(src uint8, name Name) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if name == p.opts.Name || src == AddressNull {
		return
	}

	p.claims[src] = name

	if src != p.addr || p.addr == AddressNull {
		return
	}

	if name > p.opts.Name {
		// ours has priority: defend the address
		p.sendClaim(p.addr)
		return
	}

	if p.lost != nil {
		close(p.lost)
		p.lost = nil
	} else {
		p.logger.Warn().Uint8("address", p.addr).Msg("address taken over by another node")
	}

	p.addr = AddressNull

	return
}

func (p *Port) deliver(src uint8, data []byte) {
	select {
	case p.inbox <- message{src: src, data: append([]byte(nil), data...)}:
	default:
		p.logger.Warn().Uint8("source", src).Msg("inbox full, message dropped")
	}

	return
}

func sleep(ctx context.Context, d time.Duration) (err error) {
	var timer = time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	return
}
