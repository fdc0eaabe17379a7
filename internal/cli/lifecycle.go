package cli

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/config"
	"github.com/fieldbus/modbus-cli/internal/connection"
)

type State uint

const (
	StateIdle State = iota
	StateOpening
	StateConnected
	StateDispatching
	StateLooping
	StateClosed
)

func (s State) String() (str string) {
	switch s {
	case StateIdle:
		str = "idle"
	case StateOpening:
		str = "opening"
	case StateConnected:
		str = "connected"
	case StateDispatching:
		str = "dispatching"
	case StateLooping:
		str = "looping"
	case StateClosed:
		str = "closed"
	default:
		str = "unknown"
	}

	return
}

// Opener opens the connection described by a configuration.
type Opener interface {
	Open(ctx context.Context, c config.Config) (*connection.Handle, error)
}

// Lifecycle owns the connection and the master of one invocation: it
// opens the connection, waits for the master to be connected, then runs
// the command once or, in loop mode, until it fails or ctx is done.
type Lifecycle struct {
	Config  config.Config
	Command Command
	Opener  Opener
	Output  *Output
	Events  *modbus.EventBus
	Log     *zerolog.Logger
	// builds the session running over an open connection (optional)
	NewSession func(h *connection.Handle) (Session, error)

	lock  sync.Mutex
	state State
}

type openResult struct {
	handle *connection.Handle
	err    error
}

func (l *Lifecycle) State() (s State) {
	l.lock.Lock()
	defer l.lock.Unlock()

	s = l.state

	return
}

func (l *Lifecycle) setState(s State) {
	l.lock.Lock()
	prev := l.state
	l.state = s
	l.lock.Unlock()

	if prev != s {
		l.logger().Debug().Str("from", prev.String()).Str("to", s.String()).Msg("state change")
	}

	return
}

// Runs the command and returns the process exit code. Events are logged
// from the moment the connection is being opened until it is closed.
func (l *Lifecycle) Run(ctx context.Context) (code int) {
	var g errgroup.Group
	var stop = make(chan struct{})
	var dropped uint64

	g.Go(func() error {
		return logEvents(l.logger(), l.Events.Events(), stop)
	})

	code = l.run(ctx)

	close(stop)
	g.Wait()

	dropped = l.Events.Dropped()
	if dropped > 0 {
		l.logger().Debug().Uint64("count", dropped).Msg("events dropped")
	}

	return
}

func (l *Lifecycle) run(ctx context.Context) (code int) {
	var ready = make(chan openResult, 1)
	var res openResult
	var session Session
	var err error

	l.setState(StateOpening)

	go func() {
		var r openResult

		r.handle, r.err = l.Opener.Open(ctx, l.Config)
		ready <- r
	}()

	select {
	case res = <-ready:
	case <-ctx.Done():
		l.logger().Warn().Msg("interrupted while opening")
		l.setState(StateClosed)
		// release the connection if it shows up after all
		go func() {
			if r := <-ready; r.handle != nil {
				r.handle.Close()
			}
		}()
		code = 1
		return
	}

	if res.err != nil {
		l.setState(StateClosed)
		_, code = l.Output.Handle(res.err, nil)
		return
	}

	session, err = l.session(res.handle)
	if err != nil {
		res.handle.Close()
		l.setState(StateClosed)
		_, code = l.Output.Handle(err, nil)
		return
	}
	defer func() {
		// best effort
		session.Close()
		l.setState(StateClosed)
	}()

	err = session.Open()
	if err != nil {
		_, code = l.Output.Handle(err, nil)
		return
	}

	select {
	case <-session.Connected():
	case <-ctx.Done():
		code = 1
		return
	}

	l.setState(StateConnected)
	l.Output.Start(time.Now())

	// an interrupt closes the session, cutting short the transaction in
	// flight instead of waiting for its timeouts and retries
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-finished:
		}
	}()

	code = l.dispatch(ctx, session)

	return
}

// Runs the command once, or until it fails or ctx is done in loop mode.
func (l *Lifecycle) dispatch(ctx context.Context, session Session) (code int) {
	var res *modbus.Response
	var err error
	var next bool
	var successes int

	for {
		if ctx.Err() != nil {
			code = interruptCode(l.Output.Loop, successes)
			return
		}

		l.setState(StateDispatching)

		res, err = Dispatch(ctx, l.Command, session)
		if err != nil && ctx.Err() != nil {
			code = interruptCode(l.Output.Loop, successes)
			return
		}

		next, code = l.Output.Handle(err, res)
		if err == nil {
			successes++
		}

		if !next {
			return
		}

		l.setState(StateLooping)
	}
}

// An interrupted loop which got through at least once is a success.
func interruptCode(loop bool, successes int) (code int) {
	if loop && successes > 0 {
		return 0
	}

	return 1
}

func (l *Lifecycle) session(h *connection.Handle) (s Session, err error) {
	if l.NewSession != nil {
		s, err = l.NewSession(h)
		return
	}

	s, err = newSession(h, l.Config, l.Events, l.Log)

	return
}

func (l *Lifecycle) logger() (log *zerolog.Logger) {
	var nop zerolog.Logger

	if l.Log != nil {
		log = l.Log
		return
	}

	nop = zerolog.Nop()
	log = &nop

	return
}
