package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/danmuck/stompws/internal/observability"
	"github.com/danmuck/stompws/internal/protocol/frame"
)

var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrNotOpen        = errors.New("session: not open")
)

// Handlers are the callbacks a Session invokes from its loop goroutine.
type Handlers struct {
	// OnFrame receives every decoded inbound frame, in arrival order.
	OnFrame func(*frame.Frame)
	OnError ErrorHandler
	// OnDone runs once the session is terminal and its goroutines have
	// exited, before Done is closed.
	OnDone func(State)
}

type writeRequest struct {
	data   []byte
	queued time.Time
	errc   chan error
}

// Session owns one websocket connection and its lifecycle.
type Session struct {
	id        string
	cfg       Config
	transport Transport
	codec     frame.Codec
	handlers  Handlers
	signals   Signals
	log       zerolog.Logger

	mu             sync.Mutex
	state          State
	err            error
	host           string
	port           string
	path           string
	endpoints      []string
	raw            net.Conn
	conn           Conn
	cancel         context.CancelFunc
	closeRequested bool
	closeTimer     *time.Timer

	writes     chan writeRequest
	closeReq   chan struct{}
	terminated chan struct{}
	done       chan struct{}
	finishOnce sync.Once
	wg         sync.WaitGroup
}

// New creates an idle session. A nil transport selects the websocket transport.
func New(cfg Config, transport Transport, handlers Handlers) *Session {
	cfg = cfg.WithDefaults()
	if transport == nil {
		transport = NewWebSocketTransport(cfg)
	}
	id := uuid.NewString()
	terminated := make(chan struct{})
	return &Session{
		id:         id,
		cfg:        cfg,
		transport:  transport,
		codec:      cfg.NewCodec(),
		handlers:   handlers,
		signals:    newSignals(terminated),
		log:        observability.Component("session").With().Str("session", id).Logger(),
		writes:     make(chan writeRequest),
		closeReq:   make(chan struct{}, 1),
		terminated: terminated,
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Codec() frame.Codec {
	return s.codec
}

func (s *Session) Signals() Signals {
	return s.signals
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause once the session is Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed after every session goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run starts the dial sequence in the background.
func (s *Session) Run(host, port, path string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrAlreadyStarted, "state=%s", state)
	}
	s.host, s.port, s.path = host, port, path
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStateLocked(StateResolving)
	s.mu.Unlock()

	s.log.Info().Str("host", host).Str("port", port).Str("path", path).Msg("session run")
	go s.loop(ctx)
	return nil
}

// Send hands data to the writer and blocks until it is written.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if state := s.State(); state != StateOpen {
		return errors.Wrapf(ErrNotOpen, "state=%s", state)
	}
	req := writeRequest{data: data, queued: time.Now(), errc: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.terminated:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errc:
		return err
	case <-s.terminated:
		select {
		case err := <-req.errc:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close starts a graceful shutdown. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	state := s.state
	switch {
	case state == StateIdle:
		s.setStateLocked(StateClosed)
		s.mu.Unlock()
		s.finish()
	case state.dialing():
		s.closeRequested = true
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
	case state == StateOpen:
		s.setStateLocked(StateClosing)
		s.mu.Unlock()
		select {
		case s.closeReq <- struct{}{}:
		default:
		}
	default:
		s.mu.Unlock()
	}
	return nil
}

// Wait blocks until the session goroutines have exited.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) loop(ctx context.Context) {
	defer s.finish()
	for {
		state := s.State()
		if state.Terminal() {
			return
		}
		if state.dialing() && s.closeWanted() {
			s.discardDial()
			s.transition(state, StateClosed)
			continue
		}

		next, err := s.step(ctx, state)
		if err != nil {
			if state.dialing() && s.closeWanted() {
				continue
			}
			s.fail(opForState(state), err)
			continue
		}
		if next == state {
			continue
		}
		if s.transition(state, next) && next == StateOpen {
			s.opened()
		}
	}
}

func (s *Session) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateResolving:
		return s.resolve(ctx)
	case StateConnecting:
		return s.connect(ctx)
	case StateHandshaking:
		return s.handshake(ctx)
	case StateOpen, StateClosing:
		return s.read(state)
	}
	return state, errors.Errorf("session: no step for state %s", state)
}

func (s *Session) resolve(ctx context.Context) (State, error) {
	endpoints, err := s.transport.Resolve(ctx, s.host, s.port)
	if err != nil {
		return StateFailed, err
	}
	s.mu.Lock()
	s.endpoints = endpoints
	s.mu.Unlock()
	s.log.Debug().Strs("endpoints", endpoints).Msg("resolved")
	return StateConnecting, nil
}

func (s *Session) connect(ctx context.Context) (State, error) {
	s.mu.Lock()
	endpoints := s.endpoints
	s.mu.Unlock()
	raw, err := s.transport.Connect(ctx, endpoints)
	if err != nil {
		return StateFailed, err
	}
	s.mu.Lock()
	s.raw = raw
	s.mu.Unlock()
	return StateHandshaking, nil
}

func (s *Session) handshake(ctx context.Context) (State, error) {
	s.mu.Lock()
	raw := s.raw
	s.mu.Unlock()
	conn, err := s.transport.Handshake(ctx, raw, net.JoinHostPort(s.host, s.port), s.path)
	if err != nil {
		if raw != nil {
			_ = raw.Close()
		}
		return StateFailed, err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return StateOpen, nil
}

// read performs one read and dispatch; the loop re-arms it immediately.
func (s *Session) read(state State) (State, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	data, err := conn.ReadMessage()
	if err != nil {
		switch current := s.State(); current {
		case StateClosing:
			s.transition(StateClosing, StateClosed)
			return StateClosed, nil
		case StateClosed, StateFailed:
			return current, nil
		}
		return StateFailed, err
	}
	s.dispatch(data)
	return state, nil
}

func (s *Session) dispatch(data []byte) {
	f, err := s.codec.Decode(data)
	if err != nil {
		if errors.Is(err, frame.ErrEmptyFrame) {
			s.log.Trace().Msg("heart-beat")
			return
		}
		observability.RecordMalformedFrame()
		s.log.Debug().Err(err).Int("bytes", len(data)).Msg("dropped malformed frame")
		return
	}
	observability.RecordFrame(observability.DirectionInbound, f.Command)
	if !frame.IsInbound(f.Command) {
		s.log.Debug().Str("command", f.Command).Msg("unexpected inbound command")
	}
	if s.handlers.OnFrame != nil {
		s.handlers.OnFrame(f)
	}
}

func (s *Session) opened() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.writeLoop(conn)
	s.signals.ConnectionReady.Notify()
	s.log.Info().Msg("session open")
}

// writeLoop is the only goroutine that writes to conn.
func (s *Session) writeLoop(conn Conn) {
	defer s.wg.Done()
	closeSent := false
	for {
		select {
		case req := <-s.writes:
			if closeSent {
				req.errc <- errors.Wrap(ErrNotOpen, "close handshake already sent")
				continue
			}
			if err := conn.WriteMessage(req.data); err != nil {
				s.fail(OpWrite, err)
				req.errc <- errors.Wrap(err, "session: write")
				return
			}
			observability.RecordWrite(time.Since(req.queued))
			s.signals.WriteComplete.Notify()
			req.errc <- nil
		case <-s.closeReq:
			if closeSent {
				continue
			}
			closeSent = true
			if err := conn.CloseHandshake(); err != nil {
				s.fail(OpClose, err)
				return
			}
			s.armCloseTimer(conn)
		case <-s.terminated:
			return
		}
	}
}

func (s *Session) armCloseTimer(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeTimer = time.AfterFunc(s.cfg.CloseTimeout, func() {
		s.log.Warn().Dur("timeout", s.cfg.CloseTimeout).Msg("close not confirmed, dropping connection")
		_ = conn.Close()
	})
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from || !CanTransition(from, to) {
		return false
	}
	if to == StateOpen && s.closeRequested {
		return false
	}
	s.setStateLocked(to)
	return true
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	s.state = to
	observability.RecordStateTransition(to.String())
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state")
}

func (s *Session) fail(op Op, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.err = errors.Wrapf(err, "session: %s", op)
	s.setStateLocked(StateFailed)
	conn, raw := s.conn, s.raw
	s.mu.Unlock()

	observability.RecordTransportError(string(op))
	s.log.Debug().Err(err).Str("op", string(op)).Msg("transport failed")
	if conn != nil {
		_ = conn.Close()
	} else if raw != nil {
		_ = raw.Close()
	}
	if s.handlers.OnError != nil {
		s.handlers.OnError(op, err)
	}
}

func (s *Session) closeWanted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRequested
}

func (s *Session) discardDial() {
	s.mu.Lock()
	conn, raw := s.conn, s.raw
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	} else if raw != nil {
		_ = raw.Close()
	}
}

func (s *Session) finish() {
	s.finishOnce.Do(func() {
		close(s.terminated)

		s.mu.Lock()
		conn, raw, cancel := s.conn, s.raw, s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		} else if raw != nil {
			_ = raw.Close()
		}

		s.wg.Wait()
		s.mu.Lock()
		if s.closeTimer != nil {
			s.closeTimer.Stop()
		}
		s.mu.Unlock()
		state := s.State()
		if s.handlers.OnDone != nil {
			s.handlers.OnDone(state)
		}
		close(s.done)
		s.log.Info().Str("state", state.String()).Msg("session finished")
	})
}
