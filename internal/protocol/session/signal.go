package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrSessionClosed = errors.New("session: closed")

const (
	SignalConnectionReady = "connection_ready"
	SignalWriteComplete   = "write_complete"
	SignalMessageArrived  = "message_arrived"
	SignalReceiptArrived  = "receipt_arrived"
)

// Signal is a payload-free broadcast point. A Waiter armed before a Notify
// is released by it; notifications before the arm are not remembered.
type Signal struct {
	name  string
	abort <-chan struct{}

	mu    sync.Mutex
	ch    chan struct{}
	count uint64
}

// NewSignal creates a signal whose waiters give up once abort is closed.
func NewSignal(name string, abort <-chan struct{}) *Signal {
	return &Signal{
		name:  name,
		abort: abort,
		ch:    make(chan struct{}),
	}
}

func (s *Signal) Name() string {
	return s.name
}

func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.count++
}

// Count returns the number of notifications so far.
func (s *Signal) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Arm captures the next notification.
func (s *Signal) Arm() Waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Waiter{name: s.name, fired: s.ch, abort: s.abort}
}

// Wait blocks until a notification that happens after the call.
func (s *Signal) Wait(ctx context.Context) error {
	return s.Arm().Wait(ctx)
}

// Waiter is one armed wait on a Signal.
type Waiter struct {
	name  string
	fired <-chan struct{}
	abort <-chan struct{}
}

func (w Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.fired:
		return nil
	case <-w.abort:
		select {
		case <-w.fired:
			return nil
		default:
		}
		return errors.Wrapf(ErrSessionClosed, "waiting for %s", w.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed by the notification this waiter was armed for.
func (w Waiter) Done() <-chan struct{} {
	return w.fired
}

// Signals are the named wait points of one session.
type Signals struct {
	ConnectionReady *Signal
	WriteComplete   *Signal
	MessageArrived  *Signal
	ReceiptArrived  *Signal
}

func newSignals(abort <-chan struct{}) Signals {
	return Signals{
		ConnectionReady: NewSignal(SignalConnectionReady, abort),
		WriteComplete:   NewSignal(SignalWriteComplete, abort),
		MessageArrived:  NewSignal(SignalMessageArrived, abort),
		ReceiptArrived:  NewSignal(SignalReceiptArrived, abort),
	}
}
