// Package client is the STOMP facade over a websocket session.
package client

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	stompframe "github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/danmuck/stompws/internal/observability"
	"github.com/danmuck/stompws/internal/protocol/frame"
	"github.com/danmuck/stompws/internal/protocol/session"
)

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
)

type Config struct {
	Session session.Config
	// Transport overrides the websocket transport, mainly for tests.
	Transport session.Transport
	OnError   session.ErrorHandler
}

func DefaultConfig() Config {
	return Config{Session: session.DefaultConfig()}
}

// Client exposes blocking STOMP operations. Frames are dispatched on the
// session goroutine; callers block only on writes and waiters.
type Client struct {
	cfg      Config
	log      zerolog.Logger
	subs     *subscriptions
	receipts *session.ReceiptTracker
	handler  atomic.Pointer[MessageHandler]

	mu      sync.Mutex
	session *session.Session

	sendMu sync.Mutex
}

func New(cfg Config) *Client {
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg:      cfg,
		log:      observability.Component("client"),
		subs:     newSubscriptions(),
		receipts: session.NewReceiptTracker(),
	}
}

// Connect opens the websocket and sends CONNECT. It returns the transport
// failure when the session never reaches Open.
func (c *Client) Connect(ctx context.Context, host, port, path, login, passcode string) error {
	if err := c.cfg.Session.ValidateClientTransport(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil && !c.session.State().Terminal() {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	var s *session.Session
	s = session.New(c.cfg.Session, c.cfg.Transport, session.Handlers{
		OnFrame: func(f *frame.Frame) { c.dispatch(s.Signals(), f) },
		OnError: c.reportError,
		OnDone:  func(state session.State) { c.sessionDone(s, state) },
	})
	c.session = s
	c.subs.clear()
	c.receipts.Clear()
	c.mu.Unlock()

	c.log.Info().
		Str("host", host).
		Str("port", port).
		Str("path", path).
		Str("session", s.ID()).
		Msg("connecting")

	ready := s.Signals().ConnectionReady.Arm()
	if err := s.Run(host, port, path); err != nil {
		return err
	}
	if err := ready.Wait(ctx); err != nil {
		if cause := s.Err(); cause != nil {
			return cause
		}
		_ = s.Close()
		return err
	}
	return c.write(ctx, s, frame.Connect(host, login, passcode))
}

// Subscribe registers id for destination; messages use the default handler.
func (c *Client) Subscribe(ctx context.Context, id int, destination, ack string) error {
	return c.SubscribeFunc(ctx, id, destination, ack, nil)
}

// SubscribeFunc is Subscribe with a handler used only for this subscription.
func (c *Client) SubscribeFunc(ctx context.Context, id int, destination, ack string, h MessageHandler) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	f := frame.Subscribe(id, destination, ack)
	c.subs.add(Subscription{
		ID:          id,
		Destination: destination,
		Ack:         f.Header.Get(stompframe.Ack),
		handler:     h,
	})
	if err := c.write(ctx, s, f); err != nil {
		c.subs.remove(id)
		return err
	}
	return nil
}

func (c *Client) Send(ctx context.Context, destination, contentType string, body []byte) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	return c.write(ctx, s, s.Codec().Send(destination, contentType, body))
}

func (c *Client) Unsubscribe(ctx context.Context, id int) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	if err := c.write(ctx, s, frame.Unsubscribe(id)); err != nil {
		return err
	}
	if !c.subs.remove(id) {
		c.log.Debug().Int("id", id).Msg("unsubscribed unknown id")
	}
	return nil
}

// Disconnect sends DISCONNECT with a receipt header; the RECEIPT arrives
// through WaitForReceipt.
func (c *Client) Disconnect(ctx context.Context, receipt int) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	id := strconv.Itoa(receipt)
	c.receipts.Track(id, stompframe.DISCONNECT)
	if err := c.write(ctx, s, frame.Disconnect(receipt)); err != nil {
		c.receipts.Resolve(id)
		return err
	}
	return nil
}

// Close starts closing the websocket. WaitForShutdown reports completion.
func (c *Client) Close() error {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (c *Client) WaitForMessage(ctx context.Context) error {
	w, err := c.MessageWaiter()
	if err != nil {
		return err
	}
	return w.Wait(ctx)
}

func (c *Client) WaitForReceipt(ctx context.Context) error {
	w, err := c.ReceiptWaiter()
	if err != nil {
		return err
	}
	return w.Wait(ctx)
}

// MessageWaiter arms a wait for the next MESSAGE before the caller triggers it.
func (c *Client) MessageWaiter() (session.Waiter, error) {
	s := c.current()
	if s == nil {
		return session.Waiter{}, ErrNotConnected
	}
	return s.Signals().MessageArrived.Arm(), nil
}

func (c *Client) ReceiptWaiter() (session.Waiter, error) {
	s := c.current()
	if s == nil {
		return session.Waiter{}, ErrNotConnected
	}
	return s.Signals().ReceiptArrived.Arm(), nil
}

// WaitForShutdown blocks until the session goroutines exit. It returns
// immediately when Connect was never called.
func (c *Client) WaitForShutdown(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.Wait(ctx)
}

// SetMessageHandler replaces the default handler for the next dispatched message.
func (c *Client) SetMessageHandler(h MessageHandler) {
	if h == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&h)
}

func (c *Client) Subscriptions() []Subscription {
	return c.subs.list()
}

func (c *Client) PendingReceipts() []session.PendingReceipt {
	return c.receipts.Pending()
}

func (c *Client) State() session.State {
	s := c.current()
	if s == nil {
		return session.StateIdle
	}
	return s.State()
}

// Err returns the session failure, if any.
func (c *Client) Err() error {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.Err()
}

// sessionDone drops the subscriptions of a session that has ended.
func (c *Client) sessionDone(s *session.Session, state session.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return
	}
	c.subs.clear()
	c.log.Debug().Str("session", s.ID()).Str("state", state.String()).Msg("subscriptions cleared")
}

func (c *Client) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) live() (*session.Session, error) {
	s := c.current()
	if s == nil {
		return nil, ErrNotConnected
	}
	return s, nil
}

func (c *Client) write(ctx context.Context, s *session.Session, f *frame.Frame) error {
	data, err := s.Codec().Encode(f)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := s.Send(ctx, data); err != nil {
		return errors.Wrapf(err, "client: send %s", f.Command)
	}
	observability.RecordFrame(observability.DirectionOutbound, f.Command)
	c.log.Debug().Str("command", f.Command).Int("bytes", len(data)).Msg("frame sent")
	return nil
}

func (c *Client) reportError(op session.Op, err error) {
	c.log.Error().Err(err).Str("op", string(op)).Msg("stomp error")
	if c.cfg.OnError != nil {
		c.cfg.OnError(op, err)
	}
}
