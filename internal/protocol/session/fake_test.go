package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

var errFakeClosed = errors.New("fake: connection closed")

type fakeConn struct {
	inbound    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	writeDelay time.Duration
	writeErr   error
	echoClose  bool

	mu              sync.Mutex
	written         [][]byte
	inFlight        int
	maxInFlight     int
	closeHandshakes int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:   make(chan []byte, 16),
		closed:    make(chan struct{}),
		echoClose: true,
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	delay := c.writeDelay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) CloseHandshake() error {
	c.mu.Lock()
	c.closeHandshakes++
	c.mu.Unlock()
	if c.echoClose {
		return c.Close()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, data := range c.written {
		out = append(out, string(data))
	}
	return out
}

func (c *fakeConn) MaxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

type fakeTransport struct {
	conn         *fakeConn
	resolveErr   error
	connectErr   error
	handshakeErr error
	blockResolve bool

	mu       sync.Mutex
	peers    []net.Conn
	hostport string
	path     string
}

func (t *fakeTransport) Resolve(ctx context.Context, host, port string) ([]string, error) {
	if t.blockResolve {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.resolveErr != nil {
		return nil, t.resolveErr
	}
	return []string{net.JoinHostPort(host, port)}, nil
}

func (t *fakeTransport) Connect(ctx context.Context, endpoints []string) (net.Conn, error) {
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	local, peer := net.Pipe()
	t.mu.Lock()
	t.peers = append(t.peers, peer)
	t.mu.Unlock()
	return local, nil
}

func (t *fakeTransport) Handshake(ctx context.Context, conn net.Conn, hostport, path string) (Conn, error) {
	t.mu.Lock()
	t.hostport, t.path = hostport, path
	t.mu.Unlock()
	if t.handshakeErr != nil {
		return nil, t.handshakeErr
	}
	return t.conn, nil
}

func (t *fakeTransport) closePeers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, peer := range t.peers {
		_ = peer.Close()
	}
}

type recordedError struct {
	op  Op
	err error
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []recordedError
}

func (r *errorRecorder) handle(op Op, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, recordedError{op: op, err: err})
}

func (r *errorRecorder) snapshot() []recordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedError(nil), r.errs...)
}
