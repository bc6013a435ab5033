package session

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var ErrNoEndpoints = errors.New("session: no endpoints resolved")

// Transport performs the dial stages of a session, one call per state.
type Transport interface {
	// Resolve returns host:port endpoints for host.
	Resolve(ctx context.Context, host, port string) ([]string, error)
	// Connect returns the first endpoint that accepts a TCP connection.
	Connect(ctx context.Context, endpoints []string) (net.Conn, error)
	// Handshake upgrades conn to a websocket.
	Handshake(ctx context.Context, conn net.Conn, hostport, path string) (Conn, error)
}

// Conn is an open message-oriented connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// CloseHandshake asks the peer to close; the peer's reply ends ReadMessage.
	CloseHandshake() error
	Close() error
}

// WebSocketTransport dials with net and upgrades with gorilla/websocket.
type WebSocketTransport struct {
	cfg      Config
	resolver *net.Resolver
}

func NewWebSocketTransport(cfg Config) *WebSocketTransport {
	return &WebSocketTransport{
		cfg:      cfg.WithDefaults(),
		resolver: net.DefaultResolver,
	}
}

func (t *WebSocketTransport) Resolve(ctx context.Context, host, port string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{net.JoinHostPort(host, port)}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	addrs, err := t.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.Wrapf(ErrNoEndpoints, "host=%s", host)
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, net.JoinHostPort(addr, port))
	}
	return out, nil
}

func (t *WebSocketTransport) Connect(ctx context.Context, endpoints []string) (net.Conn, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	var lastErr error
	for _, endpoint := range endpoints {
		conn, err := dialer.DialContext(ctx, "tcp", endpoint)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (t *WebSocketTransport) Handshake(ctx context.Context, conn net.Conn, hostport, path string) (Conn, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	tlsCfg, err := t.cfg.ClientTLSConfig(host)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if tlsCfg != nil {
		scheme = "wss"
	}
	target := url.URL{Scheme: scheme, Host: hostport, Path: path}

	used := false
	dialer := websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			if used {
				return nil, errors.New("session: connection already handed to handshake")
			}
			used = true
			return conn, nil
		},
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		Subprotocols:     t.cfg.Subprotocols,
	}
	header := http.Header{}
	header.Set("User-Agent", t.cfg.UserAgent)

	ws, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "status=%s", resp.Status)
		}
		return nil, err
	}
	ws.SetReadLimit(t.cfg.MaxFrameBytes)
	return &wsConn{ws: ws, writeTimeout: t.cfg.WriteTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) CloseHandshake() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
