// Package brokertest runs a minimal in-process STOMP-over-websocket broker.
package brokertest

import (
	"bytes"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	stompframe "github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/stompws/internal/protocol/frame"
)

// Broker answers CONNECT with CONNECTED and receipted DISCONNECT with RECEIPT.
// Everything else is recorded and left to the test to answer via Inject.
type Broker struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	decoder  frame.Codec
	frames   chan *frame.Frame

	mu       sync.Mutex
	conn     *websocket.Conn
	paths    []string
	received []*frame.Frame
	writeMu  sync.Mutex
}

func New(t testing.TB) *Broker {
	t.Helper()
	b := newBroker()
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

// NewTLS serves wss with the given server config.
func NewTLS(t testing.TB, cfg *tls.Config) *Broker {
	t.Helper()
	b := newBroker()
	b.srv = httptest.NewUnstartedServer(http.HandlerFunc(b.serve))
	b.srv.TLS = cfg
	b.srv.StartTLS()
	t.Cleanup(b.Close)
	return b
}

func newBroker() *Broker {
	return &Broker{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		decoder:  frame.NewCodec(frame.ModeCompat, frame.DefaultLimits()),
		frames:   make(chan *frame.Frame, 64),
	}
}

// HostPort splits the listener address for client.Connect.
func (b *Broker) HostPort() (string, string) {
	host, port, _ := net.SplitHostPort(b.srv.Listener.Addr().String())
	return host, port
}

func (b *Broker) Close() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	b.srv.Close()
}

// Paths lists the request paths of accepted upgrades.
func (b *Broker) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func (b *Broker) Received() []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*frame.Frame(nil), b.received...)
}

// Next returns the next frame the client sent.
func (b *Broker) Next(t testing.TB, timeout time.Duration) *frame.Frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("brokertest: no frame within %v", timeout)
		return nil
	}
}

// Expect reads the next frame and fails unless it carries command.
func (b *Broker) Expect(t testing.TB, command string) *frame.Frame {
	t.Helper()
	f := b.Next(t, 2*time.Second)
	if f.Command != command {
		t.Fatalf("brokertest: got=%s want=%s", f.Command, command)
	}
	return f
}

// Inject writes f, encoded strictly, to the connected client.
func (b *Broker) Inject(t testing.TB, f *frame.Frame) {
	t.Helper()
	if err := b.write(f); err != nil {
		t.Fatalf("brokertest: inject %s: %v", f.Command, err)
	}
}

// InjectRaw writes data as one text message.
func (b *Broker) InjectRaw(t testing.TB, data []byte) {
	t.Helper()
	if err := b.writeRaw(data); err != nil {
		t.Fatalf("brokertest: inject raw: %v", err)
	}
}

// Message builds a MESSAGE frame for subscription id.
func Message(subscription, destination, messageID string, body []byte) *frame.Frame {
	f := stompframe.New(stompframe.MESSAGE,
		stompframe.Subscription, subscription,
		stompframe.Destination, destination,
		stompframe.MessageId, messageID,
		stompframe.ContentType, "application/json",
	)
	f.Body = body
	return f
}

func Receipt(receiptID string) *frame.Frame {
	return stompframe.New(stompframe.RECEIPT, stompframe.ReceiptId, receiptID)
}

func Error(message string, body []byte) *frame.Frame {
	f := stompframe.New(stompframe.ERROR, stompframe.Message, message)
	f.Body = body
	return f
}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("brokertest: upgrade failed")
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.paths = append(b.paths, r.URL.Path)
	b.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := b.decoder.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("brokertest: undecodable client frame")
			continue
		}
		b.mu.Lock()
		b.received = append(b.received, f)
		b.mu.Unlock()
		b.frames <- f
		b.answer(f)
	}
}

func (b *Broker) answer(f *frame.Frame) {
	switch f.Command {
	case stompframe.CONNECT:
		_ = b.write(stompframe.New(stompframe.CONNECTED,
			stompframe.Version, "1.1",
			stompframe.HeartBeat, "0,0",
			stompframe.Server, "brokertest/1.0",
		))
	case stompframe.DISCONNECT:
		if id := strings.TrimSpace(f.Header.Get(stompframe.Receipt)); id != "" {
			_ = b.write(Receipt(id))
		}
	}
}

func (b *Broker) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := stompframe.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	return b.writeRaw(buf.Bytes())
}

func (b *Broker) writeRaw(data []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
