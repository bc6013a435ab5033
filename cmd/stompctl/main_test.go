package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	stompframe "github.com/go-stomp/stomp/v3/frame"
	"github.com/spf13/cobra"

	"github.com/danmuck/stompws/internal/client"
	"github.com/danmuck/stompws/internal/config"
	"github.com/danmuck/stompws/internal/protocol/frame"
	"github.com/danmuck/stompws/internal/testutil/brokertest"
	"github.com/danmuck/stompws/internal/testutil/testlog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func brokerConfig(b *brokertest.Broker) config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.Host, cfg.Port = b.HostPort()
	cfg.Path = "/ws"
	cfg.Session = cfg.Session.WithDefaults()
	return cfg
}

func TestRunDemoAgainstBroker(t *testing.T) {
	testlog.Start(t)
	b := brokertest.New(t)
	cfg := brokerConfig(b)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runDemo(ctx, cfg, client.Config{Session: cfg.Session}, demoOptions{name: "Fred"}, &out)
	}()

	b.Expect(t, stompframe.CONNECT)
	sub := b.Expect(t, stompframe.SUBSCRIBE)
	if sub.Header.Get(stompframe.Id) != "452" || sub.Header.Get(stompframe.Destination) != "/topic/greetings" {
		t.Fatalf("unexpected SUBSCRIBE: id=%q destination=%q", sub.Header.Get(stompframe.Id), sub.Header.Get(stompframe.Destination))
	}
	send := b.Expect(t, stompframe.SEND)
	if send.Header.Get(stompframe.Destination) != "/app/hello" || string(send.Body) != `{"name":"Fred"}` {
		t.Fatalf("unexpected SEND: destination=%q body=%q", send.Header.Get(stompframe.Destination), send.Body)
	}
	b.Inject(t, brokertest.Message("452", "/topic/greetings", "g-1", []byte(`{"content":"Hello, Fred!"}`)))

	b.Expect(t, stompframe.UNSUBSCRIBE)
	if disc := b.Expect(t, stompframe.DISCONNECT); disc.Header.Get(stompframe.Receipt) != "123" {
		t.Fatalf("unexpected DISCONNECT receipt: %q", disc.Header.Get(stompframe.Receipt))
	}

	if err := <-done; err != nil {
		t.Fatalf("run demo: %v", err)
	}
	if !strings.Contains(out.String(), "Hello, Fred!") || !strings.Contains(out.String(), "receipt 123 confirmed") {
		t.Fatalf("unexpected demo output:\n%s", out.String())
	}
}

func TestRunChatAgainstBroker(t *testing.T) {
	testlog.Start(t)
	b := brokertest.New(t)
	cfg := brokerConfig(b)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, stdin := io.Pipe()
	out := &syncBuffer{}
	chat := chatOptions{
		sender:      "ann",
		topic:       "/topic/topic1",
		destination: "/app/topic1",
		timeout:     5 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		done <- runChat(ctx, cfg, client.Config{Session: cfg.Session}, chat, in, out)
	}()

	b.Expect(t, stompframe.CONNECT)
	if sub := b.Expect(t, stompframe.SUBSCRIBE); sub.Header.Get(stompframe.Id) != "147" {
		t.Fatalf("unexpected SUBSCRIBE id: %q", sub.Header.Get(stompframe.Id))
	}

	if _, err := io.WriteString(stdin, "hello\n\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	send := b.Expect(t, stompframe.SEND)
	if string(send.Body) != `{"sender":"ann","message":"hello"}` {
		t.Fatalf("unexpected SEND body: %q", send.Body)
	}
	if send.Header.Get(stompframe.Destination) != "/app/topic1" || send.Header.Get(stompframe.ContentType) != "application/JSON" {
		t.Fatalf("unexpected SEND headers: %+v", send.Header)
	}

	b.Inject(t, brokertest.Message("147", "/topic/topic1", "m-1", []byte(`{"sender":"bob","message":"hi ann"}`)))
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "bob: hi ann") {
		if time.Now().After(deadline) {
			t.Fatalf("chat output missing message: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = stdin.Close()
	b.Expect(t, stompframe.UNSUBSCRIBE)
	if disc := b.Expect(t, stompframe.DISCONNECT); disc.Header.Get(stompframe.Receipt) != "123" {
		t.Fatalf("unexpected DISCONNECT receipt: %q", disc.Header.Get(stompframe.Receipt))
	}
	if err := <-done; err != nil {
		t.Fatalf("run chat: %v", err)
	}
}

func TestRunChatCancelClosesInput(t *testing.T) {
	testlog.Start(t)
	b := brokertest.New(t)
	cfg := brokerConfig(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, stdin := io.Pipe()
	chat := chatOptions{topic: "/topic/topic1", destination: "/app/topic1", timeout: 5 * time.Second}
	done := make(chan error, 1)
	go func() {
		done <- runChat(ctx, cfg, client.Config{Session: cfg.Session}, chat, in, &syncBuffer{})
	}()
	b.Expect(t, stompframe.CONNECT)
	b.Expect(t, stompframe.SUBSCRIBE)

	cancel()
	b.Expect(t, stompframe.UNSUBSCRIBE)
	b.Expect(t, stompframe.DISCONNECT)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run chat: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run chat did not return after cancel")
	}
	if _, err := io.WriteString(stdin, "late\n"); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("stdin write after cancel got=%v want io.ErrClosedPipe", err)
	}
}

func TestChatText(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		`{"message":"hi"}`:                "hi",
		`{"sender":"bob","message":"hi"}`: "bob: hi",
		`{"sender":"","message":"hi"}`:    "hi",
		`plain text`:                      "plain text",
		`{"greeting":"hi"}`:               `{"greeting":"hi"}`,
	}
	for body, want := range cases {
		if got := chatText([]byte(body)); got != want {
			t.Fatalf("chatText(%s) got=%q want=%q", body, got, want)
		}
	}
	body, err := chatBody("", "no sender")
	if err != nil || string(body) != `{"message":"no sender"}` {
		t.Fatalf("chatBody got=%s err=%v", body, err)
	}
}

func TestClientConfigFlagsOverrideFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("host = \"broker.local\"\nport = \"9090\"\ncodec = \"strict\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts := &options{}
	var got config.ClientConfig
	cmd := &cobra.Command{
		Use: "stompctl-flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			got, err = opts.clientConfig(cmd)
			return err
		},
	}
	opts.bind(cmd.Flags())
	cmd.SetArgs([]string{"--config", path, "--port", "61614", "--path", "/stomp"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.Host != "broker.local" || got.Port != "61614" || got.Path != "/stomp" {
		t.Fatalf("unexpected endpoint: %s%s", got.Addr(), got.Path)
	}
	if got.Session.Codec != frame.ModeStrict {
		t.Fatalf("codec from file should survive, got %q", got.Session.Codec)
	}

	cmd.SetArgs([]string{"--codec", "bogus"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected bad codec error")
	}
}

func TestConfigInitAndValidateCommands(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "validate", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	want := "ok ws://localhost:8080/gs-guide-websocket codec=compat security=development"
	if !strings.Contains(out.String(), want) {
		t.Fatalf("validate output got=%q want prefix %q", out.String(), want)
	}
}

func TestVersionCommand(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("version output got=%q", out.String())
	}
}
