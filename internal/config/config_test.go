package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/stompws/internal/protocol/frame"
	"github.com/danmuck/stompws/internal/protocol/session"
	"github.com/danmuck/stompws/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClientConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
host = "172.16.2.32"
port = "9090"
login = "guest"
codec = "strict"
write_timeout = "2s"
subprotocols = ["v11.stomp"]
session_security_mode = "production"
session_tls_enabled = true
session_tls_ca_file = "/etc/stompws/ca.crt"
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Host != "172.16.2.32" || cfg.Port != "9090" {
		t.Fatalf("unexpected endpoint: %s", cfg.Addr())
	}
	if cfg.Path != DefaultPath {
		t.Fatalf("path should keep default, got %q", cfg.Path)
	}
	if cfg.Login != "guest" || cfg.Passcode != "" {
		t.Fatalf("unexpected credentials: login=%q passcode=%q", cfg.Login, cfg.Passcode)
	}
	if cfg.Session.Codec != frame.ModeStrict {
		t.Fatalf("unexpected codec: %q", cfg.Session.Codec)
	}
	if cfg.Session.WriteTimeout != 2*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.Session.WriteTimeout)
	}
	if cfg.Session.ConnectTimeout != 30*time.Second {
		t.Fatalf("connect timeout should keep default, got %v", cfg.Session.ConnectTimeout)
	}
	if len(cfg.Session.Subprotocols) != 1 || cfg.Session.Subprotocols[0] != "v11.stomp" {
		t.Fatalf("unexpected subprotocols: %v", cfg.Session.Subprotocols)
	}
	if cfg.Session.SecurityMode != session.SecurityModeProduction || !cfg.Session.TLS.Enabled {
		t.Fatalf("unexpected security: mode=%q tls=%v", cfg.Session.SecurityMode, cfg.Session.TLS.Enabled)
	}
}

func TestLoadClientConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]struct {
		content string
		want    error
	}{
		"port":    {content: `port = "70000"`, want: ErrInvalidConfig},
		"path":    {content: `path = "ws"`, want: ErrInvalidConfig},
		"host":    {content: `host = " "`, want: ErrInvalidConfig},
		"unknown": {content: `hots = "typo"`, want: ErrInvalidConfig},
		"codec":   {content: `codec = "stomp13"`, want: frame.ErrUnknownMode},
		"tls":     {content: `session_security_mode = "production"`, want: session.ErrTLSRequired},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadClientConfig(writeConfig(t, tc.content))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got=%v want=%v", err, tc.want)
			}
		})
	}
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTemplateLoadsAsDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := DefaultClientConfig()
	def.Session = def.Session.WithDefaults()
	if cfg.Addr() != def.Addr() || cfg.Path != def.Path {
		t.Fatalf("template endpoint drifted from defaults: %s%s", cfg.Addr(), cfg.Path)
	}
	if cfg.Session.ConnectTimeout != def.Session.ConnectTimeout ||
		cfg.Session.CloseTimeout != def.Session.CloseTimeout ||
		cfg.Session.MaxFrameBytes != def.Session.MaxFrameBytes ||
		cfg.Session.Codec != def.Session.Codec ||
		cfg.Session.UserAgent != def.Session.UserAgent {
		t.Fatalf("template session drifted from defaults: %+v", cfg.Session)
	}
}
