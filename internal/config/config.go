package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/danmuck/stompws/internal/protocol/frame"
	"github.com/danmuck/stompws/internal/protocol/session"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "8080"
	DefaultPath = "/gs-guide-websocket"
)

var ErrInvalidConfig = errors.New("config: invalid client config")

// ClientConfig is the broker endpoint plus session tuning.
type ClientConfig struct {
	Host     string
	Port     string
	Path     string
	Login    string
	Passcode string
	Session  session.Config
}

// Addr joins Host and Port.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:    DefaultHost,
		Port:    DefaultPort,
		Path:    DefaultPath,
		Session: session.DefaultConfig(),
	}
}

// config.toml key mapping to ClientConfig.
type fileConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Path     string `toml:"path"`
	Login    string `toml:"login"`
	Passcode string `toml:"passcode"`

	Codec            string        `toml:"codec"`
	ConnectTimeout   time.Duration `toml:"connect_timeout"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	CloseTimeout     time.Duration `toml:"close_timeout"`
	MaxFrameBytes    int64         `toml:"max_frame_bytes"`
	UserAgent        string        `toml:"user_agent"`
	Subprotocols     []string      `toml:"subprotocols"`

	SessionSecurityMode  string `toml:"session_security_mode"`
	SessionTLSEnabled    bool   `toml:"session_tls_enabled"`
	SessionTLSMutual     bool   `toml:"session_tls_mutual"`
	SessionTLSInsecure   bool   `toml:"session_tls_insecure_skip_verify"`
	SessionTLSCertFile   string `toml:"session_tls_cert_file"`
	SessionTLSKeyFile    string `toml:"session_tls_key_file"`
	SessionTLSCAFile     string `toml:"session_tls_ca_file"`
	SessionTLSServerName string `toml:"session_tls_server_name"`
}

// LoadClientConfig overlays the keys present in path onto DefaultClientConfig.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, errors.Wrapf(err, "config: load %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, errors.Wrapf(ErrInvalidConfig, "unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("login") {
		cfg.Login = raw.Login
	}
	if meta.IsDefined("passcode") {
		cfg.Passcode = raw.Passcode
	}
	if meta.IsDefined("codec") {
		mode, err := frame.ParseMode(raw.Codec)
		if err != nil {
			return ClientConfig{}, errors.Wrap(err, "config: codec")
		}
		cfg.Session.Codec = mode
	}
	if meta.IsDefined("connect_timeout") {
		cfg.Session.ConnectTimeout = raw.ConnectTimeout
	}
	if meta.IsDefined("handshake_timeout") {
		cfg.Session.HandshakeTimeout = raw.HandshakeTimeout
	}
	if meta.IsDefined("write_timeout") {
		cfg.Session.WriteTimeout = raw.WriteTimeout
	}
	if meta.IsDefined("close_timeout") {
		cfg.Session.CloseTimeout = raw.CloseTimeout
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Session.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("user_agent") {
		cfg.Session.UserAgent = strings.TrimSpace(raw.UserAgent)
	}
	if meta.IsDefined("subprotocols") {
		cfg.Session.Subprotocols = raw.Subprotocols
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.SessionTLSInsecure
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}
	if meta.IsDefined("session_tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.SessionTLSServerName)
	}

	cfg.Session = cfg.Session.WithDefaults()
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.Wrap(ErrInvalidConfig, "host is required")
	}
	port, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || port < 1 || port > 65535 {
		return errors.Wrapf(ErrInvalidConfig, "port %q out of range", cfg.Port)
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return errors.Wrapf(ErrInvalidConfig, "path %q must start with /", cfg.Path)
	}
	if cfg.Session.Codec != "" {
		if _, err := frame.ParseMode(string(cfg.Session.Codec)); err != nil {
			return err
		}
	}
	return cfg.Session.ValidateClientTransport()
}
