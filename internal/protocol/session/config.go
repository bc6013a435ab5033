package session

import (
	"strings"
	"time"

	"github.com/danmuck/stompws/internal/protocol/frame"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"

	DefaultUserAgent = "stompws-client"
)

// TLSConfig selects wss and the client certificate material.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
}

// Config defines transport/session defaults.
type Config struct {
	// ConnectTimeout bounds resolve and TCP connect only.
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CloseTimeout bounds the wait for the peer to confirm a close handshake.
	CloseTimeout  time.Duration
	MaxFrameBytes int64
	UserAgent     string
	Subprotocols  []string
	Codec         frame.Mode
	SecurityMode  SecurityMode
	TLS           TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		CloseTimeout:     5 * time.Second,
		MaxFrameBytes:    1024 * 1024,
		UserAgent:        DefaultUserAgent,
		Codec:            frame.ModeCompat,
		SecurityMode:     SecurityModeDevelopment,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Codec == "" {
		c.Codec = def.Codec
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

// NewCodec returns the frame codec matching this config.
func (c Config) NewCodec() frame.Codec {
	limits := frame.DefaultLimits()
	if c.MaxFrameBytes > 0 {
		limits.MaxFrameBytes = int(c.MaxFrameBytes)
		limits.MaxBodyBytes = int(c.MaxFrameBytes)
	}
	return frame.NewCodec(c.Codec, limits)
}
