package transport

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/knet/internal/protocol/frame"
)

// BackoffConfig defines client dial retry backoff.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// ServerConfig configures one server instance.
type ServerConfig struct {
	ListenAddr string
	// MaxConnections caps the connection table; 0 means unlimited.
	MaxConnections int
	// ReadTimeout drops a peer that sends nothing for this long; 0 disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Limits       frame.Limits
}

// ClientConfig configures one client connection.
type ClientConfig struct {
	Address            string
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Limits             frame.Limits
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":9400",
		MaxConnections: 1024,
		ReadTimeout:    0,
		WriteTimeout:   15 * time.Second,
		Limits:         frame.DefaultLimits(),
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        0,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 1,
		Backoff:            DefaultBackoffConfig(),
		Limits:             frame.DefaultLimits(),
	}
}

func (c ServerConfig) WithDefaults() ServerConfig {
	def := DefaultServerConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

func (c ClientConfig) WithDefaults() ClientConfig {
	def := DefaultClientConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Delay returns the retry delay for attempt N (1-based).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return b.InitialDelay
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
