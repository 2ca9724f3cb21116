package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/knet/internal/logging"
	"github.com/danmuck/knet/internal/protocol/frame"
	"github.com/danmuck/knet/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// Relay modes for knetd.
const (
	ModeRelay = "relay"
	ModeEcho  = "echo"
	ModeSink  = "sink"
)

type ServerFile struct {
	Listen         string    `toml:"listen"`
	MaxConnections int       `toml:"max_connections"`
	ReadTimeout    string    `toml:"read_timeout"`
	WriteTimeout   string    `toml:"write_timeout"`
	MaxFrameBytes  int       `toml:"max_frame_bytes"`
	Mode           string    `toml:"mode"`
	Admin          AdminFile `toml:"admin"`
	Log            LogFile   `toml:"log"`
}

type AdminFile struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type LogFile struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

type ClientFile struct {
	Address            string      `toml:"address"`
	Name               string      `toml:"name"`
	ConnectTimeout     string      `toml:"connect_timeout"`
	ReadTimeout        string      `toml:"read_timeout"`
	WriteTimeout       string      `toml:"write_timeout"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	MaxFrameBytes      int         `toml:"max_frame_bytes"`
	Backoff            BackoffFile `toml:"backoff"`
	Log                LogFile     `toml:"log"`
}

type BackoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

func DefaultServerFile() ServerFile {
	def := transport.DefaultServerConfig()
	return ServerFile{
		Listen:         def.ListenAddr,
		MaxConnections: def.MaxConnections,
		ReadTimeout:    "0s",
		WriteTimeout:   def.WriteTimeout.String(),
		MaxFrameBytes:  def.Limits.MaxDataBytes,
		Mode:           ModeRelay,
		Admin: AdminFile{
			Addr: "127.0.0.1:9401",
		},
		Log: LogFile{Level: "info", Timestamp: true},
	}
}

func DefaultClientFile() ClientFile {
	def := transport.DefaultClientConfig()
	return ClientFile{
		Address:            "127.0.0.1:9400",
		Name:               "knetctl",
		ConnectTimeout:     def.ConnectTimeout.String(),
		ReadTimeout:        "0s",
		WriteTimeout:       def.WriteTimeout.String(),
		MaxConnectAttempts: 3,
		MaxFrameBytes:      def.Limits.MaxDataBytes,
		Backoff: BackoffFile{
			InitialDelay: def.Backoff.InitialDelay.String(),
			Multiplier:   def.Backoff.Multiplier,
			MaxDelay:     def.Backoff.MaxDelay.String(),
			Jitter:       def.Backoff.Jitter,
		},
		Log: LogFile{Level: "info"},
	}
}

// LoadServerFile decodes path over DefaultServerFile. Unknown keys are errors.
func LoadServerFile(path string) (ServerFile, error) {
	cfg := DefaultServerFile()
	if err := loadToml(path, &cfg); err != nil {
		return ServerFile{}, err
	}
	if err := ValidateServerFile(cfg); err != nil {
		return ServerFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadClientFile decodes path over DefaultClientFile. Unknown keys are errors.
func LoadClientFile(path string) (ClientFile, error) {
	cfg := DefaultClientFile()
	if err := loadToml(path, &cfg); err != nil {
		return ClientFile{}, err
	}
	if err := ValidateClientFile(cfg); err != nil {
		return ClientFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerFile(cfg ServerFile) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen is required")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be >= 0")
	}
	if cfg.MaxFrameBytes < 0 {
		return fmt.Errorf("max_frame_bytes must be >= 0")
	}
	switch cfg.Mode {
	case ModeRelay, ModeEcho, ModeSink:
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if _, err := parseDuration("read_timeout", cfg.ReadTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("write_timeout", cfg.WriteTimeout); err != nil {
		return err
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("admin.addr is required when admin is enabled")
	}
	return validateLog(cfg.Log)
}

func ValidateClientFile(cfg ClientFile) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("address is required")
	}
	if strings.HasPrefix(strings.TrimSpace(cfg.Address), ":") {
		return fmt.Errorf("address needs a host")
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("max_connect_attempts must be >= 0")
	}
	if cfg.MaxFrameBytes < 0 {
		return fmt.Errorf("max_frame_bytes must be >= 0")
	}
	for _, d := range []struct{ name, raw string }{
		{"connect_timeout", cfg.ConnectTimeout},
		{"read_timeout", cfg.ReadTimeout},
		{"write_timeout", cfg.WriteTimeout},
		{"backoff.initial_delay", cfg.Backoff.InitialDelay},
		{"backoff.max_delay", cfg.Backoff.MaxDelay},
	} {
		if _, err := parseDuration(d.name, d.raw); err != nil {
			return err
		}
	}
	return validateLog(cfg.Log)
}

func validateLog(cfg LogFile) error {
	if strings.TrimSpace(cfg.Level) == "" {
		return nil
	}
	if _, ok := logging.ParseLevel(cfg.Level); !ok {
		return fmt.Errorf("unknown log.level %q", cfg.Level)
	}
	return nil
}

// Transport converts the file into a transport.ServerConfig.
func (cfg ServerFile) Transport() (transport.ServerConfig, error) {
	read, err := parseDuration("read_timeout", cfg.ReadTimeout)
	if err != nil {
		return transport.ServerConfig{}, err
	}
	write, err := parseDuration("write_timeout", cfg.WriteTimeout)
	if err != nil {
		return transport.ServerConfig{}, err
	}
	out := transport.ServerConfig{
		ListenAddr:     strings.TrimSpace(cfg.Listen),
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    read,
		WriteTimeout:   write,
		Limits:         frame.Limits{MaxDataBytes: cfg.MaxFrameBytes},
	}
	return out.WithDefaults(), nil
}

// Transport converts the file into a transport.ClientConfig.
func (cfg ClientFile) Transport() (transport.ClientConfig, error) {
	var (
		out transport.ClientConfig
		err error
	)
	out.Address = strings.TrimSpace(cfg.Address)
	out.MaxConnectAttempts = cfg.MaxConnectAttempts
	out.Limits = frame.Limits{MaxDataBytes: cfg.MaxFrameBytes}
	if out.ConnectTimeout, err = parseDuration("connect_timeout", cfg.ConnectTimeout); err != nil {
		return transport.ClientConfig{}, err
	}
	if out.ReadTimeout, err = parseDuration("read_timeout", cfg.ReadTimeout); err != nil {
		return transport.ClientConfig{}, err
	}
	if out.WriteTimeout, err = parseDuration("write_timeout", cfg.WriteTimeout); err != nil {
		return transport.ClientConfig{}, err
	}
	if out.Backoff.InitialDelay, err = parseDuration("backoff.initial_delay", cfg.Backoff.InitialDelay); err != nil {
		return transport.ClientConfig{}, err
	}
	if out.Backoff.MaxDelay, err = parseDuration("backoff.max_delay", cfg.Backoff.MaxDelay); err != nil {
		return transport.ClientConfig{}, err
	}
	out.Backoff.Multiplier = cfg.Backoff.Multiplier
	out.Backoff.Jitter = cfg.Backoff.Jitter
	return out.WithDefaults(), nil
}

// Layer returns a logging layer for logging.ConfigureWith.
func (cfg LogFile) Layer() func(*logging.Config) {
	return func(out *logging.Config) {
		if lvl, ok := logging.ParseLevel(cfg.Level); ok {
			out.Level = lvl
		}
		out.Timestamp = cfg.Timestamp
		out.NoColor = cfg.NoColor
	}
}

func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return d, nil
}
