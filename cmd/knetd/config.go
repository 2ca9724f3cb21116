package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/knet/internal/config"
	"github.com/rs/zerolog/log"
)

// knetd config.toml key mapping, overlaid onto config.DefaultServerFile.
type fileConfig struct {
	Listen         string `toml:"listen"`
	MaxConnections int    `toml:"max_connections"`
	ReadTimeout    string `toml:"read_timeout"`
	WriteTimeout   string `toml:"write_timeout"`
	MaxFrameBytes  int    `toml:"max_frame_bytes"`
	Mode           string `toml:"mode"`
	Admin          struct {
		Enabled     bool     `toml:"enabled"`
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"admin"`
	Log struct {
		Level     string `toml:"level"`
		Timestamp bool   `toml:"timestamp"`
		NoColor   bool   `toml:"no_color"`
	} `toml:"log"`
}

// loadServerConfig reads path over the defaults. A missing file at the default
// path is not an error.
func loadServerConfig(path string, optional bool) (config.ServerFile, error) {
	cfg := config.DefaultServerFile()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("component", "knetd").Str("path", path).Msg("no config file, using defaults")
			return cfg, nil
		}
		return config.ServerFile{}, fmt.Errorf("load knetd config: %w", err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("component", "knetd").Str("key", key.String()).Msg("ignoring unknown config key")
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("read_timeout") {
		cfg.ReadTimeout = strings.TrimSpace(raw.ReadTimeout)
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = strings.TrimSpace(raw.WriteTimeout)
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.Admin.CorsOrigins)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	if err := config.ValidateServerFile(cfg); err != nil {
		return config.ServerFile{}, fmt.Errorf("load knetd config: %w", err)
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
