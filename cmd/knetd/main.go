package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/knet/internal/admin"
	"github.com/danmuck/knet/internal/config"
	"github.com/danmuck/knet/internal/logging"
	"github.com/danmuck/knet/internal/protocol/codec"
	"github.com/danmuck/knet/internal/transport"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/knetd/config.toml"

func main() {
	path := flag.String("config", defaultConfigPath, "path to knetd config.toml")
	listen := flag.String("listen", "", "listen address (overrides config)")
	mode := flag.String("mode", "", "relay | echo | sink (overrides config)")
	flag.Parse()

	cfg, err := loadServerConfig(*path, *path == defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "knetd: %v\n", err)
		os.Exit(1)
	}
	if v := strings.TrimSpace(*listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(*mode); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if err := config.ValidateServerFile(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "knetd: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureWith(logging.ProfileRuntime, cfg.Log.Layer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Error().Str("component", "knetd").Err(err).Msg("exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerFile) error {
	tc, err := cfg.Transport()
	if err != nil {
		return err
	}
	c := codec.EnvelopeCodec{Magic: codec.DefaultMagic, Version: codec.DefaultVersion}
	srv, events, err := transport.RunServer[codec.Envelope](ctx, tc, c)
	if err != nil {
		return err
	}
	log.Info().
		Str("component", "knetd").
		Str("server", srv.ID()).
		Str("addr", srv.Addr().String()).
		Str("mode", cfg.Mode).
		Msg("serving")

	adminErr := make(chan error, 1)
	if cfg.Admin.Enabled {
		a := admin.New(cfg.Admin.Addr, srv, cfg.Admin.CorsOrigins)
		go func() {
			adminErr <- a.Serve(ctx)
		}()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return srv.Wait()
			}
			dispatch(srv, cfg.Mode, ev)
		case err := <-adminErr:
			if err != nil {
				_ = srv.Close()
				<-srv.Done()
				return fmt.Errorf("admin: %w", err)
			}
		}
	}
}

// dispatch applies the daemon mode to one server event.
func dispatch[T any](srv *transport.Server[T], mode string, ev transport.Event[T]) {
	switch ev.Kind {
	case transport.EventNewConnection:
		log.Info().Str("component", "knetd").Uint32("slot", uint32(ev.ID)).Msg("peer joined")
		return
	case transport.EventConnectionDrop:
		log.Info().Str("component", "knetd").Uint32("slot", uint32(ev.ID)).Msg("peer left")
		return
	}

	switch mode {
	case config.ModeEcho:
		writeTo(srv, ev.ID, ev.Value)
	case config.ModeRelay:
		for _, info := range srv.Connections() {
			if info.ID == ev.ID {
				continue
			}
			writeTo(srv, info.ID, ev.Value)
		}
	default:
		log.Debug().Str("component", "knetd").Uint32("slot", uint32(ev.ID)).Msg("discarding value")
	}
}

func writeTo[T any](srv *transport.Server[T], id transport.SlotID, v T) {
	err := srv.Write(v, id)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrUnknownConnection), errors.Is(err, transport.ErrChannelClosed):
		// peer left between the event and the write
		log.Debug().Str("component", "knetd").Uint32("slot", uint32(id)).Err(err).Msg("write skipped")
	default:
		log.Warn().Str("component", "knetd").Uint32("slot", uint32(id)).Err(err).Msg("write failed")
	}
}
