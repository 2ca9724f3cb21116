package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/knet/internal/config"
	"github.com/danmuck/knet/internal/logging"
	"github.com/danmuck/knet/internal/protocol/codec"
	"github.com/danmuck/knet/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "path to a client config.toml")
	addr := flag.String("addr", "", "server address (overrides config)")
	name := flag.String("name", "", "sender name (overrides config)")
	flag.Parse()

	cfg := config.DefaultClientFile()
	if p := strings.TrimSpace(*path); p != "" {
		loaded, err := config.LoadClientFile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "knetctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Address = v
	}
	if v := strings.TrimSpace(*name); v != "" {
		cfg.Name = v
	}
	logging.ConfigureWith(logging.ProfileRuntime, cfg.Log.Layer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "knetctl: %v\n", err)
		os.Exit(1)
	}
}

// run sends each stdin line as a chat envelope and prints every chat envelope
// received. It returns when stdin ends, the server goes away, or ctx is done.
func run(ctx context.Context, cfg config.ClientFile, stdin io.Reader, stdout io.Writer) error {
	tc, err := cfg.Transport()
	if err != nil {
		return err
	}
	c := codec.EnvelopeCodec{Magic: codec.DefaultMagic, Version: codec.DefaultVersion}
	cl, in, err := transport.Dial[codec.Envelope](ctx, tc, c)
	if err != nil {
		return err
	}
	defer cl.Close()
	log.Info().
		Str("component", "knetctl").
		Str("remote", cl.RemoteAddr().String()).
		Str("name", cfg.Name).
		Msg("connected")

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range in {
			m, err := decodeChat(e)
			if err != nil {
				log.Warn().Str("component", "knetctl").Uint64("message_id", e.Header.MessageID).Err(err).Msg("skipping message")
				continue
			}
			fmt.Fprintf(stdout, "[%s] %s\n", m.Sender, m.Text)
		}
	}()

	// stops the stdin scanner on every return path
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go scanLines(ctx, stdin, lines, scanErr)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-printed:
			log.Info().Str("component", "knetctl").Msg("server closed the connection")
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = cl.Close()
				<-cl.Done()
				<-printed
				return <-scanErr
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			seq++
			if err := cl.Send(encodeChat(seq, chatMessage{Sender: cfg.Name, Text: line})); err != nil {
				return err
			}
		}
	}
}

// scanLines feeds lines from r until it ends or ctx is done. It sends exactly
// one value on errc, then closes lines.
func scanLines(ctx context.Context, r io.Reader, lines chan<- string, errc chan<- error) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- scanner.Err()
}
