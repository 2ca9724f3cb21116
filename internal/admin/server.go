// Package admin serves the HTTP side-door of a running knet server: health,
// prometheus metrics, the connection table and server-initiated disconnects.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/knet/internal/observability"
	"github.com/danmuck/knet/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

var ErrInvalidSlot = errors.New("admin: invalid slot id")

// Source is the part of a transport server the admin surface reads from.
type Source interface {
	ID() string
	Addr() net.Addr
	Done() <-chan struct{}
	Connections() []transport.ConnectionInfo
	Disconnect(id transport.SlotID) error
}

type Admin struct {
	Addr    string
	Started time.Time

	source Source
	router *gin.Engine
}

func New(addr string, source Source, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(source.ID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Addr:    addr,
		Started: time.Now(),
		source:  source,
		router:  r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"server":  a.source.ID(),
			"version": Version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := true
		select {
		case <-a.source.Done():
			ready = false
		default:
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"server": a.source.ID(),
			"listen": a.source.Addr().String(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/connections", func(c *gin.Context) {
		conns := a.source.Connections()
		c.JSON(http.StatusOK, gin.H{
			"server":      a.source.ID(),
			"count":       len(conns),
			"connections": conns,
		})
	})

	a.router.POST("/connections/:id/disconnect", func(c *gin.Context) {
		id, err := parseSlot(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := a.source.Disconnect(id); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, transport.ErrUnknownConnection) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		log.Info().
			Str("component", "admin").
			Uint32("slot", uint32(id)).
			Msg("disconnect requested")
		c.JSON(http.StatusAccepted, gin.H{"status": "disconnecting", "id": id})
	})
}

// Serve runs the admin listener until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "admin").Str("addr", a.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func parseSlot(raw string) (transport.SlotID, error) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, ErrInvalidSlot
	}
	return transport.SlotID(n), nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
