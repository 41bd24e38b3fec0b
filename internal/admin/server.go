// Package admin implements the optional, localhost-biased HTTP surface
// for health, stats, and blocklist reload (SPEC_FULL §4.10). It never
// sits on the DNS query path.
package admin

import (
	"context"
	"embed"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/BrettMayson/mindns-k8s/internal/blocklist"
	"github.com/BrettMayson/mindns-k8s/internal/dnscache"
	"github.com/BrettMayson/mindns-k8s/internal/metastore"
	"github.com/BrettMayson/mindns-k8s/internal/pipeline"
)

//go:embed static/*
var staticFS embed.FS

// Deps bundles the components the admin surface reports on. Any field may
// be nil: the values it would supply are then reported as zero, no sync is
// recorded without a Store, and /blocklist/reload answers 503 without a
// Blocker.
type Deps struct {
	Blocker  *blocklist.Blocker
	Cache    *dnscache.Cache
	Pipeline *pipeline.Pipeline
	Store    *metastore.Store
	Sessions func() int // live UDP peer session count
}

// Server is the admin HTTP server.
type Server struct {
	bind       string
	port       int
	httpServer *http.Server
	engine     *gin.Engine
	startTime  time.Time
}

// New builds a Server bound to bind:port. Call ListenAndServe to start it.
func New(bind string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	h := &handler{deps: deps, startTime: time.Now(), logger: logger}
	engine.GET("/healthz", h.Healthz)
	engine.GET("/stats", h.Stats)
	engine.POST("/blocklist/reload", h.ReloadBlocklist)

	fs, err := static.EmbedFolder(staticFS, "static")
	if err != nil {
		logger.Warn("admin: failed to mount embedded status page", "error", err)
	} else {
		engine.Use(static.Serve("/", fs))
	}

	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	return &Server{
		bind: bind,
		port: port,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		engine:    engine,
		startTime: h.startTime,
	}
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Engine exposes the underlying Gin engine, for tests that want to drive
// requests in-process with httptest instead of a real listener.
func (s *Server) Engine() *gin.Engine { return s.engine }

// ListenAndServe runs until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
