// Package server exposes queue and capacity state over HTTP: a health probe,
// a JSON stats snapshot and the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/capacity"
	"github.com/vnykmshr/capflow/pkg/clock"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/scheduling/queue"
)

// StatsSource is the part of a queue the server reads.
type StatsSource interface {
	Stats() queue.Stats
}

// Config holds server configuration.
type Config struct {
	Addr      string // Listen address (default: ":8080")
	Version   string
	Queue     StatsSource
	Resources []capacity.Resource
	Gatherer  prometheus.Gatherer // Source for /metrics (default: prometheus.DefaultGatherer)
	Clock     clock.Clock
	Logger    *log.Logger
}

// Server serves /health, /stats and /metrics.
type Server struct {
	addr      string
	version   string
	queue     StatsSource
	resources []capacity.Resource
	clock     clock.Clock
	logger    *log.Logger
	started   time.Time
	router    *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. The queue is required; resources are optional.
func New(cfg Config) (*Server, error) {
	if cfg.Queue == nil {
		return nil, cferrors.NewValidationError("server", "Queue", nil, "cannot be nil")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		addr:      addr,
		version:   cfg.Version,
		queue:     cfg.Queue,
		resources: cfg.Resources,
		clock:     clock.OrSystem(cfg.Clock),
		logger:    logging.Component(cfg.Logger, "http"),
	}
	s.started = s.clock.Now()
	s.router = s.routes(gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) *gin.Engine {
	gin.DefaultWriter = logging.NewLevelWriter(s.logger, "info", "gin")
	gin.DefaultErrorWriter = logging.NewLevelWriter(s.logger, "error", "gin")

	router := gin.New()
	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return router
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Start has succeeded, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started on %s", s.addr)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", s.addr, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srv := s.httpServer
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "err", err)
		}
	}()

	s.logger.Info("status server listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down status server")
	return srv.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

func (s *Server) handleHealth(c *gin.Context) {
	now := s.clock.Now()
	status, code := "healthy", http.StatusOK
	if s.queue.Stats().Closed {
		status, code = "draining", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: now,
		Version:   s.version,
		Uptime:    now.Sub(s.started).String(),
	})
}

// ResourceStats describes one capacity window.
type ResourceStats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Used      int    `json:"used"`
	Available int    `json:"available"`
	Error     string `json:"error,omitempty"`
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	Queue     queue.Stats     `json:"queue"`
	Resources []ResourceStats `json:"resources"`
}

func (s *Server) handleStats(c *gin.Context) {
	resp := StatsResponse{
		Queue:     s.queue.Stats(),
		Resources: make([]ResourceStats, 0, len(s.resources)),
	}

	for _, res := range s.resources {
		rs := ResourceStats{Name: res.Name(), Capacity: res.Capacity()}
		used, err := res.Used(c.Request.Context())
		if err != nil {
			rs.Error = err.Error()
		} else {
			rs.Used = used
			rs.Available = rs.Capacity - used
			if rs.Available < 0 {
				rs.Available = 0
			}
		}
		resp.Resources = append(resp.Resources, rs)
	}

	c.JSON(http.StatusOK, resp)
}
