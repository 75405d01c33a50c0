package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the ambient /healthz + /metrics HTTP surface (SPEC_FULL.md §2's
// "Health/metrics surface" expansion). It has no analogue in spec.md
// itself, which names only the file-heartbeat contract; this is the
// orchestration-friendly surface teacher's own `pkg/api` exposes for its
// dashboard deployment, narrowed to the two endpoints the Non-goals leave
// in scope.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	checker    *Checker
	log        *slog.Logger
}

// NewServer builds a Server bound to addr, serving GET /healthz (the
// Checker's aggregated Report) and GET /metrics (the default Prometheus
// registry via promhttp, the same registrar promauto.New* collectors in
// this package publish into).
func NewServer(addr string, checker *Checker) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		checker: checker,
		log:     slog.With("component", "health.server"),
	}

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(c *gin.Context) {
	report := s.checker.Report(c.Request.Context())

	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Start listens on the server's configured address and serves until
// Stop is called, logging (not returning) any error other than the
// expected shutdown error — mirrored on haasonsaas-nexus's
// startHTTPServer/stopHTTPServer pairing.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server error", "error", err)
		}
	}()

	s.log.Info("health server started", "addr", s.httpServer.Addr)
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("health server shutdown error", "error", err)
	}
}
