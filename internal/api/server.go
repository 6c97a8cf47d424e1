package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"llm-compiler-fuzz/internal/monitor"
)

// HealthChecker reports backing store connectivity. *storage.DB implements it.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server exposes campaign status and metrics over HTTP while a campaign runs.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	status     StatusSource
	db         HealthChecker
	startTime  time.Time
}

// NewServer creates the status server. db may be nil.
func NewServer(addr string, status StatusSource, workDir string, db HealthChecker, metrics *monitor.Metrics) *Server {
	s := &Server{
		handlers:  NewHandlers(status, workDir),
		status:    status,
		db:        db,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /crashes", s.handlers.HandleCrashes)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	handler := chain(mux,
		withRequestID,
		withRecovery,
		withAccessLog,
		withNoStore,
		withMetrics(metrics),
	)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting status server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db == nil || s.db.Healthy(r.Context())

	resp := HealthResponse{
		Status:   "ok",
		State:    s.status.Status().State,
		Database: dbOK,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}
	if !dbOK {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
