// Package api serves the HTTP surface: the query/replay API, the
// fallback ingest endpoints and the metrics handler.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/server/registry"
)

const shutdownTimeout = 3 * time.Second

type Server struct {
	addr   string
	reg    *registry.Registry
	logger *log.Logger
	srv    *http.Server
}

func NewServer(addr string, reg *registry.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default().Named("api")
	}
	return &Server{addr: addr, reg: reg, logger: logger}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// ingest (fallback transport)
	mux.HandleFunc("POST /sessions", s.requireKey(s.handleCreateSession))
	mux.HandleFunc("POST /sessions/{id}/telemetry", s.requireKey(s.handleIngestTelemetry))

	// query API
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/sessions", s.requireKey(s.handleSessions))
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.requireKey(s.handleSession))
	mux.HandleFunc("GET /api/v1/sessions/{id}/telemetry", s.requireKey(s.handleQuerySamples))
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", s.requireKey(s.handleQueryEvents))

	mux.Handle("GET /metrics", promhttp.HandlerFor(
		s.reg.Metrics().Registry, promhttp.HandlerOpts{}))

	return cors.Default().Handler(mux)
}

// Run blocks serving requests until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listener started", log.String("addr", s.addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireKey enforces bearer token authentication.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !s.reg.Keys().Validate(token) {
			writeError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		next(w, r)
	}
}
