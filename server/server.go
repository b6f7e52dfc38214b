// Package server exposes the batch pipeline over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/pipeline"
	"github.com/maxpert/cdcrelay/record"
	"github.com/maxpert/cdcrelay/telemetry"
)

// BatchProcessor runs one batch of stream records
type BatchProcessor interface {
	Process(ctx context.Context, envs []record.Envelope) (pipeline.Outcome, error)
}

// BatchRequest is the body of POST /v1/batches
type BatchRequest struct {
	Records []record.Envelope `json:"records"`
}

type handlers struct {
	processor    BatchProcessor
	maxBodyBytes int64
}

// NewRouter builds the HTTP routes. /metrics is served when metrics is true
// and telemetry has been initialized.
func NewRouter(processor BatchProcessor, maxBodyBytes int64, metrics bool) http.Handler {
	h := &handlers{processor: processor, maxBodyBytes: maxBodyBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Post("/v1/batches", h.handleBatch)
	if metricsHandler := telemetry.GetMetricsHandler(); metrics && metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid batch request: %v", err))
		return
	}

	outcome, err := h.processor.Process(r.Context(), req.Records)
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("records", len(req.Records)).
			Msg("Batch invocation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Server is the relay's HTTP listener
type Server struct {
	httpServer *http.Server
}

// New creates a server bound to the [http] section address
func New(conf cfg.HTTPConfiguration, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(conf.BindAddress, strconv.Itoa(conf.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves in the background. Listen errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
