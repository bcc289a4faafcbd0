// Package rest exposes the ingest pipeline over HTTP. One route does the
// work: POST /webhooks/{provider}. The response status is the sender-facing
// retry contract, so handlers never improvise status codes; they relay what
// the pipeline decided.
package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/ingest"
)

type Server struct {
	pipeline       *ingest.Pipeline
	logger         core.Logger
	metrics        core.MetricsRecorder
	maxBodyBytes   int64
	metricsHandler http.Handler
}

type ServerOption func(*Server)

func WithServerLogger(logger core.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServerMetrics(recorder core.MetricsRecorder) ServerOption {
	return func(s *Server) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func WithMaxBodyBytes(limit int64) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// WithMetricsHandler mounts a scrape endpoint at /metrics, typically
// promhttp.Handler().
func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = handler
	}
}

func NewServer(pipeline *ingest.Pipeline, opts ...ServerOption) (*Server, error) {
	if pipeline == nil {
		return nil, core.InternalError("rest: pipeline is required", nil)
	}
	_, logger := glog.Resolve("billing-webhooks", nil, nil)
	server := &Server{
		pipeline:     pipeline,
		logger:       glog.Ensure(logger),
		metrics:      core.NopMetricsRecorder{},
		maxBodyBytes: core.DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server, nil
}

func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Post("/webhooks/{provider}", s.handleWebhook)
	if s.metricsHandler != nil {
		router.Handle("/metrics", s.metricsHandler)
	}
	return router
}

type webhookResponse struct {
	ProviderID string `json:"provider_id"`
	EventID    string `json:"event_id,omitempty"`
	Outcome    string `json:"outcome"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	providerID := chi.URLParam(r, "provider")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn("rest: request body over limit", "provider_id", providerID, "limit", tooLarge.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return
	}

	notification := core.Notification{
		ProviderID: providerID,
		Headers:    flattenHeaders(r.Header),
		Body:       body,
	}

	// The pipeline already classified and audited any failure; the receipt
	// status is the whole answer.
	receipt, _ := s.pipeline.Process(r.Context(), notification)

	s.metrics.ObserveHistogram(r.Context(), "webhooks.http.duration_seconds", time.Since(start).Seconds(), map[string]string{
		"provider_id": receipt.ProviderID,
	})
	writeJSON(w, receipt.StatusCode, webhookResponse{
		ProviderID: receipt.ProviderID,
		EventID:    receipt.EventID,
		Outcome:    string(receipt.Outcome),
	})
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return flat
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
