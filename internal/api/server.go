// Package api is the router's HTTP surface: brain runs, catalogue listing,
// webhook ingress, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gemhq/gem/internal/brain"
	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/schema"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Config holds the HTTP server settings.
type Config struct {
	Addr string

	// WebhookSecrets maps a webhook source to its shared HMAC secret. A
	// source with no entry accepts unsigned deliveries.
	WebhookSecrets map[string]string
}

// Server serves the router API.
type Server struct {
	config    Config
	brain     *brain.Brain
	store     store.Store
	registry  *registry.Registry
	validator *schema.Validator
	logger    *observability.Logger
	metrics   *observability.Metrics

	httpServer *http.Server
}

// NewServer wires the router surface. metrics may be nil.
func NewServer(cfg Config, b *brain.Brain, st store.Store, reg *registry.Registry, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		config:    cfg,
		brain:     b,
		store:     st,
		registry:  reg,
		validator: schema.NewValidator(),
		logger:    logger.WithFields("component", "api"),
		metrics:   metrics,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /brain/run", s.handleBrainRun)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /brain/tools", s.handleTools)
	mux.HandleFunc("GET /brain/help", s.handleHelp)
	mux.HandleFunc("POST /webhooks/{source}", s.handleWebhook)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.instrument(mux)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting http server", "addr", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleBrainRun(w http.ResponseWriter, r *http.Request) {
	var req models.BrainRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	resp, err := s.brain.Run(r.Context(), &req)
	if err != nil {
		// Run errors mean the request itself was malformed; execution
		// problems travel inside the response.
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		database = "error"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "gem",
		"database": database,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	type toolSummary struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Idempotency string `json:"idempotency"`
		TimeoutMS   int    `json:"timeout_ms"`
	}
	tools := s.registry.All()
	out := make([]toolSummary, 0, len(tools))
	for _, tool := range tools {
		out = append(out, toolSummary{
			Name:        tool.Name,
			Description: tool.Description,
			Idempotency: string(tool.Idempotency.Mode),
			TimeoutMS:   tool.TimeoutMS,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"help": helpText,
	})
}

const helpText = `POST /brain/run with {"message": "...", "mode": "answer|plan|enqueue|enqueue_and_wait"}.
answer: plan only, nothing persisted. plan: plan recorded, awaiting approval.
enqueue: plan written to the queue for workers. enqueue_and_wait: enqueue, then
poll for receipts until limits.wait_timeout_ms expires.
Examples:
  new lead: Maria Santos, 0412 345 678, Thornbury
  book inspection BK-9 for lead <lead_id> at 2026-09-01T09:00:00Z
  create quote Q-77 for lead <lead_id> at $4200
  mark invoice <invoice_id> as paid
GET /brain/tools lists the catalogue.`

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(context.Background(), "encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// statusRecorder captures the response code for the request metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		// The matched pattern keeps the label cardinality fixed: raw paths
		// would mint a series per webhook source and per stray request.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	})
}
