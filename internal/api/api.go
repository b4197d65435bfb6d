// Package api exposes the engine over HTTP with JSON bodies.
//
// Routes:
//
//	POST /v1/generate  engine.Request → engine.Result
//	POST /v1/analyze   {"text": "..."} → {"lines": [...]}
//
// Errors are returned as {"error": "..."}. Input problems map to 400,
// generation failures to 502 and everything else to 500.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lybrarian/internal/engine"
	"github.com/MrWong99/lybrarian/internal/generate"
	"github.com/MrWong99/lybrarian/internal/health"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Engine is the subset of [*engine.Engine] the server uses.
type Engine interface {
	RetrieveAndGenerate(ctx context.Context, req engine.Request) (*engine.Result, error)
	Analyze(text string) []prosody.Line
}

var _ Engine = (*engine.Engine)(nil)

// Server holds the API handlers.
type Server struct {
	engine  Engine
	maxBody int64
}

// Option is a functional option for [New].
type Option func(*Server)

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New creates a Server backed by e.
func New(e Engine, opts ...Option) *Server {
	s := &Server{engine: e, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
}

// Routes builds the complete HTTP handler: the API, the health probes and the
// Prometheus scrape endpoint, all wrapped in [observe.Middleware].
func Routes(s *Server, h *health.Handler, m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	if h != nil {
		h.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(m)(mux)
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	res, err := s.engine.RetrieveAndGenerate(r.Context(), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	Lines []prosody.Line `json:"lines"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, http.StatusBadRequest, &engine.InputError{Field: "text", Reason: "must not be empty"})
		return
	}

	lines := s.engine.Analyze(req.Text)
	if lines == nil {
		lines = []prosody.Line{}
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Lines: lines})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("api: invalid request body: %w", err)
	}
	return nil
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, generate.ErrProvider),
		errors.Is(err, generate.ErrMalformedResponse),
		errors.Is(err, generate.ErrWrongCardinality):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := observe.ComponentLogger(r.Context(), "api")
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
