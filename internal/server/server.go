// Package server is the local dashboard API: read-only JSON queries over the
// accounting store plus export downloads.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/brian-mwirigi/codesession/internal/export"
	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
)

// Store is the query surface the API reads from.
type Store interface {
	ListSessions(ctx context.Context, f store.ListFilter) ([]session.Session, int64, error)
	Detail(ctx context.Context, id int64) (*session.Detail, error)
	GetStats(ctx context.Context) (*store.Stats, error)
	DailyCost(ctx context.Context, days int) ([]store.DailyPoint, error)
	ModelBreakdown(ctx context.Context) ([]store.ModelUsage, error)
	ProviderBreakdown(ctx context.Context) ([]store.ProviderUsage, error)
	FileHotspots(ctx context.Context, limit int) ([]store.Hotspot, error)
	ActivityHeatmap(ctx context.Context) ([]store.HeatmapCell, error)
	Projects(ctx context.Context) ([]store.ProjectRollup, error)
	TokenRatios(ctx context.Context) ([]store.TokenRatio, error)
	ExportSessions(ctx context.Context, w io.Writer, f export.Format, limit int) error
}

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	shutdownGrace = 5 * time.Second
	maxPageSize   = 500
)

// Options configures a Server.
type Options struct {
	Token     string  // bearer token; empty disables auth
	RateLimit float64 // requests per second; 0 disables limiting
	Logger    *slog.Logger
}

// Server is the dashboard API handler.
type Server struct {
	store   Store
	token   string
	limiter *rate.Limiter
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// New creates a Server reading from st.
func New(st Store, opts Options) *Server {
	s := &Server{
		store:  st,
		token:  opts.Token,
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit * 2)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/stats/daily", s.handleDaily)
	s.mux.HandleFunc("GET /api/stats/models", s.handleModels)
	s.mux.HandleFunc("GET /api/stats/providers", s.handleProviders)
	s.mux.HandleFunc("GET /api/stats/hotspots", s.handleHotspots)
	s.mux.HandleFunc("GET /api/stats/heatmap", s.handleHeatmap)
	s.mux.HandleFunc("GET /api/stats/projects", s.handleProjects)
	s.mux.HandleFunc("GET /api/stats/ratios", s.handleRatios)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, "not_found", "no such endpoint")
	})

	s.handler = s.withRequestID(s.withRateLimit(s.withAuth(s.mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("dashboard API listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeErr(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth requires the bearer token on everything except the health check.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="codesession"`)
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- responses ---

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// statusFor maps a structured error code to an HTTP status.
func statusFor(code session.Code) int {
	switch code {
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeAlreadyActive, session.CodeBudgetExceeded:
		return http.StatusConflict
	case session.CodeInvalidInput, session.CodeMissingTokens, session.CodeUnknownModel:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err. Structured errors keep their code; anything else is
// logged and reported as an internal error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := session.AsError(err); ok {
		writeErr(w, statusFor(e.Code), string(e.Code), e.Message)
		return
	}
	s.logger.Error("request failed",
		"request_id", w.Header().Get(RequestIDHeader),
		"path", r.URL.Path,
		"error", err,
	)
	writeErr(w, http.StatusInternalServerError, string(session.CodeInternal), "internal server error")
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	q := r.URL.Query().Get(name)
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0, session.InvalidInput("%s must be a non-negative integer", name)
	}
	return n, nil
}
