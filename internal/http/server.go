// Package http exposes the dispatcher over a single JSON endpoint plus
// liveness and readiness checks.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"campi/internal/dispatch"
	"campi/internal/log"
	"campi/internal/middleware/ratelimit"
	"campi/internal/middleware/security"
	"campi/internal/middleware/trace"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxFormBytes    = 1 << 20
	readyTimeout    = 5 * time.Second
)

// Dispatcher runs one API call. It must never return nil.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) any
}

// ReadinessChecker reports whether the backing store answers.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr              string
	RequestsPerMinute int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// TrustedProxies are extra CIDRs whose forwarding headers name the client.
	TrustedProxies []string
}

func DefaultConfig() Config {
	return Config{
		Addr:              ":8081",
		RequestsPerMinute: 120,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type Server struct {
	http.Server
	dispatcher  Dispatcher
	ready       ReadinessChecker
	logger      *log.Logger
	rateLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// It fails only on an invalid trusted proxy CIDR.
func NewServer(cfg Config, d Dispatcher, ready ReadinessChecker, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute})
	tracer := trace.NewMiddleware(logger, detector.ExtractClientIP)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	s := &Server{
		dispatcher:  d,
		ready:       ready,
		logger:      logger,
		rateLimiter: limiter,
	}

	api := limiter.Middleware(detector.ExtractClientIP, s.handleRateLimited)(http.HandlerFunc(s.handleAPI))

	mux := http.NewServeMux()
	mux.Handle("/{$}", api)
	mux.Handle("/api", api)
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/", handleNotFound)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           log.Middleware(logger)(headers.Middleware(tracer.Middleware(detector.Middleware(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 16,
	}
	return s, nil
}

// Shutdown stops the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	// Only GET and POST reach the dispatcher. HEAD would run saves and
	// deletes with the body thrown away.
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusOK, dispatch.ErrorResponse{Error: "Method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Invalid form", log.FieldError, err.Error())
		writeJSON(w, http.StatusOK, dispatch.ErrorResponse{Error: "invalid request"})
		return
	}

	req := dispatch.Request{
		Token:  sanitizeInput(r.Form.Get("token")),
		Action: sanitizeInput(r.Form.Get("action")),
		Data:   r.Form.Get("data"),
		RowID:  sanitizeInput(r.Form.Get("rowId")),
	}
	writeJSON(w, http.StatusOK, s.dispatcher.Dispatch(r.Context(), req))
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).
		WarnContext(r.Context(), "Rate limit exceeded", log.FieldPath, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusOK, dispatch.ErrorResponse{Error: "Rate limit exceeded"})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.ready.Ping(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, dispatch.ErrorResponse{Error: "Not found"})
}

// writeJSON encodes v without HTML escaping. Encoding failures still
// produce an error object.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		buf.Reset()
		msg, _ := json.Marshal(dispatch.ErrorResponse{Error: err.Error()})
		buf.Write(msg)
		buf.WriteByte('\n')
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}

// sanitizeInput drops control characters and surrounding whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s))
}

// IsClosed reports whether err is the expected result of Shutdown.
func IsClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
