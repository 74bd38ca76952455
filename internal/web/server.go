// Package web provides the HTTP service that triggers and reports
// extraction runs.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/propertysales/internal/config"
	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/JonMunkholm/propertysales/internal/pipeline"
	mw "github.com/JonMunkholm/propertysales/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// RunFunc executes one pipeline run.
type RunFunc func(ctx context.Context) (*pipeline.Result, error)

// Server is the HTTP run service.
type Server struct {
	cfg      config.ServerConfig
	security config.SecurityConfig
	run      RunFunc
	gatherer prometheus.Gatherer
	limiter  *pipeline.RunLimiter
	runs     *runStore
	router   *chi.Mux
	server   *http.Server

	// runCtx parents every background run; cancelRuns aborts them.
	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer creates a Server. gatherer backs /metrics and may be nil.
func NewServer(cfg *config.Config, run RunFunc, gatherer prometheus.Gatherer) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg.Server,
		security:   cfg.Security,
		run:        run,
		gatherer:   gatherer,
		limiter:    pipeline.NewRunLimiter(cfg.Server.MaxConcurrentRuns, cfg.Server.RunWaitTime),
		runs:       newRunStore(cfg.Server.RunHistory),
		router:     chi.NewRouter(),
		runCtx:     ctx,
		cancelRuns: cancel,
	}
	if err := s.setupMiddleware(); err != nil {
		cancel()
		return nil, err
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     s.router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}
	return s, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() error {
	realIP, err := mw.TrustedRealIP(s.security.TrustedProxies)
	if err != nil {
		return err
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(realIP)
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	s.router.Use(securityHeaders)

	if s.cfg.RateLimitPerMinute > 0 {
		s.router.Use(newIPLimiter(s.cfg.RateLimitPerMinute).middleware)
	}
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.security))

		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
	})
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for running extractions to
// finish. Runs still going when ctx expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := s.limiter.WaitForDrain(ctx); err != nil {
		slog.Warn("cancelling unfinished runs", "active", s.limiter.Active())
		errs = append(errs, err)
	}
	s.cancelRuns()
	s.wg.Wait()
	return errors.Join(errs...)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ipLimiter is a token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute int) *ipLimiter {
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Forget visitors idle for ten minutes.
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > 10*time.Minute {
			delete(l.visitors, k)
		}
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		if !l.allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "60")
			respondError(w, r, errRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
