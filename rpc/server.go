// Package rpc exposes the instrument registry and fund ledger over an
// authenticated HTTP API.
package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recvault/native/fund"
	"recvault/native/registry"
	"recvault/observability"
)

// Server bundles the engines behind the HTTP surface.
type Server struct {
	logger   *slog.Logger
	registry *registry.Engine
	funds    *fund.Engine
	auth     *Authenticator
	limiter  *RateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuth enables bearer-token authentication on mutating routes.
func WithAuth(a *Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithRateLimiter installs per-client request budgets.
func WithRateLimiter(r *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = r
	}
}

// NewServer constructs the API server over the supplied engines.
func NewServer(reg *registry.Engine, funds *fund.Engine, opts ...Option) *Server {
	srv := &Server{
		logger:   slog.Default(),
		registry: reg,
		funds:    funds,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}
	return srv
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func observe(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			method := r.Method
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				method = r.Method + " " + rctx.RoutePattern()
			}
			observability.ModuleMetrics().Observe(module, method, recorder.status, time.Since(started))
		})
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	authMW := func(next http.Handler) http.Handler { return next }
	if s.auth != nil {
		authMW = s.auth.Middleware()
	}
	limitMW := func(key string) func(http.Handler) http.Handler {
		if s.limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return s.limiter.Middleware(key)
	}

	r.Route("/instruments", func(ir chi.Router) {
		ir.Use(observe(registry.ModuleName))
		ir.Use(limitMW("instruments"))
		ir.Get("/", s.handleListInstruments)
		ir.Get("/{id}", s.handleGetInstrument)
		ir.Get("/totals", s.handleRegistryTotals)
		ir.Group(func(mr chi.Router) {
			mr.Use(authMW)
			mr.Post("/", s.handleSubmitInstrument)
			mr.Post("/{id}/verification", s.handleRecordVerification)
			mr.Post("/{id}/payments", s.handleRecordPayment)
			mr.Post("/{id}/default", s.handleMarkDefaulted)
		})
	})

	r.Route("/funds", func(fr chi.Router) {
		fr.Use(observe(fund.ModuleName))
		fr.Use(limitMW("funds"))
		fr.Get("/{id}", s.handleGetFund)
		fr.Get("/{id}/price", s.handleSharePrice)
		fr.Get("/{id}/expected-yield", s.handleExpectedYield)
		fr.Get("/{id}/allocations", s.handleListAllocations)
		fr.Get("/{id}/positions/{principal}", s.handlePosition)
		fr.Group(func(mr chi.Router) {
			mr.Use(authMW)
			mr.Post("/", s.handleCreateFund)
			mr.Post("/{id}/deposit", s.handleDeposit)
			mr.Post("/{id}/withdraw", s.handleWithdraw)
			mr.Post("/{id}/redeem", s.handleRedeem)
			mr.Post("/{id}/allocations", s.handleAddAllocation)
			mr.Delete("/{id}/allocations/{instrument}", s.handleRemoveAllocation)
			mr.Post("/{id}/yield", s.handlePostYield)
			mr.Post("/{id}/loss", s.handlePostLoss)
		})
	})

	return r
}
