// Package api exposes sync, backfill and the portfolio views over a JSON
// HTTP API. Users are identified by the id in the path.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/matrixise/ethfolio/internal/ledger"
	"github.com/matrixise/ethfolio/internal/metrics"
	"github.com/matrixise/ethfolio/internal/portfolio"
	"github.com/matrixise/ethfolio/internal/ratelimit"
	"github.com/matrixise/ethfolio/internal/storage"
)

const (
	syncLimit     = 5
	backfillLimit = 2
	limitWindow   = time.Minute

	// snapshotRetention is how long price buckets are kept
	snapshotRetention = 365 * 24 * time.Hour
)

// Engine runs wallet sync and price backfill
type Engine interface {
	SyncWallet(ctx context.Context, userID uuid.UUID) (ledger.SyncResult, error)
	BackfillMissingPrices(ctx context.Context, userID uuid.UUID) (ledger.BackfillResult, error)
}

// Portfolio serves the read views and manual overrides
type Portfolio interface {
	Holdings(ctx context.Context, userID uuid.UUID) ([]portfolio.Holding, error)
	Transfers(ctx context.Context, userID uuid.UUID, rawCursor, rawLimit string) (portfolio.TransferPage, error)
	Override(ctx context.Context, userID uuid.UUID, transferID int64, rawUSD, rawRUB string) (storage.TransferPrices, error)
}

// SnapshotPruner deletes price buckets older than a unix cutoff
type SnapshotPruner interface {
	PruneSnapshots(ctx context.Context, cutoff int64) (int64, error)
}

// Config wires the optional collaborators of the server
type Config struct {
	// BaseContext parents detached background runs; cancelling it stops them
	BaseContext context.Context
	Limiter     ratelimit.Limiter
	Metrics     *metrics.Registry
	Health      http.Handler
}

// Server routes API requests to the engine and portfolio service
type Server struct {
	router    chi.Router
	engine    Engine
	portfolio Portfolio
	pruner    SnapshotPruner
	limiter   ratelimit.Limiter
	registry  *metrics.Registry
	baseCtx   context.Context
	now       func() time.Time

	background sync.WaitGroup
}

// NewServer builds the router
func NewServer(engine Engine, pf Portfolio, pruner SnapshotPruner, cfg Config) *Server {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewMemoryLimiter()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}

	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		portfolio: pf,
		pruner:    pruner,
		limiter:   cfg.Limiter,
		registry:  cfg.Metrics,
		baseCtx:   cfg.BaseContext,
		now:       time.Now,
	}
	s.routes(cfg.Health)
	return s
}

func (s *Server) routes(health http.Handler) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if health != nil {
		r.Method(http.MethodGet, "/health", health)
	}
	r.Method(http.MethodGet, "/metrics", s.registry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)
		r.Post("/maintenance/prune-prices", s.handlePrunePrices)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.With(s.limit("sync", syncLimit)).Post("/sync", s.handleSync)
			r.With(s.limit("backfill", backfillLimit)).Post("/backfill", s.handleBackfill)
			r.Get("/transfers", s.handleTransfers)
			r.Get("/holdings", s.handleHoldings)
			r.Post("/transfers/{transferID}/override", s.handleOverride)
		})
	})
}

// limit rate limits a route per user
func (s *Server) limit(route string, n int) func(http.Handler) http.Handler {
	return ratelimit.Middleware(s.limiter, n, limitWindow, func(r *http.Request) string {
		return route + ":" + chi.URLParam(r, "userID")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until detached background runs have finished
func (s *Server) Wait() {
	s.background.Wait()
}

// requestLogger logs one line per request with slog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
