package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hedgeline/observability"
	"hedgeline/services/perpd/app"
	"hedgeline/services/perpd/oracle"
	"hedgeline/services/perpd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
}

// KeeperHistory persists and exposes keeper runs.
type KeeperHistory interface {
	RecordKeeperRun(ctx context.Context, run *storage.KeeperRun) error
	KeeperRuns(ctx context.Context, limit int) ([]storage.KeeperRun, error)
	LiquidationsFor(ctx context.Context, perpetualID uint64) ([]storage.LiquidationRecord, error)
}

// OracleStatus exposes the last snapshot published by the oracle loop.
type OracleStatus interface {
	Last() (oracle.Snapshot, bool)
}

// Dependencies are the components the HTTP API serves. Stack and Auth are
// required.
type Dependencies struct {
	Stack   *app.Stack
	Auth    *Authenticator
	Limiter *RateLimiter
	Hub     *Hub
	History KeeperHistory
	Oracle  OracleStatus
	Logger  *slog.Logger
}

// Server hosts the public perpd API.
type Server struct {
	cfg     Config
	stack   *app.Stack
	auth    *Authenticator
	limiter *RateLimiter
	hub     *Hub
	history KeeperHistory
	oracle  OracleStatus
	logger  *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP server.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Stack == nil || deps.Stack.Engine == nil {
		return nil, fmt.Errorf("ledger stack required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		cfg:     cfg,
		stack:   deps.Stack,
		auth:    deps.Auth,
		limiter: deps.Limiter,
		hub:     hub,
		history: deps.History,
		oracle:  deps.Oracle,
		logger:  logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Get("/perpetuals", s.handleListPerpetuals)
		api.Get("/perpetuals/{id}", s.handleGetPerpetual)
		api.Get("/perpetuals/{id}/cashout", s.handleQuoteCashOut)
		api.Get("/perpetuals/{id}/earned", s.handleEarned)
		api.Get("/perpetuals/{id}/liquidations", s.handleLiquidations)
		api.Get("/owners/{address}", s.handleOwner)
		api.Get("/pool", s.handlePool)
		api.Get("/oracle", s.handleOracle)
		api.Get("/fees", s.handleFees)
		api.Get("/governance", s.handleGovernance)
		api.Get("/keeper/runs", s.handleKeeperRuns)
		api.Get("/exports/positions", s.handleExportPositions)
		api.Handle("/events", s.hub)

		api.Group(func(p chi.Router) {
			p.Use(s.auth.Middleware)

			p.Post("/perpetuals", s.handleCreate)
			p.Post("/perpetuals/{id}/add", s.handleAdd)
			p.Post("/perpetuals/{id}/remove", s.handleRemove)
			p.Post("/perpetuals/{id}/cashout", s.handleCashOut)
			p.Post("/perpetuals/{id}/approve", s.handleApprove)
			p.Post("/perpetuals/{id}/transfer", s.handleTransfer)
			p.Post("/perpetuals/{id}/reward", s.handleReward)
			p.Post("/operators", s.handleOperator)

			p.Post("/keeper/liquidate", s.handleLiquidate)
			p.Post("/keeper/force-cashout", s.handleForceCashOut)

			p.Post("/fees/update-ha", s.handleUpdateHA)
			p.Post("/fees/update-users-slp", s.handleUpdateUsersSLP)
			p.Post("/fees/{kind}", s.handleSetFees)

			p.Post("/governance/bounds", s.handleSetBounds)
			p.Post("/governance/hedge", s.handleSetHedge)
			p.Post("/governance/keeper-fees", s.handleSetKeeperFees)
			p.Post("/governance/lock-time", s.handleSetLockTime)
			p.Post("/governance/ha-fees", s.handleSetHAFees)
			p.Post("/governance/pause", s.handlePause)
			p.Post("/governance/unpause", s.handleUnpause)
			p.Post("/governance/governors", s.handleGovernor)
			p.Post("/governance/guardian", s.handleGuardian)
			p.Post("/governance/rewards", s.handleNotifyReward)
		})
	})
	return otelhttp.NewHandler(r, "perpd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe("perpd", r.Method+" "+route, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"open":        s.stack.Engine.Globals().Open,
		"subscribers": s.hub.Subscribers(),
	})
}
