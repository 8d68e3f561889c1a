// Package server exposes the vault over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"autocompounder/crypto"
	"autocompounder/native/vault"
	"autocompounder/services/vaultd/keeper"
	"autocompounder/services/vaultd/storage"
)

// Vault is the controller surface served over HTTP.
type Vault interface {
	Deposit(ctx context.Context, user crypto.Address, amount *big.Int) (*big.Int, *big.Int, error)
	CompoundCycle(ctx context.Context) (vault.CycleResult, error)
	Withdraw(ctx context.Context, user crypto.Address) (*big.Int, error)
	Info(user crypto.Address) vault.PositionInfo
	Aggregate() vault.Aggregate
	Valuation(ctx context.Context) (vault.Valuation, error)
	Config() vault.Config
}

// Journal lists persisted events and cycles.
type Journal interface {
	Events(ctx context.Context, eventType string, limit int) ([]storage.Entry, error)
	Cycles(ctx context.Context, limit int) ([]storage.Cycle, error)
	ExportCycles(ctx context.Context, w io.Writer) (int, error)
	Verify(ctx context.Context) (storage.Verification, error)
}

// Faucet credits simulated funds to an address.
type Faucet interface {
	Fund(user crypto.Address, amount *big.Int)
}

// KeeperStatus reports the last background compounding tick.
type KeeperStatus interface {
	Last() (keeper.Status, bool)
}

// Config defines HTTP server parameters and optional collaborators.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimit
	Journal       Journal
	// Stream serves /v1/stream when set.
	Stream       *Hub
	Faucet       Faucet
	FaucetAmount *big.Int
	Keeper       KeeperStatus
	// Metrics serves /metrics when set.
	Metrics bool
}

// Server hosts the vault API.
type Server struct {
	cfg     Config
	vault   Vault
	auth    *Authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	router  http.Handler
}

// New constructs the HTTP server. Mutating endpoints require a credential
// when one is configured.
func New(cfg Config, v Vault, logger *slog.Logger) (*Server, error) {
	if v == nil {
		return nil, fmt.Errorf("vault required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	srv := &Server{cfg: cfg, vault: v, logger: logger, limiter: limiter}
	if cfg.Auth.Enabled() {
		auth, err := NewAuthenticator(cfg.Auth)
		if err != nil {
			return nil, err
		}
		srv.auth = auth
	} else {
		logger.Warn("vaultd: no credentials configured, mutating endpoints are open")
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Route("/v1", func(api chi.Router) {
		api.Get("/vault", s.handleVault)
		api.Get("/positions/{address}", s.handlePosition)
		api.Get("/events", s.handleEvents)
		api.Get("/cycles", s.handleCycles)
		api.Get("/cycles/export", s.handleExportCycles)
		api.Get("/journal/verify", s.handleVerifyJournal)
		api.Get("/stream", s.handleStream)
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Post("/deposits", s.handleDeposit)
			protected.Post("/withdrawals", s.handleWithdraw)
			protected.With(s.limiter.Middleware).Post("/compound", s.handleCompound)
			if s.cfg.Faucet != nil {
				protected.Post("/faucet", s.handleFaucet)
			}
		})
	})
	return otelhttp.NewHandler(r, "vaultd.http")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("vaultd: http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
