package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"autocompounder/core/events"
	"autocompounder/native/vault"
	"autocompounder/observability"
	"autocompounder/observability/logging"
	telemetry "autocompounder/observability/otel"
	"autocompounder/services/vaultd/config"
	"autocompounder/services/vaultd/keeper"
	"autocompounder/services/vaultd/server"
	"autocompounder/services/vaultd/storage"
)

func main() {
	var (
		cfgPath  string
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "", "path to vaultd configuration file (defaults to a local simulated vault)")
	flag.StringVar(&logLevel, "log-level", os.Getenv("VAULTD_LOG_LEVEL"), "log level: debug, info, warn or error")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	logger := logging.Setup("vaultd", env, logLevel)
	if rotating := logging.NewRotatingWriter(logging.RotationConfig{Path: os.Getenv("VAULTD_LOG_FILE"), Compress: true}); rotating != nil {
		defer rotating.Close()
		logger = logging.SetupWriter(io.MultiWriter(os.Stdout, rotating), "vaultd", env, logLevel)
	}

	if err := run(cfgPath, env, logger); err != nil {
		logger.Error("vaultd: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath, env string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("vaultd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	cfg := config.Default()
	if strings.TrimSpace(cfgPath) != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	logger.Info("vaultd: configuration loaded",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddress,
		"stable", cfg.Vault.StableAsset,
		"reward", cfg.Vault.RewardAsset,
		logging.MaskField("bearer_token", cfg.Auth.Token()),
		"jwt_auth", cfg.Auth.JWTSecret() != "",
	)

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("resolve journal DSN: %w", err)
	}
	journal, err := storage.Open(dsn, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rt *runtime
	switch cfg.Mode {
	case config.ModeEVM:
		rt, err = buildEVM(ctx, cfg, logger)
	default:
		rt, err = buildSim(cfg, logger)
	}
	if err != nil {
		return err
	}
	defer rt.close()

	hub := server.NewHub(0, logger)
	rt.deps.Emitter = events.MultiEmitter{journal, observability.Events(), hub}
	rt.deps.Logger = logger
	rt.deps.EventLogSize = cfg.Vault.EventLogSize
	ctrl, err := vault.NewController(rt.vaultCfg, rt.deps)
	if err != nil {
		return fmt.Errorf("build vault: %w", err)
	}
	if err := ctrl.Load(ctx); err != nil {
		return fmt.Errorf("restore vault state: %w", err)
	}

	srvCfg := server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			BearerToken: cfg.Auth.Token(),
			JWTSecret:   cfg.Auth.JWTSecret(),
			Issuer:      cfg.Auth.JWTIssuer,
			Audience:    cfg.Auth.JWTAudience,
		},
		RateLimit: server.RateLimit{
			RatePerSecond:  cfg.RateLimit.RatePerSecond,
			Burst:          cfg.RateLimit.Burst,
			TrustedProxies: cfg.RateLimit.TrustedProxies,
		},
		Journal: journal,
		Stream:  hub,
		Metrics: true,
	}
	if rt.faucet != nil {
		srvCfg.Faucet = rt.faucet
		srvCfg.FaucetAmount = cfg.Sim.Faucet.Value()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Keeper.Enabled {
		k, err := keeper.New(ctrl, cfg.Keeper.Interval.Duration,
			keeper.WithLogger(logger), keeper.WithTimeout(cfg.Keeper.Timeout.Duration))
		if err != nil {
			return fmt.Errorf("build keeper: %w", err)
		}
		srvCfg.Keeper = k
		group.Go(func() error { return ignoreStopped(k.Run(groupCtx)) })
	}
	for _, task := range rt.background {
		task := task
		group.Go(func() error { return ignoreStopped(task(groupCtx)) })
	}

	srv, err := server.New(srvCfg, ctrl, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	group.Go(func() error { return srv.Run(groupCtx) })

	err = group.Wait()
	logger.Info("vaultd: stopped")
	return err
}

func ignoreStopped(err error) error {
	if err == nil || keeper.ErrStopped(err) {
		return nil
	}
	return err
}
