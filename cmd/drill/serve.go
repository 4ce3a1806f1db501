package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/drill/internal/config"
	"github.com/pitabwire/drill/internal/notify"
	"github.com/pitabwire/drill/internal/observability"
	"github.com/pitabwire/drill/internal/progression"
	"github.com/pitabwire/drill/internal/reference"
	"github.com/pitabwire/drill/internal/statuslog"
	"github.com/pitabwire/drill/internal/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the discovery expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// Step 1: Initialize telemetry (logger, tracer, metrics).
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "drill", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 2: Load reference tables, validate, build registry.
	sets, err := reference.NewLoader().LoadAll(cfg.Reference.Directories)
	if err != nil {
		return fmt.Errorf("reference loading: %w", err)
	}
	if verrs := reference.NewValidator().Validate(sets); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("reference validation error", zap.String("error", ve.Error()))
		}
		return fmt.Errorf("reference validation failed with %d errors", len(verrs))
	}
	registry := reference.NewRegistry(sets, reference.WithDiscoveryDuration(cfg.Progression.DiscoveryDuration))
	metrics.SetReferenceFilesLoaded(float64(len(sets)))

	// Step 3: Open the status log.
	store, err := openStatusLog(ctx, cfg.StatusLog, logger)
	if err != nil {
		return fmt.Errorf("status log: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Step 4: Build the notifier.
	notifier, closeNotifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer closeNotifier()

	// Step 5: Build the engine and the HTTP router.
	engine := progression.NewEngine(store, registry,
		progression.WithLogger(logger),
		progression.WithMetrics(metrics),
		progression.WithNotifier(notifier),
	)

	keyfunc, err := buildKeyfunc(ctx, cfg.Identity, logger)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Exercises:    engine,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, keyfunc),
		Metrics:      metrics,
		Readiness: observability.ReadinessChecks{
			Reference: observability.HealthCheckFunc(func(context.Context) error { return registry.HealthCheck() }),
			StatusLog: store,
			Notifier:  notifier,
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 6: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runExpirySweeper(bgCtx, engine, cfg.Progression.ExpiryCheckInterval, logger)

	// Step 7: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("status_log", cfg.StatusLog.Driver),
		zap.String("notify", cfg.Notify.Driver),
		zap.Int("reference_files", len(sets)),
		zap.String("reference_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// openStatusLog opens the configured status log backend.
func openStatusLog(ctx context.Context, cfg config.StatusLogConfig, logger *zap.Logger) (statuslog.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory status log; rows are lost on restart")
		return statuslog.NewMemoryStore(), nil
	case "sqlite":
		return statuslog.OpenSQLite(cfg.Path)
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("%s environment variable not set", cfg.DSNEnv)
		}
		if err := statuslog.MigratePostgres(dsn); err != nil {
			return nil, err
		}
		return statuslog.OpenPostgres(ctx, dsn, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unsupported status log driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the live-update publisher. The returned closer is
// never nil.
func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) (notify.Notifier, func(), error) {
	switch cfg.Driver {
	case "none", "":
		return notify.Nop{}, func() {}, nil
	case "memory":
		logger.Info("using in-memory notifier")
		return notify.NewMemory(), func() {}, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("%s environment variable not set", cfg.AddrEnv)
		}
		n := notify.NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB}), cfg.TTL)
		return notify.NewBreaker(n, cfg.BreakerFailures, 1, cfg.BreakerCooldown), func() { _ = n.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notify driver: %q", cfg.Driver)
	}
}

// buildKeyfunc selects JWKS or shared-secret token verification.
func buildKeyfunc(ctx context.Context, cfg config.IdentityConfig, logger *zap.Logger) (jwt.Keyfunc, error) {
	if cfg.JWKSURL != "" {
		return transport.NewJWKSKeyfunc(ctx, cfg.JWKSURL, cfg.JWKSCacheTTL, logger)
	}
	secret := os.Getenv(cfg.HMACSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable not set", cfg.HMACSecretEnv)
	}
	return transport.HMACKeyfunc([]byte(secret)), nil
}

// runExpirySweeper periodically advances discovery teams whose time ran out.
func runExpirySweeper(ctx context.Context, engine *progression.Engine, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.ProcessDiscoveryExpiry(ctx); err != nil {
				logger.Error("discovery expiry sweep failed", zap.Error(err))
			}
		}
	}
}
