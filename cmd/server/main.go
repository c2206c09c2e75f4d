package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-license/internal/api"
	"github.com/technosupport/ts-license/internal/audit"
	"github.com/technosupport/ts-license/internal/auth"
	"github.com/technosupport/ts-license/internal/config"
	"github.com/technosupport/ts-license/internal/data"
	"github.com/technosupport/ts-license/internal/events"
	"github.com/technosupport/ts-license/internal/license"
	"github.com/technosupport/ts-license/internal/metrics"
	"github.com/technosupport/ts-license/internal/middleware"
	"github.com/technosupport/ts-license/internal/platform/paths"
	"github.com/technosupport/ts-license/internal/ratelimit"
	"github.com/technosupport/ts-license/internal/tokens"
)

const serviceName = "ts-license"

func main() {
	configPath := flag.String("config", "", "path to YAML config (default <data root>/config/default.yaml)")
	flag.Parse()

	cfg, err := config.Load(paths.ResolveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format).With(slog.String("service", serviceName))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Platform paths
	dataRoot := paths.ResolveDataRoot()
	if err := paths.EnsureDirs(dataRoot); err != nil {
		return err
	}

	// 2. Error reporting
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry init failed", slog.Any("error", err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// 3. Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()

	// 4. Redis: token blacklist and shared rate limit windows. Optional.
	var (
		blacklist auth.TokenBlacklist
		limiter   ratelimit.Checker = ratelimit.NewLocalLimiter(10000)
		hashIP    func(string) string
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, using in-process rate limits until it recovers", slog.Any("error", err))
		}
		blacklist = auth.NewRedisBlacklist(rdb)

		shared := ratelimit.NewLimiter(rdb, cfg.Auth.JWTSigningKey)
		hashIP = shared.HashIP
		limiter = &ratelimit.Fallback{
			Primary:   shared,
			Secondary: limiter,
			OnFailure: func(err error) {
				logger.Warn("rate limiter degraded to local buckets", slog.Any("error", err))
			},
		}
	} else {
		logger.Warn("redis not configured: operator logout disabled, rate limits are per-process")
	}
	rateLimit := middleware.NewRateLimitMiddleware(limiter, hashIP, cfg.RateLimit, collector)

	// 5. Audit trail with disk spool
	// Relative spool dirs live under the data root.
	spoolDir := cfg.Audit.SpoolDir
	if spoolDir == "" {
		spoolDir = "audit_spool"
	}
	if !filepath.IsAbs(spoolDir) {
		if spoolDir, err = paths.SafeJoin(dataRoot, spoolDir); err != nil {
			return err
		}
	}
	spool, err := audit.NewSpool(spoolDir, cfg.Audit.SpoolMaxMB)
	if err != nil {
		return err
	}
	trail := audit.NewTrail(db, spool)
	trail.StartReplayer(ctx, cfg.Audit.ReplayInterval)

	// 6. License service
	opts := []license.Option{
		license.WithRecorder(collector),
		license.WithLogger(logger),
		license.WithProductCacheTTL(cfg.ProductCacheTTL),
	}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, serviceName)
		if err != nil {
			logger.Warn("nats connect failed, lifecycle events disabled", slog.Any("error", err))
		} else {
			defer nc.Drain()
			opts = append(opts, license.WithPublisher(events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, cfg.NATS.MaxRetries)))
		}
	}
	svc := license.NewService(data.NewStore(db), trail, opts...)

	// 7. Client authentication, hot-reloaded from the secret file when one is set.
	var (
		verifier middleware.Verifier
		apply    func(string)
	)
	switch cfg.Auth.Mode {
	case config.AuthModeHourly:
		v := tokens.NewHourlyVerifier(cfg.Auth.Secret, nil)
		verifier, apply = v, v.SetSecret
	default:
		k := tokens.NewStaticKey(cfg.Auth.Secret, cfg.Auth.StaticMemoSize)
		verifier, apply = k, k.SetKey
	}
	if cfg.Auth.SecretFile != "" {
		config.NewSecretWatcher(cfg.Auth.SecretFile, apply, logger).Start(ctx)
	}
	logger.Info("client authentication configured", slog.String("mode", cfg.Auth.Mode))

	// 8. HTTP
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	router := api.NewRouter(api.RouterConfig{
		Licenses:    svc,
		Audit:       trail,
		ClientAuth:  verifier,
		Operators:   tokens.NewManager(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer),
		Blacklist:   blacklist,
		RateLimit:   rateLimit,
		Metrics:     collector,
		DB:          db,
		Logger:      logger,
		Environment: cfg.Environment,
		CORSOrigins: cfg.Server.CORSOrigins,

		TrustedProxies: trustedProxies,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", cfg.Server.Addr), slog.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
