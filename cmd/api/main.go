package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/nebur242/deploy-hub/internal/app/migrate"
	"github.com/nebur242/deploy-hub/internal/event"
	httpx "github.com/nebur242/deploy-hub/internal/http"
	"github.com/nebur242/deploy-hub/internal/provider/github"
	"github.com/nebur242/deploy-hub/internal/repository/postgres"
	"github.com/nebur242/deploy-hub/internal/service/auth"
	"github.com/nebur242/deploy-hub/internal/service/deploy"
	"github.com/nebur242/deploy-hub/internal/service/lock"
	"github.com/nebur242/deploy-hub/internal/service/quota"
	"github.com/nebur242/deploy-hub/internal/service/tracker"
	"github.com/nebur242/deploy-hub/internal/ws"
	"github.com/nebur242/deploy-hub/pkg/config"
	"github.com/nebur242/deploy-hub/pkg/crypto"
	"github.com/nebur242/deploy-hub/pkg/logger"
)

const eventBusBuffer = 128

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Up(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub(cfg.WSBuffer)
	bus := event.NewBus(log, eventBusBuffer)

	quotaSvc := quota.New(repo, log)
	bus.Subscribe(quotaSvc.HandleEvent)

	locks := lock.NewManager(repo, log, cfg.LockSweepInterval)
	go locks.Run(ctx)

	adapter := github.NewAdapter(log, github.Options{
		DispatchMaxRetries:    cfg.DispatchMaxRetries,
		DispatchBaseDelay:     cfg.DispatchBaseDelay,
		DispatchMaxDelay:      cfg.DispatchMaxDelay,
		CorrelationMaxRetries: cfg.CorrelationMaxRetries,
		CorrelationBaseDelay:  cfg.CorrelationBaseDelay,
		CorrelationSkew:       cfg.CorrelationSkew,
		WebhookCallbackURL:    cfg.WebhookCallbackURL,
		WebhookSecret:         cfg.WebhookSecret,
	})

	cipher := crypto.NewCipher(cfg.TokenEncryptionKey)
	authSvc := auth.New(repo, log, cfg.JWTSecret, cfg.AccessTokenTTL)
	deploySvc := deploy.New(repo, repo, repo, quotaSvc, locks, adapter, adapter, cipher, bus, hub, log, cfg.LockTTL)

	trk := tracker.New(repo, deploySvc, log, cfg.TrackerInterval, cfg.MaxPendingAge, cfg.MaxRunningAge)
	go trk.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, deploySvc, hub, limiter, cfg.WebhookSecret, pool.Ping)
	defer router.Close()

	bus.Subscribe(func(_ context.Context, evt event.Event) {
		switch evt.Kind {
		case event.DeploymentSucceeded:
			router.RecordDeploymentOutcome("success")
		case event.DeploymentFailed:
			router.RecordDeploymentOutcome("failed")
		case event.DeploymentCanceled:
			router.RecordDeploymentOutcome("canceled")
		}
	})
	bus.Subscribe(func(_ context.Context, evt event.Event) {
		log.Info("deployment event",
			"kind", string(evt.Kind),
			"deployment_id", evt.Deployment.ID,
			"project_id", evt.Deployment.ProjectID,
			"environment", string(evt.Deployment.Environment),
			"status", string(evt.Deployment.Status),
		)
	})
	go bus.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
