package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teamforge/internal/app/migrate"
	"github.com/splax/teamforge/internal/events"
	httpx "github.com/splax/teamforge/internal/http"
	"github.com/splax/teamforge/internal/metrics"
	"github.com/splax/teamforge/internal/notify"
	"github.com/splax/teamforge/internal/platform/otel"
	"github.com/splax/teamforge/internal/repository"
	"github.com/splax/teamforge/internal/repository/memory"
	"github.com/splax/teamforge/internal/repository/postgres"
	"github.com/splax/teamforge/internal/service/assignment"
	"github.com/splax/teamforge/internal/service/auth"
	"github.com/splax/teamforge/internal/service/consensus"
	"github.com/splax/teamforge/internal/service/invitation"
	"github.com/splax/teamforge/internal/service/team"
	"github.com/splax/teamforge/pkg/config"
	"github.com/splax/teamforge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $TEAMFORGE_CONFIG)")
	flag.Parse()

	cfg, err := config.LoadAPIConfig(*configPath)
	if err != nil {
		logger.New("api", slog.LevelInfo).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "teamforge-api", cfg.OTelEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	var (
		store    repository.Store
		dbHealth func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using the in-memory store; data is lost on restart")
		store = memory.New()
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Up(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		store = postgres.New(pool)
		dbHealth = pool.Ping
	}

	if cfg.CatalogFile != "" {
		catalog, err := migrate.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			log.Error("failed to load catalog", "error", err)
			os.Exit(1)
		}
		if _, err := migrate.Seed(ctx, store, catalog, log); err != nil {
			log.Error("failed to seed catalog", "error", err)
			os.Exit(1)
		}
	}

	recorder := metrics.Default()
	sender := buildSender(cfg, log)
	if closer, ok := sender.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var locker assignment.Locker = assignment.NewKeyedMutex()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLocker, err := assignment.NewRedisLocker(addr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL(), log)
		if err != nil {
			log.Warn("redis assignment lock unavailable, using in-process lock", "error", err)
		} else {
			defer redisLocker.Close()
			locker = redisLocker
		}
	}

	consensusBase := consensus.New(store, log)
	tracker := consensus.NewTracker(consensusBase, cfg.ConsensusSignalBuffer, log, recorder)
	hub := events.NewHub(0, log)
	observers := events.Observers{tracker, hub}
	consensusSvc := consensusBase.WithObserver(observers)
	teamSvc := team.New(store, log).WithObserver(observers)
	invitationSvc := invitation.New(store, sender, log, invitation.Config{
		TTL:        cfg.InviteTTL(),
		LinkSecret: cfg.InviteLinkSecret,
		BaseURL:    cfg.PublicBaseURL,
	}).WithObserver(observers).WithMetrics(recorder)
	assignmentSvc := assignment.New(store, consensusBase, locker, sender, log).
		WithMetrics(recorder).
		WithObserver(hub)
	authSvc := auth.New(store, log, cfg.JWTSecret)

	go assignment.NewWorker(assignmentSvc, log).WithForgetter(tracker).Run(ctx, tracker.Signals())
	go assignment.NewReconciler(assignmentSvc, cfg.ReconcileInterval(), log).Run(ctx)
	go invitation.NewSweeper(invitationSvc, cfg.SweepInterval(), log).Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Auth:        authSvc,
		Teams:       teamSvc,
		Invitations: invitationSvc,
		Consensus:   consensusSvc,
		Assignment:  assignmentSvc,
		Projects:    store,
	}, httpx.Options{
		Limiter:    limiter,
		WriteLimit: cfg.RateLimitPerMinute,
		DBHealth:   dbHealth,
		Events:     hub,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "env", cfg.Environment)
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

// buildSender picks the first configured notification transport.
func buildSender(cfg config.APIConfig, log *slog.Logger) notify.Sender {
	if url := strings.TrimSpace(cfg.NotifyWebhookURL); url != "" {
		sender, err := notify.NewWebhookSender(url, cfg.NotifyWebhookToken, cfg.NotifyTimeout(), nil)
		if err == nil {
			log.Info("notifications via webhook", "url", url)
			return sender
		}
		log.Warn("webhook notifications unavailable", "error", err)
	}
	if len(cfg.NotifyKafkaBrokers) > 0 {
		sender, err := notify.NewKafkaSender(cfg.NotifyKafkaBrokers, cfg.NotifyKafkaTopic)
		if err == nil {
			log.Info("notifications via kafka", "topic", cfg.NotifyKafkaTopic)
			return sender
		}
		log.Warn("kafka notifications unavailable", "error", err)
	}
	return notify.NewLogSender(log)
}
