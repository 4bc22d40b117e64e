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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/claimops/slatracker/internal/config"
	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/handlers"
	"github.com/claimops/slatracker/internal/jobs"
	"github.com/claimops/slatracker/internal/lock"
	"github.com/claimops/slatracker/internal/logging"
	"github.com/claimops/slatracker/internal/metrics"
	"github.com/claimops/slatracker/internal/middleware"
	"github.com/claimops/slatracker/internal/services"
	"github.com/claimops/slatracker/internal/sla"
	slacksink "github.com/claimops/slatracker/internal/slack"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env file is fine when configuration comes from the environment.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "slatracker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Debug("no .env file loaded", zap.Error(envErr))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("slatracker exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting slatracker", zap.String("version", handlers.Version))

	gormLevel := logger.Warn
	if logging.ParseLevel(cfg.LogLevel) == zap.DebugLevel {
		gormLevel = logger.Info
	}
	if err := database.Connect(cfg.DatabaseURL, gormLevel, log); err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	db := database.GetDB()

	if err := database.AutoMigrate(db, log); err != nil {
		return err
	}

	targets, err := sla.LoadTargetTable(cfg.TargetsFile)
	if err != nil {
		return err
	}
	thresholds := sla.Thresholds{Warning: cfg.WarningThreshold, Critical: cfg.CriticalThreshold}

	m := metrics.New()

	hub := handlers.NewNotificationHub(log, cfg.CORSOrigins...)
	defer hub.Close()

	notifier := services.NewNotificationService(db, log, m, hub)
	if cfg.SlackEnabled() {
		notifier.AddSink(slacksink.NewSink(cfg.SlackBotToken, cfg.SlackChannel, log))
		log.Info("slack notifications enabled", zap.String("channel", cfg.SlackChannel))
	} else {
		log.Info("slack notifications disabled")
	}

	clock := sla.SystemClock{}
	slaService := services.NewSLAService(db,
		services.WithClock(clock),
		services.WithCalculator(sla.NewCalculator(targets)),
		services.WithThresholds(thresholds),
		services.WithNotifier(notifier),
		services.WithLogger(log),
		services.WithStoreTimeout(cfg.StoreTimeout),
		services.WithActionBaseURL(cfg.PublicBaseURL),
	)
	statsService := services.NewStatisticsService(db, clock, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedisLockerFromURL(ctx, cfg.RedisURL, "slatracker:")
		if err != nil {
			return err
		}
		locker = redisLocker
		log.Info("using redis sweep lock")
	}

	monitor := jobs.NewBreachMonitor(slaService,
		jobs.WithLocker(locker),
		jobs.WithMetrics(m),
		jobs.WithMonitorLogger(log),
		jobs.WithConcurrency(cfg.SweepConcurrency),
		jobs.WithLockTTL(cfg.SweepTimeout),
	)
	scheduler, err := jobs.NewScheduler(monitor,
		jobs.WithSchedule(cfg.SweepSchedule),
		jobs.WithSweepTimeout(cfg.SweepTimeout),
		jobs.WithSchedulerLogger(log),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(db, scheduler, m.Handler(), log).SetupRoutes(mux)
	handlers.NewSLAHandler(slaService, monitor, log).SetupRoutes(mux)
	handlers.NewStatsHandler(statsService, log).SetupRoutes(mux)
	handlers.NewNotificationHandler(notifier, log).SetupRoutes(mux)
	hub.SetupRoutes(mux)

	auth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:   cfg.AuthEnabled,
		JWTSecret: cfg.JWTSecret,
		SkipPaths: []string{"/health", "/metrics"},
		Logger:    log,
	})
	if !cfg.AuthEnabled {
		log.Warn("authentication is disabled")
	}

	var handler http.Handler = auth.Wrap(mux)
	handler = middleware.NewCORSMiddleware(cfg.CORSOrigins...).Wrap(handler)
	handler = middleware.AccessLog(log)(handler)
	handler = middleware.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		log.Info("http server listening", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
