package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clinicbook/internal/api"
	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/events"
	"clinicbook/internal/locking"
	"clinicbook/internal/logging"
	"clinicbook/internal/messaging"
	"clinicbook/internal/metrics"
	"clinicbook/internal/service"
	"clinicbook/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	locker := initLocker(cfg, redisClient, logger)

	messenger, err := messaging.New(cfg.Messaging, logging.Component(logger, "messaging"))
	if err != nil {
		return fmt.Errorf("init messaging: %w", err)
	}

	bus := events.NewEventBus()
	bus.Subscribe(countEvent,
		events.EventBookingCreated, events.EventBookingConfirmed, events.EventBookingCancelled,
		events.EventBookingCompleted, events.EventBookingNoShow, events.EventBookingRescheduled)

	scheduler := service.NewReminderScheduler(domain.SystemClock, logging.Component(logger, "reminders"))
	bookings := service.NewBookingService(db, locker, cfg, scheduler, bus, domain.SystemClock,
		cfg.Booking, logging.Component(logger, "bookings"))
	professionals := service.NewProfessionalService(db, cfg, domain.SystemClock, cfg.Booking,
		logging.Component(logger, "professionals"))

	dispatcher := worker.NewReminderDispatcher(db, messenger, cfg, domain.SystemClock, cfg.Reminders,
		logging.Component(logger, "reminder_dispatcher"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	var wg sync.WaitGroup
	snapshots := database.NewSnapshotService(db, cfg.Backup, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshots.Start(ctx)
	}()

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, bookings, professionals, logging.Component(logger, "api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("booking API error")
				stop()
			}
		}()
	}

	dispatcher.Start(ctx)
	logger.Info().
		Str("app", cfg.App.Name).
		Int("tenants", len(cfg.Tenants)).
		Bool("api", cfg.API.Enabled).
		Msg("clinicbook started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("booking API shutdown error")
		}
		cancel()
	}
	dispatcher.Stop()
	wg.Wait()

	logger.Info().Msg("clinicbook stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "main"), closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := locking.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := locking.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with in-process locks")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLocker shares booking locks through Redis when it is reachable and
// falls back to in-process locks while it is not.
func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := locking.NewMemoryLocker()
	if redisClient == nil {
		return memory
	}
	primary := locking.NewRedisLocker(redisClient, cfg.Booking.LockTTL)
	return locking.NewFailoverLocker(primary, memory, logging.Component(logger, "locking"))
}

func countEvent(event *events.Event) error {
	metrics.IncBookingEvent(event.Type)
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
