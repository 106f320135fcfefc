// Package main - точка входа фонового воркера прогрессии StudyDeck.
//
// Воркер запускает периодические задачи обслуживания журнала наград:
// ночную сверку состояний с полным реплеем журнала и догоняющий
// проход по ачивкам, которые не закоммитились с первого раза.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/studydeck/studydeck-progression/config"
	"github.com/studydeck/studydeck-progression/internal/application/saga"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/messaging"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/persistence/memory"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/persistence/postgres"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/persistence/redis"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/scheduler"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/scheduler/jobs"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/service"
	"github.com/studydeck/studydeck-progression/pkg/logger"
	"github.com/studydeck/studydeck-progression/pkg/timeutil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled, nothing to run (set SCHEDULER_ENABLED=true)")
	}

	appLog, slogLog := setupLoggers(cfg)
	appLog.Info("starting StudyDeck progression worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ledger := service.NewResilientLedger(postgres.NewLedgerRepository(dbConn), appLog)
	unlocks := postgres.NewUnlockRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS И REDIS-УВЕДОМЛЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultConfig()
	busConfig.Logger = slogLog
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() { _ = bus.Close() }()

	if !cfg.Redis.Disabled && cfg.Features.IsEnabled(config.FeatureRealtimeNotify, "") {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		redisClient, err := redis.NewClient(redisCfg)
		if err != nil {
			appLog.Warn("failed to connect to Redis, notifications disabled", logger.Err(err))
		} else {
			defer redisClient.Close()
			notifications := service.NewNotificationService(redis.NewNotifier(redisClient), appLog)
			if err := notifications.Register(bus); err != nil {
				return fmt.Errorf("failed to register notification service: %w", err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. РЕГИСТРАЦИЯ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.NewClock(cfg.App.Timezone)
	idgen := service.NewIDGenerator()

	sched := scheduler.New(scheduler.Config{
		Logger:   slogLog,
		Timezone: cfg.App.Location,
	})

	registered := 0

	if cfg.Features.IsEnabled(config.FeatureLedgerReconcile, "") {
		// Воркер держит свой кеш снапшотов только для инвалидации;
		// источником правды для чтения остаётся сервер.
		reconcile := jobs.NewReconcileLedgerJob(ledger, memory.NewSnapshotCache(), bus, clock, appLog)
		reconcile.Timeout = cfg.Scheduler.JobTimeout
		schedule := scheduler.NewDailyAtSchedule(cfg.Scheduler.ReconcileHour, cfg.Scheduler.ReconcileMinute)
		if err := sched.Register(reconcile, schedule); err != nil {
			return fmt.Errorf("failed to register reconcile job: %w", err)
		}
		registered++
	}

	if cfg.Features.IsEnabled(config.FeatureAchievements, "") {
		flow := saga.NewAchievementFlowSaga(ledger, unlocks, bus, appLog, idgen.GenerateID)
		retryJob := jobs.NewRetryAchievementsJob(flow, appLog)
		if err := sched.Register(retryJob, scheduler.NewIntervalSchedule(cfg.Scheduler.AchievementRetryInterval)); err != nil {
			return fmt.Errorf("failed to register achievement retry job: %w", err)
		}
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("all scheduled jobs are disabled by feature flags")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ЗАПУСК И ОЖИДАНИЕ СИГНАЛА
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	appLog.Info("worker is running", logger.Int("jobs", registered))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh

	appLog.Info("received shutdown signal", logger.String("signal", sig.String()))

	if err := sched.Stop(); err != nil {
		appLog.Error("failed to stop scheduler gracefully", logger.Err(err))
		return err
	}

	appLog.Info("worker stopped")
	return nil
}

// setupLoggers настраивает структурированное логирование (см. cmd/server).
func setupLoggers(cfg *config.Config) (*logger.Logger, *slog.Logger) {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	appLog := logger.New(opts)

	slogOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		slogOpts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, slogOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, slogOpts)
	}
	slogLog := slog.New(handler)
	slog.SetDefault(slogLog)

	return appLog, slogLog
}
