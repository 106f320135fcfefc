// Package main - точка входа HTTP-сервиса прогрессии StudyDeck.
//
// Сервис принимает вебхуки о смене статусов задач, начисляет и
// отзывает XP через журнал наград, ведёт стрики и ачивки, и отдаёт
// снапшоты прогрессии клиентским поверхностям.
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: кривая уровней, стрики, журнал, каталог ачивок
// - Application: оркестратор наград (Commands/Queries/Sagas)
// - Infrastructure: PostgreSQL, Redis, event bus, resilience
// - Interface: HTTP endpoints и вебхук
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/studydeck/studydeck-progression/config"
	"github.com/studydeck/studydeck-progression/internal/application/command"
	"github.com/studydeck/studydeck-progression/internal/application/eventhandler"
	"github.com/studydeck/studydeck-progression/internal/application/query"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/messaging"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/persistence/memory"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/persistence/postgres"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/persistence/redis"
	"github.com/studydeck/studydeck-progression/internal/infrastructure/service"
	httpserver "github.com/studydeck/studydeck-progression/internal/interface/http"
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
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	appLog, slogLog := setupLoggers(cfg)
	appLog.Info("starting StudyDeck progression service",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	appLog.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		appLog.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	appLog.Info("running database migrations")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. РЕПОЗИТОРИИ И КЕШ СНАПШОТОВ
	// ─────────────────────────────────────────────────────────────────────────
	ledger := service.NewResilientLedger(postgres.NewLedgerRepository(dbConn), appLog)
	unlocks := postgres.NewUnlockRepository(dbConn)
	snapshots := memory.NewSnapshotCache()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultConfig()
	busConfig.Logger = slogLog
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		appLog.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. REDIS-УВЕДОМЛЕНИЯ (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	healthCheckers := []httpserver.HealthChecker{pgHealth{dbConn}}

	realtimeEnabled := !cfg.Redis.Disabled &&
		cfg.Features.IsEnabled(config.FeatureRealtimeNotify, "")
	if realtimeEnabled {
		appLog.Info("connecting to Redis")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisClient, err := redis.NewClient(redisCfg)
		if err != nil {
			appLog.Warn("failed to connect to Redis, realtime notifications disabled",
				logger.Err(err))
		} else {
			defer redisClient.Close()
			notifications := service.NewNotificationService(redis.NewNotifier(redisClient), appLog)
			if err := notifications.Register(bus); err != nil {
				return fmt.Errorf("failed to register notification service: %w", err)
			}
			healthCheckers = append(healthCheckers, redisHealth{redisClient})
			appLog.Info("Redis notifications enabled")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.NewClock(cfg.App.Timezone)
	idgen := service.NewIDGenerator()

	rewards := command.RewardConfig{
		StreakBonusXP:       cfg.Rewards.StreakBonusXP,
		DailyGoalBonusXP:    cfg.Rewards.DailyGoalBonusXP,
		DailyGoalThreshold:  cfg.Rewards.DailyGoalThreshold,
		DisableAchievements: !cfg.Features.IsEnabled(config.FeatureAchievements, ""),
	}
	if !cfg.Features.IsEnabled(config.FeatureStreakBonus, "") {
		rewards.StreakBonusXP = 0
	}
	if !cfg.Features.IsEnabled(config.FeatureDailyGoalBonus, "") {
		rewards.DailyGoalBonusXP = 0
	}

	orchestrator := command.NewOrchestrator(
		ledger, unlocks, snapshots, bus, clock, appLog, rewards, idgen.GenerateID)

	awardHandler := command.NewAwardTaskHandler(orchestrator)
	revokeHandler := command.NewRevokeTaskHandler(orchestrator)
	dismissHandler := command.NewDismissLevelUpHandler(orchestrator)
	snapshotQuery := query.NewGetSnapshotHandler(snapshots, ledger, orchestrator)
	statusChanged := eventhandler.NewOnTaskStatusChangedHandler(awardHandler, revokeHandler, slogLog)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpConfig.WebhookSecret = cfg.HTTP.WebhookSecret

	server := httpserver.NewServer(httpConfig, httpserver.Dependencies{
		StatusChanged:  statusChanged,
		GetSnapshot:    snapshotQuery,
		DismissLevelUp: dismissHandler,
		HealthCheckers: healthCheckers,
		Logger:         appLog,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	errCh := server.StartAsync()

	appLog.Info("progression service is running",
		logger.String("http_address", cfg.HTTP.Host),
		logger.Int("http_port", cfg.HTTP.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		appLog.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			appLog.Error("http server error", logger.Err(err))
			return err
		}
	}

	appLog.Info("starting graceful shutdown",
		logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	appLog.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLoggers настраивает структурированное логирование. Event bus и
// scheduler пишут через slog, остальное через pkg/logger; оба выводят
// в stdout с одним уровнем.
func setupLoggers(cfg *config.Config) (*logger.Logger, *slog.Logger) {
	level := logger.ParseLevel(cfg.Observability.LogLevel)

	opts := logger.DefaultOptions()
	opts.Level = level
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

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// pgHealth adapts the postgres connection to httpserver.HealthChecker.
type pgHealth struct {
	conn *postgres.Connection
}

func (h pgHealth) Name() string                    { return "postgres" }
func (h pgHealth) Check(ctx context.Context) error { return h.conn.Ping(ctx) }

// redisHealth adapts the redis client to httpserver.HealthChecker.
type redisHealth struct {
	client *redis.Client
}

func (h redisHealth) Name() string                    { return "redis" }
func (h redisHealth) Check(ctx context.Context) error { return h.client.Ping(ctx) }
