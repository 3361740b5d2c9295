package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-behavior-api/api/swagger"
	"github.com/noah-isme/sma-behavior-api/internal/handler"
	"github.com/noah-isme/sma-behavior-api/internal/repository"
	"github.com/noah-isme/sma-behavior-api/internal/repository/memory"
	"github.com/noah-isme/sma-behavior-api/internal/service"
	"github.com/noah-isme/sma-behavior-api/pkg/cache"
	"github.com/noah-isme/sma-behavior-api/pkg/config"
	"github.com/noah-isme/sma-behavior-api/pkg/database"
	"github.com/noah-isme/sma-behavior-api/pkg/logger"
)

// @title Behavior Casework API
// @version 1.0.0
// @description Incident recording, expert case escalation, parent acknowledgment, and notification inboxes.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readiness := map[string]handler.ReadinessCheck{}

	stores, db, err := openStores(cfg)
	if err != nil {
		logr.Fatal("failed to open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	if db != nil {
		defer db.Close()
		readiness["database"] = db.PingContext
	}

	metrics := service.NewMetricsService()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}
	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, logr),
		metrics,
		cfg.Cache.TTL,
		logr,
		cfg.Cache.Enabled && redisClient != nil,
	)

	svcs := buildServices(stores, cacheSvc, metrics, logr)

	var scheduler *service.MonitoringScheduler
	if cfg.Monitoring.SweepEnabled {
		scheduler = service.NewMonitoringScheduler(stores.Cases, svcs.escalations, metrics, service.MonitoringSchedulerConfig{
			Schedule:   cfg.Monitoring.SweepSchedule,
			Workers:    cfg.Monitoring.ReminderWorkers,
			MaxRetries: cfg.Monitoring.ReminderRetries,
		}, logr.Named("monitoring"))
		if err := scheduler.Start(ctx); err != nil {
			logr.Fatal("failed to start monitoring sweep", zap.Error(err))
		}
	}

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, logr)
	router := newRouter(cfg, logr, tokens, metrics, svcs, readiness)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	logr.Info("server stopped")
}

type services struct {
	notifications   *service.NotificationService
	incidents       *service.IncidentService
	escalations     *service.EscalationService
	acknowledgments *service.AcknowledgmentService
	exports         *service.ExportService
}

func buildServices(stores repository.Stores, cacheSvc *service.CacheService, metrics *service.MetricsService, logr *zap.Logger) services {
	validate := validator.New()

	notifications := service.NewNotificationService(stores.Notifications, cacheSvc, metrics, logr.Named("notifications"))
	incidents := service.NewIncidentService(stores.Incidents, stores.Directory, stores.Directory, cacheSvc, metrics, validate, logr.Named("incidents"))
	acknowledgments := service.NewAcknowledgmentService(stores.Acknowledgments, incidents, stores.Cases, stores.Directory, notifications, logr.Named("acknowledgments"))
	escalations := service.NewEscalationService(stores.Cases, incidents, acknowledgments, stores.Directory, stores.Directory, notifications, metrics, validate, logr.Named("escalations"))
	incidents.UseEscalator(escalations)

	return services{
		notifications:   notifications,
		incidents:       incidents,
		escalations:     escalations,
		acknowledgments: acknowledgments,
		exports:         service.NewExportService(incidents, escalations, logr.Named("exports"), nil, nil),
	}
}

func openStores(cfg *config.Config) (repository.Stores, *sqlx.DB, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return memory.NewStores(cfg.Storage.SeedData), nil, nil
	case config.StoragePostgres, "":
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return repository.Stores{}, nil, err
		}
		return repository.NewPostgresStores(db), db, nil
	default:
		return repository.Stores{}, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
