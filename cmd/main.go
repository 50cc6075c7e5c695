package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/api"
	"github.com/akylbek/payment-system/payment-reconciler/internal/auth"
	"github.com/akylbek/payment-system/payment-reconciler/internal/config"
	"github.com/akylbek/payment-system/payment-reconciler/internal/events"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/lock"
	"github.com/akylbek/payment-system/payment-reconciler/internal/repository"
	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("payment-reconciler", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	if err := cfg.Validate(); err != nil {
		telemetry.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	telemetry.Logger.Info("Starting Payment Reconciler")

	// Storage: PostgreSQL, or the in-memory store for local development
	var store interfaces.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := repository.NewPostgresStore(db)
		if err := pg.InitDB(); err != nil {
			telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		store = pg
	} else {
		telemetry.Logger.Warn("DATABASE_URL not set, using in-memory store")
		store = repository.NewMemoryStore()
	}

	// Locks: Redis when configured
	var locker interfaces.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, "payment-reconciler:")
	}

	// State-change stream
	var publisher interfaces.EventPublisher = events.Noop{}
	if cfg.KafkaBrokers != "" {
		kafkaWriter := events.NewKafkaWriter(strings.Split(cfg.KafkaBrokers, ","))
		defer kafkaWriter.Close()
		publisher = events.NewKafkaStatePublisher(kafkaWriter)
	}

	// Order confirmation notifications
	var notifier interfaces.Notifier = events.Noop{}
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		notifier = events.NewNatsNotifier(nc)
	}

	gw := gateway.NewClient(cfg.Gateway)
	reconciler := service.NewReconciler(store, gw, publisher, notifier, cfg.AppBaseURL)
	operations := service.NewOperations(store, gw, publisher, locker)
	maintenance := service.NewMaintenance(store, publisher, locker, service.SweepWindows{
		AbandonedAfter:   cfg.AbandonedIntentAfter,
		StuckVoidAfter:   cfg.StuckVoidAfter,
		StuckRefundAfter: cfg.StuckRefundAfter,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.MaintenanceInterval > 0 {
		go maintenance.Run(ctx, cfg.MaintenanceInterval)
	}

	r := api.NewRouter(api.Dependencies{
		Store:         store,
		Authenticator: auth.NewJWTAuthenticator(cfg.JWTSecret),
		Reconciler:    reconciler,
		Operations:    operations,
		Maintenance:   maintenance,
	}, api.Options{
		AllowedOrigins:    cfg.Origins(),
		MaintenanceSecret: cfg.MaintenanceSecret,
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Payment Reconciler starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	reconciler.Wait()

	telemetry.Logger.Info("Server exited")
}
