package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/thrillee/aegisbulk/internal/app"
	"github.com/thrillee/aegisbulk/internal/auth"
	cfg "github.com/thrillee/aegisbulk/internal/config"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/internal/history"
	"github.com/thrillee/aegisbulk/internal/logging"
	apihandlers "github.com/thrillee/aegisbulk/internal/managerapi/handlers"
	"github.com/thrillee/aegisbulk/internal/notification"
	"github.com/thrillee/aegisbulk/internal/queue"
	"github.com/thrillee/aegisbulk/internal/session"
	"github.com/thrillee/aegisbulk/internal/wallet"
	"github.com/thrillee/aegisbulk/internal/workers"
	"github.com/thrillee/aegisbulk/pkg/codes"
	"github.com/thrillee/aegisbulk/pkg/msisdn"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	config, err := cfg.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	logging.Setup(os.Stdout, config.LogLevel)

	normalizer, err := msisdn.New(config.Compose.DefaultRegion)
	if err != nil {
		slog.Error("Invalid default region", slog.String("region", config.Compose.DefaultRegion), slog.Any("error", err))
		os.Exit(1)
	}

	// --- Gateway ---
	gw, err := app.NewGateway(appCtx, config)
	if err != nil {
		slog.Error("Gateway setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer gw.Close(context.Background())

	walletSvc := wallet.NewService(gw.Client)
	notifier := notification.NewLogNotifier(slog.Default())

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engine := dispatch.NewEngine(gw.Sender, dispatch.Options{
		Concurrency: config.Dispatch.Concurrency,
		Metrics:     dispatch.NewMetrics(registry),
	})

	checks := map[string]apihandlers.Checker{"gateway": gw.Client.HealthCheck}

	// --- Run History (optional) ---
	var runs history.Store
	var reports *apihandlers.ReportHandler
	if config.DatabaseURL != "" {
		slog.Info("Connecting to database...")
		dbpool, err := pgxpool.New(appCtx, config.DatabaseURL)
		if err != nil {
			slog.Error("DB connect error", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(appCtx); err != nil {
			slog.Error("DB ping error", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("Database connection established")
		runs = history.NewStore(dbpool)
		reports = apihandlers.NewReportHandler(runs)
		checks["database"] = dbpool.Ping
	}

	// --- Batch Queue Snapshots (optional) ---
	var store session.SnapshotStore
	if config.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer rdb.Close()
		redisStore := queue.NewRedisStore(rdb, config.Redis.SnapshotTTL)
		if err := redisStore.Ping(appCtx); err != nil {
			slog.Error("Redis ping error", slog.Any("error", err))
			os.Exit(1)
		}
		store = redisStore
		checks["redis"] = redisStore.Ping
	}

	onFinished := func(ctx context.Context, sessionID string, s dispatch.Summary) {
		if runs != nil {
			if err := runs.Record(ctx, history.FromSummary(sessionID, s), s.Items); err != nil {
				slog.ErrorContext(ctx, "Dispatch run not recorded", slog.Any("error", err))
			}
		}
		if config.Notify.Recipient != "" {
			if err := notification.NotifyRunFinished(ctx, notifier, config.Notify.Recipient, s); err != nil {
				slog.WarnContext(ctx, "Run notification failed", slog.Any("error", err))
			}
		}
	}

	manager := session.NewManager(session.Config{
		Limits: session.Limits{
			MaxBatchSize:     config.Compose.MaxBatchSize,
			SegmentCharLimit: config.Compose.SegmentCharLimit,
			MaxSegments:      config.Compose.MaxSegments,
		},
		Normalizer: normalizer,
		Wallet:     walletSvc,
		Engine:     engine,
		Store:      store,
		OnFinished: onFinished,
	})

	// --- Background Workers ---
	workerCtx, stopWorkers := context.WithCancel(appCtx)
	bg := workers.NewManager(manager, walletSvc, notifier, workers.Config{
		SnapshotInterval:    config.Redis.SnapshotInterval,
		SnapshotBatchSize:   100,
		LowBalanceInterval:  config.Notify.LowBalanceInterval,
		LowBalanceThreshold: config.Notify.LowBalanceThreshold,
		NotifyRecipient:     config.Notify.Recipient,
	})
	bg.Start(workerCtx)

	if gw.SMPP != nil {
		checks["smpp"] = func(context.Context) error {
			if st := gw.SMPP.Status(); st != codes.StatusBound {
				return errors.New("smpp transmitter " + st)
			}
			return nil
		}
	}

	// --- Gin Router Setup ---
	if config.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	apihandlers.SetupRoutes(router, apihandlers.Deps{
		Sessions: apihandlers.NewSessionHandler(manager, contact.NewIngester(config.Compose.GroupPageSize), gw.Client, gw.Client),
		Catalog:  apihandlers.NewCatalogHandler(gw.Client, gw.Client, walletSvc),
		Reports:  reports,
		Health:   checks,
		Gatherer: registry,
		Auth:     auth.APIKeyMiddleware(config.ManagerAPI.APIKeyHash),
	})

	// --- HTTP Server ---
	srv := &http.Server{
		Addr:         config.ManagerAPI.Addr,
		Handler:      router,
		ReadTimeout:  config.ManagerAPI.ReadTimeout,
		WriteTimeout: config.ManagerAPI.WriteTimeout,
		IdleTimeout:  config.ManagerAPI.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	go func() {
		slog.Info("Starting Compose API Server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Compose API ListenAndServe error", slog.Any("error", err))
			rootCancel()
		}
	}()

	// --- Wait for Shutdown ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received for Compose API server.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Compose API server forced to shutdown", slog.Any("error", err))
	}

	stopWorkers()
	bg.Wait()
	if saved, err := manager.FlushSnapshots(shutdownCtx, 0); err != nil {
		slog.Error("Final snapshot flush failed", slog.Int("saved", saved), slog.Any("error", err))
	}

	slog.Info("Compose API server stopped.")
}
