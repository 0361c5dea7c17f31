package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/EternisAI/silo-stations/internal/allocation"
	internalhttp "github.com/EternisAI/silo-stations/internal/api/http"
	"github.com/EternisAI/silo-stations/internal/auth"
	"github.com/EternisAI/silo-stations/internal/db"
	"github.com/EternisAI/silo-stations/internal/leases"
	"github.com/EternisAI/silo-stations/internal/metrics"
	"github.com/EternisAI/silo-stations/internal/notify"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/EternisAI/silo-stations/internal/stations"
	"github.com/EternisAI/silo-stations/internal/store"
	"github.com/EternisAI/silo-stations/internal/store/memory"
	"github.com/EternisAI/silo-stations/internal/store/postgres"
	"github.com/EternisAI/silo-stations/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Silo Stations Server", "version", AppVersion)

	ctx := context.Background()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sinks, hub, redisClient := buildSinks(ctx)
	dispatcher := notify.NewDispatcher(sinks, notify.Config{
		QueueSize: config.Notify.QueueSize,
		Timeout:   config.Notify.Timeout,
	}, m)

	userService := users.NewService(st)
	registry := stations.NewRegistry(st, dispatcher, m, nil)
	ledger := leases.NewLedger(st, nil)
	engine := allocation.NewEngine(st, userService, registry, ledger, dispatcher, m, config.Allocation)

	services := &internalhttp.Services{
		AuthService:    auth.NewService(userService, config.Auth.JWT),
		UserService:    userService,
		Authorizer:     auth.NewAuthorizer(config.Auth.Roles),
		Engine:         engine,
		Registry:       registry,
		Ledger:         ledger,
		Reports:        report.NewService(st, config.Report, nil),
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTSecret:      config.Auth.JWT.Secret,
	}
	if hub != nil {
		services.Events = hub
	}

	allowOrigins := config.Http.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gin.Recovery())
	internalhttp.SetupRoute(router, services)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Pending notifications are flushed before their sinks go away.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("Notification dispatcher did not drain", "error", err)
	}
	if hub != nil {
		hub.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	slog.Info("Shutdown complete")
}

func openStore(ctx context.Context) (store.Store, func(), error) {
	switch strings.ToLower(config.Storage) {
	case StorageMemory:
		slog.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	case "", StoragePostgres:
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", config.Storage)
	}

	if err := db.RunMigrations(ctx, config.Database.Url, config.Database.Schema); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := db.InitDB(ctx, config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return postgres.New(pool, config.Allocation.LockTimeout), pool.Close, nil
}

// buildSinks assembles the configured notification sinks. A sink that cannot
// be set up is logged and left out.
func buildSinks(ctx context.Context) (notify.Multi, *notify.Hub, *redis.Client) {
	var (
		sinks       notify.Multi
		hub         *notify.Hub
		redisClient *redis.Client
	)

	if config.Notify.Log {
		sinks = append(sinks, notify.LogSink{})
	}
	if config.Notify.Telegram.Enabled {
		if config.Notify.Telegram.Token == "" || len(config.Notify.Telegram.ChatIDs) == 0 {
			slog.Warn("Telegram notifications enabled without token or chat ids, skipping")
		} else {
			sinks = append(sinks, notify.NewTelegramSink(config.Notify.Telegram))
			slog.Info("Telegram notifications enabled", "chats", len(config.Notify.Telegram.ChatIDs))
		}
	}
	if config.Notify.Redis.Enabled {
		client, err := notify.NewRedisClient(ctx, config.Notify.Redis)
		if err != nil {
			slog.Error("Redis notifications disabled", "error", err)
		} else {
			redisClient = client
			sinks = append(sinks, notify.NewRedisSink(client, config.Notify.Redis.Channel))
			slog.Info("Redis notifications enabled", "addr", config.Notify.Redis.Addr)
		}
	}
	if config.Notify.Websocket.Enabled {
		hub = notify.NewHub()
		sinks = append(sinks, hub)
	}
	return sinks, hub, redisClient
}
