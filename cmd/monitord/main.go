package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"guardianai-backend/monitor-service/internal/api"
	"guardianai-backend/monitor-service/internal/archive"
	"guardianai-backend/monitor-service/internal/bus"
	"guardianai-backend/monitor-service/internal/config"
	"guardianai-backend/monitor-service/internal/engine"
	"guardianai-backend/monitor-service/internal/export"
	"guardianai-backend/monitor-service/internal/notify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgPath := getenv("MONITOR_CONFIG", "configs/monitor.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to load config", slog.String("path", cfgPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("config file not found, using defaults", slog.String("path", cfgPath))
		cfg = config.Default()
	}
	addr := getenv("MONITOR_ADDR", cfg.ListenAddr)
	natsURL := getenv("NATS_URL", cfg.NATS.URL)
	dsn := getenv("DATABASE_URL", cfg.Database.DSN)

	engineCfg := cfg.EngineConfig()
	var inflight atomic.Int64
	engineCfg.ActiveConnections = func() int { return int(inflight.Load()) }

	sinks := []notify.Sink{notify.LogSink{Logger: logger}}
	if natsURL != "" {
		publisher, err := bus.NewPublisher(natsURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
		sinks = append(sinks, bus.NewAlertSink(publisher, cfg.NATS.Subject))
		logger.Info("alert bus connected", slog.String("url", natsURL))
	}

	eng := engine.New(engineCfg, logger, sinks...)

	handler := &api.Handler{Engine: eng, Timeout: 5 * time.Second}
	if dsn != "" {
		archiver, err := archive.NewArchiver(context.Background(), dsn)
		if err != nil {
			logger.Error("failed to connect to db", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer archiver.Close()
		eng.SetAuditSink(archiver)
		handler.Audit = archiver
		logger.Info("alert audit archive connected")
	}

	for _, rule := range cfg.BootRules() {
		if err := eng.RegisterRule(rule); err != nil {
			logger.Error("failed to register boot rule",
				slog.String("rule", rule.Name),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	eng.Start()
	exporter := export.NewExporter(eng)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(api.RequestMetrics(eng, &inflight))

	r.Get("/healthz", api.Health)
	r.Method(http.MethodGet, "/metrics", exporter.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("monitor-service listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		logger.Error("engine shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("monitor-service stopped")
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
