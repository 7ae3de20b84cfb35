// Package main is the entry point for the Asahi gateway process. It
// wires the core pipeline from configuration and serves the Prometheus
// exposition endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asahi/internal/cache/exact"
	"asahi/internal/config"
	"asahi/internal/crypto"
	"asahi/internal/gateway"
	"asahi/internal/observability"
	"asahi/internal/registry"
	"asahi/internal/telemetry"
	"asahi/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	reg, err := loadRegistry(cfg, logger)
	if err != nil {
		logger.Error("failed to load model catalog", "error", err)
		os.Exit(1)
	}

	collector := telemetry.NewCollector(telemetry.Config{
		Enabled:        cfg.Observability.Enabled,
		RetentionHours: cfg.Observability.RetentionHours,
	}, logger)

	builder := gateway.NewBuilder(cfg).
		WithRegistry(reg).
		WithCollector(collector).
		WithLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Cache.RedisAddr != "" {
		store, err := exact.NewRedisStore(ctx, exact.RedisOptions{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			Encryptor: loadEncryptor(cfg, logger),
		})
		if err != nil {
			logger.Error("failed to connect exact cache backend", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		builder.WithExactStore(store)
		logger.Info("exact cache using redis backend", "addr", cfg.Cache.RedisAddr)
	}

	if dsn := os.Getenv("ASAHI_VECTOR_DSN"); dsn != "" {
		store, err := vectorstore.OpenPgvectorStore(dsn, cfg.Embeddings.Dimension)
		if err != nil {
			logger.Error("failed to open pgvector store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		builder.WithVectorStore(store)
		logger.Info("semantic cache using pgvector backend")
	}

	gw, err := builder.Build()
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}

	if err := gw.Start(); err != nil {
		logger.Error("failed to start batch scheduler", "error", err)
		os.Exit(1)
	}

	analytics := observability.NewAnalytics(collector, observability.BaselineRates{
		InputPerK:  cfg.Tracking.BaselineInputRate,
		OutputPerK: cfg.Tracking.BaselineOutputRate,
		Model:      cfg.Tracking.BaselineModel,
	})
	detector := observability.NewDetector(analytics, collector, cfg.Observability.Anomaly)

	go pruneLoop(ctx, collector, time.Duration(cfg.Cache.CleanupIntervalSeconds)*time.Second, logger)

	server := metricsServer(cfg, collector, analytics, detector, gw, logger)
	go func() {
		logger.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	gw.Stop(5 * time.Second)
	logger.Info("shutdown complete")
}

func loadRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	path := cfg.Routing.ModelsPath
	if path == "" {
		return registry.NewWithDefaults(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("no model catalog found; using built-in defaults", "path", path)
		return registry.NewWithDefaults(), nil
	}
	return registry.LoadFromYAML(path)
}

func loadEncryptor(cfg *config.Config, logger *slog.Logger) *crypto.Encryptor {
	keyEnv := cfg.Governance.EncryptionKeyEnv
	encoded := os.Getenv(keyEnv)
	if encoded == "" {
		return nil
	}
	enc, err := crypto.NewFromString(encoded)
	if err != nil {
		logger.Warn("invalid encryption key; cached responses stored in plaintext",
			"env", keyEnv, "error", err)
		return nil
	}
	logger.Info("cache encryption enabled", "key_id", enc.KeyID())
	return enc
}

func pruneLoop(ctx context.Context, collector *telemetry.Collector, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.Prune()
		}
	}
}

func metricsServer(cfg *config.Config, collector *telemetry.Collector, analytics *observability.Analytics, detector *observability.Detector, gw *gateway.Gateway, logger *slog.Logger) *http.Server {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"summary":        collector.Summary(60),
			"exact_cache":    gw.ExactCacheStats(r.Context()),
			"semantic_cache": gw.SemanticCacheStats(r.Context()),
			"scheduler":      gw.SchedulerStats(),
			"latency":        analytics.LatencyPercentiles(),
			"anomalies":      detector.Check(),
		})
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
