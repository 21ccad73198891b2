// Analytics service — scores enriched events with the detector ensemble,
// raises alerts, and runs the decision engine over undecided alerts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelops/backplane/pkg/analytics"
	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/config"
	"github.com/sentinelops/backplane/pkg/decision"
	"github.com/sentinelops/backplane/pkg/detect"
	"github.com/sentinelops/backplane/pkg/features"
	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/schema"
	"github.com/sentinelops/backplane/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	baseDir := flag.String("base-dir", getEnv("BASE_DIR", "."), "Path to the service base directory")
	flag.Parse()

	envPath := filepath.Join(*baseDir, "config", ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpAddr := getEnv("ANALYTICS_HTTP_ADDR", ":9102")
	slog.Info("Starting analytics service", "base_dir", *baseDir, "http_addr", httpAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(*baseDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Shared stores
	kvStore, err := kv.Open(cfg.Redis.URL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer kvStore.Close()

	db, err := store.NewClient(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	validator, err := schema.NewValidator()
	if err != nil {
		slog.Error("Failed to compile event schemas", "error", err)
		os.Exit(1)
	}

	// 3. Detection pipeline
	ensemble := detect.NewEnsemble(cfg.Analytics.ModelDir, detect.Weights{
		Rule:       cfg.Analytics.RuleWeight,
		Anomaly:    cfg.Analytics.AnomalyWeight,
		Behavioral: cfg.Analytics.BehavioralWeight,
	})
	if cfg.Analytics.ShadowMode {
		slog.Info("Shadow mode enabled: alerts will be logged, not persisted")
	}

	// 4. Bus
	b, err := bus.Connect(cfg.Messaging.URL, cfg.Messaging.Exchange)
	if err != nil {
		slog.Error("Failed to connect to message bus", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	svc := &analytics.Service{
		Extractor:  features.NewExtractor(kvStore),
		Ensemble:   ensemble,
		Sink:       db.Alerts,
		Bus:        b,
		Validator:  validator,
		ShadowMode: cfg.Analytics.ShadowMode,
	}

	consumer := bus.NewConsumer(b, "analytics", "events.enriched.#", cfg.Analytics.Prefetch, svc.Handle)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("Failed to start consumer", "error", err)
		os.Exit(1)
	}

	// 5. Decision engine poller
	engine := &decision.Engine{Alerts: db.Alerts, Decisions: db.Decisions}
	go engine.Run(ctx, cfg.Analytics.DecisionInterval)

	// 6. Health and metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := db.DB().PingContext(reqCtx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpSrv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down analytics service")

	consumer.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}
