// Playbook engine — consumes alerts, resolves or generates response
// playbooks, and executes them with cooldowns, locking, and rollback.
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

	"github.com/sentinelops/backplane/pkg/actions"
	"github.com/sentinelops/backplane/pkg/api"
	"github.com/sentinelops/backplane/pkg/audit"
	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/config"
	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/playbook"
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

	httpAddr := getEnv("PLAYBOOK_HTTP_ADDR", ":9103")
	slog.Info("Starting playbook engine", "base_dir", *baseDir, "http_addr", httpAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(*baseDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. KV store for cooldowns and execution locks. The executor degrades
	// gracefully without it, so a connection failure is not fatal here.
	var kvStore *kv.Store
	if s, err := kv.Open(cfg.Redis.URL); err != nil {
		slog.Warn("Redis unavailable, cooldowns and locks disabled", "error", err)
	} else {
		kvStore = s
		defer kvStore.Close()
	}

	// 3. Playbook machinery
	catalog, err := playbook.LoadCatalog(cfg.Data.ActionsCatalog)
	if err != nil {
		slog.Error("Failed to load action catalog", "path", cfg.Data.ActionsCatalog, "error", err)
		os.Exit(1)
	}

	auditor := audit.New(cfg.Data.AuditLog)
	executions := store.NewExecutionLog(cfg.Data.Executions, cfg.Execution.PersistOn())
	registry := actions.NewRegistry(actions.Config{
		QuarantineDir: cfg.Execution.QuarantineDir,
	})

	isAdmin := actions.IsAdmin()
	if cfg.Execution.AllowIsolateHost && !isAdmin {
		slog.Warn("Host isolation allowed by config but process lacks admin rights; steps will be skipped")
	}

	svc := &playbook.Service{
		Resolver: &playbook.Resolver{
			StaticDir:    cfg.Data.PlaybooksStatic,
			GeneratedDir: cfg.Data.PlaybooksGenerated,
			Catalog:      catalog,
		},
		Generator: &playbook.Generator{
			Planner: playbook.NewPlanner(cfg.GenAI),
			Catalog: catalog,
			OutDir:  cfg.Data.PlaybooksGenerated,
			Audit:   auditor,
		},
		Executor: &playbook.Executor{
			KV:              kvStore,
			Registry:        registry,
			Log:             executions,
			Audit:           auditor,
			CooldownEnabled: cfg.Redis.CooldownOn(),
			CooldownTTL:     cfg.Redis.CooldownTTL,
			LockTTL:         cfg.Redis.LockTTL,
			AllowPrivileged: cfg.Execution.AllowIsolateHost,
			IsAdmin:         isAdmin,
		},
	}

	// 4. Alert intake: bus consumer, file input, or both.
	var consumer *bus.Consumer
	if cfg.Messaging.BusEnabled() {
		b, err := bus.Connect(cfg.Messaging.URL, cfg.Messaging.Exchange)
		if err != nil {
			slog.Error("Failed to connect to message bus", "error", err)
			os.Exit(1)
		}
		defer b.Close()

		consumer = bus.NewConsumer(b, "playbook-engine", cfg.Messaging.RoutingKey,
			config.DefaultPlaybookPrefetch, svc.Handle)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("Failed to start consumer", "error", err)
			os.Exit(1)
		}
	}

	if cfg.Messaging.FileInput != "" {
		go func() {
			n, err := svc.ProcessFile(ctx, cfg.Messaging.FileInput)
			if err != nil {
				slog.Error("File input processing failed", "path", cfg.Messaging.FileInput, "error", err)
				return
			}
			slog.Info("Processed alerts from file", "path", cfg.Messaging.FileInput, "count", n)
		}()
	}

	// 5. HTTP API
	server := api.NewServer(svc, executions, kvStore, nil)
	httpSrv := &http.Server{Addr: httpAddr, Handler: server.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down playbook engine")

	if consumer != nil {
		consumer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}
