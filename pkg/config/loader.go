package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Compute defaults anchored at baseDir
//  2. Read backplane.yaml from baseDir/config (optional — defaults apply)
//  3. Expand environment variables ({{.VAR}} syntax)
//  4. Merge user YAML over defaults (non-zero user values win)
//  5. Apply single-variable environment overrides
//  6. Resolve data paths and ensure directories exist
//  7. Validate
func Initialize(baseDir string) (*Config, error) {
	cfg := DefaultConfig(baseDir)

	path := filepath.Join(baseDir, "config", "backplane.yaml")
	if data, err := os.ReadFile(path); err == nil {
		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	resolveDataPaths(cfg, baseDir)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	slog.Info("Configuration initialized",
		"base_dir", baseDir,
		"exchange", cfg.Messaging.Exchange,
		"cooldown_enabled", cfg.Redis.CooldownOn(),
		"persist_executions", cfg.Execution.PersistOn())
	return cfg, nil
}

// applyEnvOverrides applies the documented single-variable overrides. Each
// is optional; unset variables leave the merged value in place.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.Messaging.URL = v
	}
	if v := os.Getenv("RABBITMQ_EXCHANGE"); v != "" {
		cfg.Messaging.Exchange = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_COOLDOWN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.CooldownTTL = d
		} else {
			slog.Warn("Invalid REDIS_COOLDOWN_TTL, keeping configured value", "value", v, "error", err)
		}
	}
	if v := os.Getenv("REDIS_COOLDOWN_ENABLED"); v != "" {
		b := parseBool(v)
		cfg.Redis.CooldownEnabled = &b
	}
	if v := os.Getenv("EXECUTIONS_PERSIST"); v != "" {
		b := parseBool(v)
		cfg.Execution.Persist = &b
	}
	if v := os.Getenv("ALLOW_ISOLATE_HOST"); v != "" {
		cfg.Execution.AllowIsolateHost = parseBool(v)
	}
	if v := os.Getenv("FILE_INPUT_PATH"); v != "" {
		cfg.Messaging.FileInput = v
	}
	if v := os.Getenv("GENAI_PROVIDER"); v != "" {
		cfg.GenAI.Provider = v
	}
	if v := os.Getenv("GENAI_MODEL"); v != "" {
		cfg.GenAI.Model = v
	}
	if v := os.Getenv("GENAI_API_KEY"); v != "" {
		cfg.GenAI.APIKey = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// resolveDataPaths normalizes every data path: empty entries fall back to
// defaults under baseDir, relative entries resolve against baseDir, and the
// directories are created.
func resolveDataPaths(cfg *Config, baseDir string) {
	defaults := DefaultConfig(baseDir).Data

	resolve := func(val, dflt string) string {
		if val == "" {
			return dflt
		}
		if !filepath.IsAbs(val) {
			return filepath.Join(baseDir, val)
		}
		return val
	}

	cfg.Data.BaseDir = resolve(cfg.Data.BaseDir, defaults.BaseDir)
	cfg.Data.PlaybooksStatic = resolve(cfg.Data.PlaybooksStatic, defaults.PlaybooksStatic)
	cfg.Data.PlaybooksGenerated = resolve(cfg.Data.PlaybooksGenerated, defaults.PlaybooksGenerated)
	cfg.Data.Executions = resolve(cfg.Data.Executions, defaults.Executions)
	cfg.Data.Quarantine = resolve(cfg.Data.Quarantine, defaults.Quarantine)
	cfg.Data.ActionsCatalog = resolve(cfg.Data.ActionsCatalog, defaults.ActionsCatalog)
	cfg.Data.AuditLog = resolve(cfg.Data.AuditLog, defaults.AuditLog)
	cfg.Execution.QuarantineDir = resolve(cfg.Execution.QuarantineDir, defaults.Quarantine)

	for _, dir := range []string{
		cfg.Data.BaseDir,
		cfg.Data.PlaybooksStatic,
		cfg.Data.PlaybooksGenerated,
		cfg.Data.Executions,
		cfg.Data.Quarantine,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("Could not create data directory", "dir", dir, "error", err)
		}
	}
}

// validate checks the merged configuration for values the services cannot
// run with.
func validate(cfg *Config) error {
	if cfg.Messaging.URL == "" {
		return NewValidationError("messaging", "url", "AMQP URL is required")
	}
	if cfg.Messaging.Exchange == "" {
		return NewValidationError("messaging", "exchange", "exchange name is required")
	}
	if cfg.Redis.URL == "" {
		return NewValidationError("redis", "url", "redis URL is required")
	}
	if cfg.Redis.LockTTL <= 0 {
		return NewValidationError("redis", "lock_ttl", "lock TTL must be positive")
	}
	if cfg.Redis.CooldownTTL < 0 {
		return NewValidationError("redis", "cooldown_ttl", "cooldown TTL must not be negative")
	}
	if cfg.Database.DSN == "" {
		return NewValidationError("database", "dsn", "database DSN is required")
	}
	if w := cfg.Analytics.RuleWeight + cfg.Analytics.AnomalyWeight + cfg.Analytics.BehavioralWeight; w <= 0 {
		return NewValidationError("analytics", "weights", "detector weights must sum to a positive value")
	}
	if cfg.Enrichment.Prefetch <= 0 {
		return NewValidationError("enrichment", "prefetch", "prefetch must be positive")
	}
	if cfg.Analytics.Prefetch <= 0 {
		return NewValidationError("analytics", "prefetch", "prefetch must be positive")
	}
	return nil
}
