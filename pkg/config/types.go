// Package config loads and validates back-plane configuration from YAML
// with environment-variable expansion and built-in defaults.
package config

import "time"

// Config is the fully resolved configuration shared by the three services.
type Config struct {
	Messaging  MessagingConfig  `yaml:"messaging"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	GenAI      GenAIConfig      `yaml:"genai"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Data       DataConfig       `yaml:"data"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
}

// MessagingConfig holds the topic-exchange bus settings.
type MessagingConfig struct {
	// URL is the AMQP connection string.
	URL string `yaml:"url"`
	// Exchange is the durable topic exchange all services share.
	Exchange string `yaml:"exchange"`
	// RoutingKey is the binding pattern for the playbook-engine consumer.
	RoutingKey string `yaml:"routing_key"`
	// Enabled disables the bus consumer entirely when false (file-input mode).
	Enabled *bool `yaml:"enabled"`
	// FileInput is an optional path to a JSON/JSONL alerts file consumed
	// instead of (or in addition to) the bus.
	FileInput string `yaml:"file_input"`
}

// RedisConfig holds the shared KV-store settings. The URL scheme selects
// TLS: "rediss://" connects over TLS, "redis://" does not.
type RedisConfig struct {
	URL             string        `yaml:"url"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	CooldownTTL     time.Duration `yaml:"cooldown_ttl"`
	CooldownEnabled *bool         `yaml:"cooldown_enabled"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// GenAIConfig configures the optional playbook planner. With provider
// "stub" (or a missing API key) generation falls back to the deterministic
// recipes.
type GenAIConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// ExecutionConfig controls playbook execution behavior.
type ExecutionConfig struct {
	Mode             string `yaml:"mode"`
	AllowIsolateHost bool   `yaml:"allow_isolate_host"`
	QuarantineDir    string `yaml:"quarantine_dir"`
	Persist          *bool  `yaml:"persist"`
}

// DataConfig holds on-disk layout. Empty or relative entries resolve under
// BaseDir so a sparse config file cannot scatter writes around the
// repository root.
type DataConfig struct {
	BaseDir            string `yaml:"base_dir"`
	PlaybooksStatic    string `yaml:"playbooks_static"`
	PlaybooksGenerated string `yaml:"playbooks_generated"`
	Executions         string `yaml:"executions"`
	Quarantine         string `yaml:"quarantine"`
	ActionsCatalog     string `yaml:"actions_catalog"`
	AuditLog           string `yaml:"audit_log"`
}

// EnrichmentConfig holds the enrichment service's asset paths and prefetch.
type EnrichmentConfig struct {
	GeoIPDB   string `yaml:"geoip_db"`
	YaraRules string `yaml:"yara_rules"`
	Prefetch  int    `yaml:"prefetch"`
}

// AnalyticsConfig holds the analytics service tunables.
type AnalyticsConfig struct {
	Prefetch   int  `yaml:"prefetch"`
	ShadowMode bool `yaml:"shadow_mode"`
	// ModelDir contains the per-event-type isolation-forest model files.
	ModelDir string `yaml:"model_dir"`
	// Weights for the rule/anomaly/behavioral detectors.
	RuleWeight       float64 `yaml:"rule_weight"`
	AnomalyWeight    float64 `yaml:"anomaly_weight"`
	BehavioralWeight float64 `yaml:"behavioral_weight"`
	// DecisionInterval is the decision-engine polling period; 0 disables
	// the poller.
	DecisionInterval time.Duration `yaml:"decision_interval"`
}

// CooldownOn resolves the optional cooldown flag with its default (true).
func (r RedisConfig) CooldownOn() bool {
	return r.CooldownEnabled == nil || *r.CooldownEnabled
}

// PersistOn resolves the optional persist flag with its default (true).
func (e ExecutionConfig) PersistOn() bool {
	return e.Persist == nil || *e.Persist
}

// BusEnabled resolves the optional messaging flag with its default (true).
func (m MessagingConfig) BusEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}
