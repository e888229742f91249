// Package config loads deal-sync settings from config.yaml and DEALSYNC_*
// environment variables and bootstraps the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/deal-sync/internal/crmsync"
	"github.com/sells-group/deal-sync/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	HubSpot    HubSpotConfig    `yaml:"hubspot" mapstructure:"hubspot"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// HubSpotConfig holds HubSpot API credentials and transport tuning.
type HubSpotConfig struct {
	Token     string        `yaml:"token" mapstructure:"token"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec, 0 disables
	Retry     RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures retries of transient HubSpot failures. One attempt
// means no retry.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the HubSpot circuit breaker. A threshold of 0
// disables it.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SyncConfig tunes the deal sync.
type SyncConfig struct {
	PipelineID     string             `yaml:"pipeline_id" mapstructure:"pipeline_id"`
	PageSize       int                `yaml:"page_size" mapstructure:"page_size"`
	MaxPages       int                `yaml:"max_pages" mapstructure:"max_pages"`
	ChunkSize      int                `yaml:"chunk_size" mapstructure:"chunk_size"`
	StageRules     crmsync.StageRules `yaml:"stage_rules" mapstructure:"stage_rules"`
	StageRulesFile string             `yaml:"stage_rules_file" mapstructure:"stage_rules_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures sync health checks and alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	FailedDealsThreshold int     `yaml:"failed_deals_threshold" mapstructure:"failed_deals_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("hubspot.token", "")
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.rate_limit", 10)
	v.SetDefault("hubspot.retry.max_attempts", 1)
	v.SetDefault("hubspot.retry.initial_backoff_ms", 500)
	v.SetDefault("hubspot.retry.max_backoff_ms", 30000)
	v.SetDefault("hubspot.circuit.failure_threshold", 5)
	v.SetDefault("hubspot.circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deal-sync.db")
	v.SetDefault("sync.pipeline_id", "")
	v.SetDefault("sync.page_size", crmsync.DefaultPageSize)
	v.SetDefault("sync.max_pages", crmsync.DefaultMaxPages)
	v.SetDefault("sync.chunk_size", crmsync.DefaultChunkSize)
	v.SetDefault("sync.stage_rules_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 24)
	v.SetDefault("monitoring.failed_deals_threshold", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "hubspot"
// (CRM access only), "store" (database only), "sync" and "serve" (both).
func (c *Config) Validate(mode string) error {
	var errs []string

	needHubSpot, needStore := false, false
	switch mode {
	case "hubspot":
		needHubSpot = true
	case "store":
		needStore = true
	case "sync":
		needHubSpot, needStore = true, true
	case "serve":
		needHubSpot, needStore = true, true
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Monitoring.Enabled && (c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1) {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needHubSpot {
		if c.HubSpot.Token == "" {
			errs = append(errs, "hubspot.token is required")
		}
		if c.HubSpot.RateLimit < 0 {
			errs = append(errs, "hubspot.rate_limit must be >= 0")
		}
		if c.HubSpot.Retry.MaxAttempts < 0 {
			errs = append(errs, "hubspot.retry.max_attempts must be >= 0")
		}
		if c.Sync.PageSize < 0 || c.Sync.PageSize > crmsync.DefaultPageSize {
			errs = append(errs, "sync.page_size must be between 0 and 100")
		}
		if c.Sync.MaxPages < 0 {
			errs = append(errs, "sync.max_pages must be >= 0")
		}
		if c.Sync.ChunkSize < 0 || c.Sync.ChunkSize > 50 {
			errs = append(errs, "sync.chunk_size must be between 0 and 50")
		}
		if len(c.Sync.StageRules) > 0 {
			if err := c.Sync.StageRules.Validate(); err != nil {
				errs = append(errs, "sync.stage_rules: "+err.Error())
			}
		}
	}

	if needStore {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for postgres")
			}
		case "sqlite", "":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadStageRules returns the configured stage rules: the rules file when
// set, else inline rules, else nil (the built-in defaults).
func (c SyncConfig) LoadStageRules() (crmsync.StageRules, error) {
	if c.StageRulesFile != "" {
		return crmsync.LoadStageRules(c.StageRulesFile)
	}
	if len(c.StageRules) == 0 {
		return nil, nil
	}
	if err := c.StageRules.Validate(); err != nil {
		return nil, err
	}
	return c.StageRules, nil
}

// RetryPolicy converts the retry settings for the HubSpot client.
func (h HubSpotConfig) RetryPolicy() resilience.RetryConfig {
	return resilience.FromRetryConfig(h.Retry.MaxAttempts, h.Retry.InitialBackoffMs, h.Retry.MaxBackoffMs)
}

// CircuitPolicy converts the breaker settings. ok is false when the breaker
// is disabled.
func (h HubSpotConfig) CircuitPolicy() (resilience.CircuitBreakerConfig, bool) {
	return resilience.FromCircuitConfig(h.Circuit.FailureThreshold, h.Circuit.ResetTimeoutSecs)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
