// Package config loads application configuration from config.yaml and
// ENRICHER_* environment variables, and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	RPS           int    `yaml:"rps" mapstructure:"rps"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	RPS     int    `yaml:"rps" mapstructure:"rps"`
}

// AnthropicConfig holds Anthropic API settings for claim extraction.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SchedulerConfig holds per-provider scheduling defaults. Individual
// providers may override via the providers map.
type SchedulerConfig struct {
	MaxCallsPerMinute int     `yaml:"max_calls_per_minute" mapstructure:"max_calls_per_minute"`
	BurstMax          int     `yaml:"burst_max" mapstructure:"burst_max"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxAdmissionSecs  int     `yaml:"max_admission_secs" mapstructure:"max_admission_secs"`
	FailureThreshold  int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoverySecs      int     `yaml:"recovery_secs" mapstructure:"recovery_secs"`
	BudgetCredits     float64 `yaml:"budget_credits" mapstructure:"budget_credits"`
	BudgetReserve     float64 `yaml:"budget_reserve" mapstructure:"budget_reserve"`
}

// RetryConfig shapes item-level retry policy.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelaySecs int `yaml:"base_delay_secs" mapstructure:"base_delay_secs"`
	MaxDelaySecs  int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	ScanSecs      int `yaml:"scan_secs" mapstructure:"scan_secs"`
}

// QualityConfig points at the quality gate policy file.
type QualityConfig struct {
	Policy     string `yaml:"policy" mapstructure:"policy"`
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// MonitoringConfig configures health probing and alert delivery.
type MonitoringConfig struct {
	ProbeIntervalSecs int    `yaml:"probe_interval_secs" mapstructure:"probe_interval_secs"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ScanInterval converts the retry scan setting to a duration.
func (r RetryConfig) ScanInterval() time.Duration {
	if r.ScanSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.ScanSecs) * time.Second
}

// Load reads config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enricher.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.rps", 3)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("firecrawl.rps", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("scheduler.max_calls_per_minute", 60)
	v.SetDefault("scheduler.burst_max", 5)
	v.SetDefault("scheduler.timeout_secs", 30)
	v.SetDefault("scheduler.max_retries", 2)
	v.SetDefault("scheduler.max_admission_secs", 10)
	v.SetDefault("scheduler.failure_threshold", 5)
	v.SetDefault("scheduler.recovery_secs", 30)
	v.SetDefault("scheduler.budget_credits", 1000)
	v.SetDefault("scheduler.budget_reserve", 50)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_secs", 60)
	v.SetDefault("retry.max_delay_secs", 1800)
	v.SetDefault("retry.scan_secs", 30)
	v.SetDefault("quality.policy", "lenient")
	v.SetDefault("monitoring.probe_interval_secs", 30)

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

// InitLogger builds the global zap logger from the log config.
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
