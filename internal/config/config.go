// Package config loads service configuration from config.yaml plus
// POLICYLENS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Redis        RedisConfig        `mapstructure:"redis"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
	Degradation  DegradationConfig  `mapstructure:"degradation"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	ForceAnalyze ForceAnalyzeConfig `mapstructure:"force_analyze"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode"`
	// EnableAPI / EnableWorker let a deployment run API-only or
	// worker-only processes against the shared broker.
	EnableAPI    bool `mapstructure:"enable_api"`
	EnableWorker bool `mapstructure:"enable_worker"`
}

type LogConfig struct {
	Level           string `mapstructure:"level"`
	Format          string `mapstructure:"format"`
	Caller          bool   `mapstructure:"caller"`
	StacktraceLevel string `mapstructure:"stacktrace_level"`
	ToStdout        bool   `mapstructure:"to_stdout"`
	ToFile          bool   `mapstructure:"to_file"`
	FilePath        string `mapstructure:"file_path"`
	MaxSizeMB       int    `mapstructure:"max_size_mb"`
	MaxBackups      int    `mapstructure:"max_backups"`
	MaxAgeDays      int    `mapstructure:"max_age_days"`
	Compress        bool   `mapstructure:"compress"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type DegradationConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type QuotaConfig struct {
	DailyTokens    int64 `mapstructure:"daily_tokens"`
	DailyRequests  int64 `mapstructure:"daily_requests"`
	HourlyTokens   int64 `mapstructure:"hourly_tokens"`
	HourlyRequests int64 `mapstructure:"hourly_requests"`
	// Warning thresholds as fractions of the limit. Crossing them logs,
	// never denies.
	WarnThreshold     float64 `mapstructure:"warn_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
}

type ProviderCredentials struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type ProvidersConfig struct {
	Primary           string              `mapstructure:"primary"`
	BlacklistDuration time.Duration       `mapstructure:"blacklist_duration"`
	CallTimeout       time.Duration       `mapstructure:"call_timeout"`
	OpenAI            ProviderCredentials `mapstructure:"openai"`
	Gemini            ProviderCredentials `mapstructure:"gemini"`
}

type PipelineConfig struct {
	// RegenerationThreshold is the compliance ratio (0-100) below which the
	// regenerate stage runs.
	RegenerationThreshold float64 `mapstructure:"regeneration_threshold"`
	// Uncertainty band (0-1, exclusive) in which the rule verdict defers to
	// the LLM match guard stage.
	UncertaintyLow  float64 `mapstructure:"uncertainty_low"`
	UncertaintyHigh float64 `mapstructure:"uncertainty_high"`
}

type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	SoftTimeLimit time.Duration `mapstructure:"soft_time_limit"`
	HardTimeLimit time.Duration `mapstructure:"hard_time_limit"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

type ForceAnalyzeConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Load reads configuration from path (or ./config.yaml when empty), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("POLICYLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Defaults plus environment are a complete configuration.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.enable_api", true)
	v.SetDefault("server.enable_worker", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.caller", true)
	v.SetDefault("log.stacktrace_level", "error")
	v.SetDefault("log.to_stdout", true)
	v.SetDefault("log.to_file", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allow_credentials", false)

	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("degradation.ttl", "168h")

	v.SetDefault("quota.daily_tokens", 1_000_000)
	v.SetDefault("quota.daily_requests", 1_000)
	v.SetDefault("quota.warn_threshold", 0.75)
	v.SetDefault("quota.critical_threshold", 0.90)

	v.SetDefault("providers.primary", domain.ProviderOpenAI)
	v.SetDefault("providers.blacklist_duration", "5m")
	v.SetDefault("providers.call_timeout", "120s")
	v.SetDefault("providers.openai.enabled", true)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.gemini.enabled", true)
	v.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("providers.gemini.model", "gemini-2.0-flash")

	v.SetDefault("pipeline.regeneration_threshold", 95)
	v.SetDefault("pipeline.uncertainty_low", 0.30)
	v.SetDefault("pipeline.uncertainty_high", 0.70)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.soft_time_limit", "540s")
	v.SetDefault("worker.hard_time_limit", "600s")
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_backoff", "60s")

	v.SetDefault("force_analyze.limit", 3)
	v.SetDefault("force_analyze.window", "1h")
}

// applyDerived fills values whose defaults depend on other settings.
func (c *Config) applyDerived() {
	if c.Quota.HourlyTokens <= 0 {
		c.Quota.HourlyTokens = c.Quota.DailyTokens / 24
	}
	if c.Quota.HourlyRequests <= 0 {
		c.Quota.HourlyRequests = c.Quota.DailyRequests / 24
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if !c.Server.EnableAPI && !c.Server.EnableWorker {
		return fmt.Errorf("config: at least one of server.enable_api, server.enable_worker must be set")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("config: idempotency.ttl must be positive")
	}
	if c.Degradation.TTL <= 0 {
		return fmt.Errorf("config: degradation.ttl must be positive")
	}
	if c.Quota.DailyTokens <= 0 || c.Quota.DailyRequests <= 0 {
		return fmt.Errorf("config: quota daily limits must be positive")
	}
	switch c.Providers.Primary {
	case domain.ProviderOpenAI, domain.ProviderGemini:
	default:
		return fmt.Errorf("config: unknown providers.primary %q", c.Providers.Primary)
	}
	if c.Pipeline.UncertaintyLow < 0 || c.Pipeline.UncertaintyHigh > 1 ||
		c.Pipeline.UncertaintyLow >= c.Pipeline.UncertaintyHigh {
		return fmt.Errorf("config: pipeline uncertainty band [%v, %v] is invalid",
			c.Pipeline.UncertaintyLow, c.Pipeline.UncertaintyHigh)
	}
	if c.Pipeline.RegenerationThreshold < 0 || c.Pipeline.RegenerationThreshold > 100 {
		return fmt.Errorf("config: pipeline.regeneration_threshold must be within [0, 100]")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: worker.concurrency must be positive")
	}
	if c.Worker.HardTimeLimit <= c.Worker.SoftTimeLimit {
		return fmt.Errorf("config: worker.hard_time_limit must exceed worker.soft_time_limit")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("config: worker.max_retries must not be negative")
	}
	if c.ForceAnalyze.Limit <= 0 || c.ForceAnalyze.Window <= 0 {
		return fmt.Errorf("config: force_analyze limit and window must be positive")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
