package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds"`
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`
}

// ResearchConfig holds the orchestration policy knobs.
type ResearchConfig struct {
	// MaxPhases bounds the decompose/answer/validate loop. Validation is
	// always skipped on the final allowed phase.
	MaxPhases            int `mapstructure:"max_phases"`
	DefaultQuestionCount int `mapstructure:"default_question_count"`
	AutoQuestionMin      int `mapstructure:"auto_question_min"`
	AutoQuestionMax      int `mapstructure:"auto_question_max"`
}

// UpstreamConfig holds the transport settings for the two upstream services.
type UpstreamConfig struct {
	ReasoningBaseURL string `mapstructure:"reasoning_base_url"`
	AnsweringBaseURL string `mapstructure:"answering_base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// RateLimitConfig holds request rate limiting settings.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// ModelsConfig points at the model catalog and its defaults.
type ModelsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
	HotReload   bool   `mapstructure:"hot_reload"`
}

// Credentials carries the resolved upstream API keys. Keys come from the
// environment only and are passed to adapters at construction time; there is
// no process-wide credential state.
type Credentials struct {
	ReasoningAPIKey string
	AnsweringAPIKey string
}

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Research    ResearchConfig  `mapstructure:"research"`
	Upstream    UpstreamConfig  `mapstructure:"upstream"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Models      ModelsConfig    `mapstructure:"models"`
	RedisURL    string          `mapstructure:"redis_url"`
	Credentials Credentials     `mapstructure:"-"`
}

// Load reads configuration from CONFIG_PATH (default config/deepresearch.yaml)
// when present, applies defaults, then environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 300)
	v.SetDefault("research.max_phases", 2)
	v.SetDefault("research.default_question_count", 5)
	v.SetDefault("research.auto_question_min", 3)
	v.SetDefault("research.auto_question_max", 8)
	v.SetDefault("upstream.reasoning_base_url", "https://api.openai.com/v1")
	v.SetDefault("upstream.answering_base_url", "https://api.perplexity.ai")
	v.SetDefault("upstream.timeout_seconds", 180)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("models.catalog_path", "config/models.yaml")
	v.SetDefault("models.hot_reload", true)
	v.SetDefault("redis_url", "")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/deepresearch.yaml"
	}
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	cfg.Credentials = Credentials{
		ReasoningAPIKey: os.Getenv("OPENAI_API_KEY"),
		AnsweringAPIKey: os.Getenv("PERPLEXITY_API_KEY"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if p := envInt("PORT"); p > 0 {
		cfg.Server.Port = p
	}
	if p := envInt("RESEARCH_MAX_PHASES"); p > 0 {
		cfg.Research.MaxPhases = p
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("MODELS_CATALOG_PATH"); v != "" {
		cfg.Models.CatalogPath = v
	}
	if v := os.Getenv("REASONING_BASE_URL"); v != "" {
		cfg.Upstream.ReasoningBaseURL = v
	}
	if v := os.Getenv("ANSWERING_BASE_URL"); v != "" {
		cfg.Upstream.AnsweringBaseURL = v
	}
}

func (c *Config) validate() error {
	if c.Research.MaxPhases < 1 {
		return fmt.Errorf("research.max_phases must be >= 1, got %d", c.Research.MaxPhases)
	}
	if c.Research.AutoQuestionMin < 1 || c.Research.AutoQuestionMax < c.Research.AutoQuestionMin {
		return fmt.Errorf("invalid auto question range [%d, %d]",
			c.Research.AutoQuestionMin, c.Research.AutoQuestionMax)
	}
	if c.Research.DefaultQuestionCount < 1 {
		return fmt.Errorf("research.default_question_count must be >= 1, got %d",
			c.Research.DefaultQuestionCount)
	}
	return nil
}

func envInt(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
