// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the evidence store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ArchiveConfig configures the archival search API client.
type ArchiveConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	Key           string  `yaml:"key" mapstructure:"key"`
	Category      string  `yaml:"category" mapstructure:"category"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// CompletionConfig configures the completion service. An empty key is valid:
// synthesis then always takes the deterministic fallback.
type CompletionConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures the research pipeline.
type PipelineConfig struct {
	MaxPages          int     `yaml:"max_pages" mapstructure:"max_pages"`
	ImmediateMaxPages int     `yaml:"immediate_max_pages" mapstructure:"immediate_max_pages"`
	PageSize          int     `yaml:"page_size" mapstructure:"page_size"`
	MaxConcurrentJobs int64   `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	TopSources        int     `yaml:"top_sources" mapstructure:"top_sources"`
	MinRelevance      float64 `yaml:"min_relevance" mapstructure:"min_relevance"`
	CacheTTLSecs      int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	MaxQuotes         int     `yaml:"max_quotes" mapstructure:"max_quotes"`
	MaxQuoteLen       int     `yaml:"max_quote_len" mapstructure:"max_quote_len"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "trove-research.db")
	v.SetDefault("archive.base_url", "https://api.trove.nla.gov.au/v3")
	v.SetDefault("archive.category", "newspaper")
	v.SetDefault("archive.timeout_secs", 20)
	v.SetDefault("archive.rate_per_second", 2.0)
	v.SetDefault("completion.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("completion.max_tokens", 4096)
	v.SetDefault("pipeline.max_pages", 10)
	v.SetDefault("pipeline.immediate_max_pages", 2)
	v.SetDefault("pipeline.page_size", 50)
	v.SetDefault("pipeline.max_concurrent_jobs", 4)
	v.SetDefault("pipeline.top_sources", 12)
	v.SetDefault("pipeline.min_relevance", 0.05)
	v.SetDefault("pipeline.cache_ttl_secs", 300)
	v.SetDefault("pipeline.max_quotes", 2)
	v.SetDefault("pipeline.max_quote_len", 240)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
