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
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SourceConfig describes the listings site being harvested.
type SourceConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// PerPage is the pp= query value; the site serves up to 50 per page.
	PerPage int `yaml:"per_page" mapstructure:"per_page"`
	// SurveyParam is the constant p= value the site requires alongside
	// page= pagination.
	SurveyParam string `yaml:"survey_param" mapstructure:"survey_param"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ScrapeConfig configures the parallel fetch stage.
type ScrapeConfig struct {
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	MaxPages          int     `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CaptureFile       string  `yaml:"capture_file" mapstructure:"capture_file"`
	FlushEveryRecords int     `yaml:"flush_every_records" mapstructure:"flush_every_records"`
}

// NormalizeConfig configures the normalization stage.
type NormalizeConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	OutputFile  string `yaml:"output_file" mapstructure:"output_file"`
}

// AnthropicConfig holds Anthropic API settings for the classifier.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CacheConfig configures the durable normalization cache.
type CacheConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the HTTP serving layer.
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

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.base_url", "https://www.thegradcafe.com/survey/index.php")
	v.SetDefault("source.per_page", 50)
	v.SetDefault("source.survey_param", "52")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (compatible; AdmitDataHarvester/1.0)")
	v.SetDefault("scrape.workers", 4)
	v.SetDefault("scrape.max_pages", 600)
	v.SetDefault("scrape.timeout_secs", 12)
	v.SetDefault("scrape.max_retries", 4)
	v.SetDefault("scrape.rate_per_sec", 4.0)
	v.SetDefault("scrape.capture_file", "applicant_data.json")
	v.SetDefault("scrape.flush_every_records", 10)
	v.SetDefault("normalize.concurrency", 2)
	v.SetDefault("normalize.timeout_secs", 60)
	v.SetDefault("normalize.max_retries", 3)
	v.SetDefault("normalize.output_file", "normalized_applicant_data.json")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("cache.path", "normalize_cache.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.batch_size", 500)
	v.SetDefault("server.port", 8080)
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
