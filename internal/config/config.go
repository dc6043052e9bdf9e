// Package config loads application configuration from file and environment
// and owns the global logger setup.
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
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Portal PortalConfig `yaml:"portal" mapstructure:"portal"`
	Pull   PullConfig   `yaml:"pull" mapstructure:"pull"`
	Alert  AlertConfig  `yaml:"alert" mapstructure:"alert"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SQLitePath is the database file used when driver is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PortalConfig holds analytics-portal credentials and client tuning.
type PortalConfig struct {
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	Email               string `yaml:"email" mapstructure:"email"`
	Password            string `yaml:"password" mapstructure:"password"`
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DownloadTimeoutSecs int    `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	MaxRetries          int    `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec      int    `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// Timeout returns the page-request timeout.
func (c PortalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// DownloadTimeout returns the export-download timeout. Exports for large
// markets take far longer than ordinary page loads.
func (c PortalConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSecs) * time.Second
}

// PullConfig configures the pull run loop.
type PullConfig struct {
	Days            int    `yaml:"days" mapstructure:"days"`
	InterMarketSecs int    `yaml:"inter_market_secs" mapstructure:"inter_market_secs"`
	MarketsFile     string `yaml:"markets_file" mapstructure:"markets_file"`
}

// InterMarketDelay returns the pause between consecutive market pulls.
func (c PullConfig) InterMarketDelay() time.Duration {
	return time.Duration(c.InterMarketSecs) * time.Second
}

// AlertConfig configures Slack webhook alerting.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the webhook server.
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
	v.SetEnvPrefix("RANKINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "rankings.db")
	v.SetDefault("portal.base_url", "https://portal.scaleinsights.com")
	v.SetDefault("portal.timeout_secs", 30)
	v.SetDefault("portal.download_timeout_secs", 120)
	v.SetDefault("portal.max_retries", 3)
	v.SetDefault("portal.requests_per_sec", 2)
	v.SetDefault("pull.days", 7)
	v.SetDefault("pull.inter_market_secs", 5)
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
