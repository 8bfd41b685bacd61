package config

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Source SourceConfig `yaml:"source" mapstructure:"source"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Sweep  SweepConfig  `yaml:"sweep" mapstructure:"sweep"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the key-value store backends.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	MaxConns        int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns        int32  `yaml:"min_conns" mapstructure:"min_conns"`
	LocalDisabled   bool   `yaml:"local_disabled" mapstructure:"local_disabled"`
	SessionDisabled bool   `yaml:"session_disabled" mapstructure:"session_disabled"`
}

// SourceConfig configures where POIs are loaded from.
type SourceConfig struct {
	Paths       []string      `yaml:"paths" mapstructure:"paths"`
	Sheet       string        `yaml:"sheet" mapstructure:"sheet"`
	CacheTTL    time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SweepConfig configures the expired-entry sweeper. An empty schedule disables it.
type SweepConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
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
	v.SetEnvPrefix("POIMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "poimap.db")
	v.SetDefault("store.prefix", "kueccha:")
	v.SetDefault("store.local_disabled", false)
	v.SetDefault("store.session_disabled", false)
	v.SetDefault("source.paths", []string{})
	v.SetDefault("source.sheet", "")
	v.SetDefault("source.cache_ttl", "1h")
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.concurrency", 4)
	v.SetDefault("source.user_agent", "poimap/1.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("sweep.schedule", "@every 10m")

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "filter":
		if len(c.Source.Paths) == 0 {
			missing = append(missing, "source.paths")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port must be > 0 and <= 65535, got %d", c.Server.Port)
		}
		if c.Sweep.Schedule != "" {
			if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
				return eris.Wrapf(err, "config: invalid sweep.schedule %q", c.Sweep.Schedule)
			}
		}
	case "kv":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" || mode == "kv" {
		switch c.Store.Driver {
		case "memory":
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url")
			}
		default:
			return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
		}
	}
	if c.Source.MaxRetries < 0 {
		return eris.Errorf("config: source.max_retries must be >= 0, got %d", c.Source.MaxRetries)
	}
	if c.Source.Concurrency < 0 {
		return eris.Errorf("config: source.concurrency must be >= 0, got %d", c.Source.Concurrency)
	}
	if c.Source.CacheTTL < 0 {
		return eris.Errorf("config: source.cache_ttl must be >= 0, got %s", c.Source.CacheTTL)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
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
