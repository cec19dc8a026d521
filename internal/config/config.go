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
	Catastro CatastroConfig `yaml:"catastro" mapstructure:"catastro"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CatastroConfig holds the upstream endpoint templates. Each template takes
// the canonical reference as its only %s verb.
type CatastroConfig struct {
	RESTURL        string `yaml:"rest_url" mapstructure:"rest_url"`
	LegacyURL      string `yaml:"legacy_url" mapstructure:"legacy_url"`
	CoordinatesURL string `yaml:"coordinates_url" mapstructure:"coordinates_url"`
	DedupeInflight bool   `yaml:"dedupe_inflight" mapstructure:"dedupe_inflight"`
}

// HTTPConfig configures the upstream transport.
type HTTPConfig struct {
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
	ConnectTimeoutSecs int     `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	Jitter             float64 `yaml:"jitter" mapstructure:"jitter"`
	VerifySSL          bool    `yaml:"verify_ssl" mapstructure:"verify_ssl"`
	RateLimit          float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ConnectTimeout returns the dial timeout as a duration.
func (h HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(h.ConnectTimeoutSecs) * time.Second
}

// Timeout returns the per-attempt timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSecs) * time.Second
}

// CacheConfig toggles the lookup cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the freshness window as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StoreConfig configures the cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("CATASTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("catastro.rest_url", "https://ovc.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCallejero.svc/rest/Consulta_DNPRC?RC=%s")
	v.SetDefault("catastro.legacy_url", "https://ovc.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCallejero.asmx/Consulta_DNPRC?ReferenciaCatastral=%s")
	v.SetDefault("catastro.coordinates_url", "https://ovc.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCoordenadas.asmx/Consulta_RCCOOR?SRS=EPSG:4326&RC=%s")
	v.SetDefault("catastro.dedupe_inflight", false)
	v.SetDefault("http.user_agent", "SistemaCatastralHogarFamiliar/1.0")
	v.SetDefault("http.connect_timeout_secs", 10)
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.initial_backoff_ms", 1000)
	v.SetDefault("http.jitter", 0.0)
	v.SetDefault("http.verify_ssl", true)
	v.SetDefault("http.rate_limit", 0.0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl_seconds", 2592000)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catastro.db")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "lookup", "serve", "migrate", "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "lookup" || mode == "serve" {
		for key, tpl := range map[string]string{
			"catastro.rest_url":        c.Catastro.RESTURL,
			"catastro.legacy_url":      c.Catastro.LegacyURL,
			"catastro.coordinates_url": c.Catastro.CoordinatesURL,
		} {
			if strings.Count(tpl, "%s") != 1 {
				problems = append(problems, key+" must contain exactly one %s")
			}
		}
		if c.HTTP.MaxRetries < 0 || c.HTTP.MaxRetries > 10 {
			problems = append(problems, "http.max_retries must be between 0 and 10")
		}
		if c.HTTP.TimeoutSecs <= 0 {
			problems = append(problems, "http.timeout_secs must be > 0")
		}
		if c.HTTP.Jitter < 0 || c.HTTP.Jitter > 1 {
			problems = append(problems, "http.jitter must be between 0 and 1")
		}
		if c.Cache.Enabled && c.Cache.TTLSeconds <= 0 {
			problems = append(problems, "cache.ttl_seconds must be > 0 when the cache is enabled")
		}
	}

	if c.Cache.Enabled || mode == "migrate" || mode == "cache" {
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		case "redis":
			if c.Redis.URL == "" {
				problems = append(problems, "redis.url is required")
			}
		default:
			problems = append(problems, "store.driver must be one of sqlite, postgres, redis")
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be > 0 and <= 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
