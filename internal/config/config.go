// Package config loads server and tooling configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server and tools
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Map       MapConfig       `mapstructure:"map"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	StaticDir       string        `mapstructure:"static_dir"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the SQL driver and DSN
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig configures the response cache. Empty RedisAddr means in-memory.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// AuthConfig configures admin tokens
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// IngestConfig points at the external source datasets
type IngestConfig struct {
	SubzonesURL   string        `mapstructure:"subzones_url"`
	PopulationURL string        `mapstructure:"population_url"`
	ScoresURL     string        `mapstructure:"scores_url"`
	UseBrowser    bool          `mapstructure:"use_browser"`
	Headless      bool          `mapstructure:"headless"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// MapConfig holds map provider settings exposed to the page
type MapConfig struct {
	Token         string `mapstructure:"token"`
	ProviderStyle string `mapstructure:"provider_style"`
	OpenStyle     string `mapstructure:"open_style"`
}

// RateLimitConfig limits admin refresh calls
type RateLimitConfig struct {
	RefreshPerMinute float64 `mapstructure:"refresh_per_minute"`
	RefreshBurst     int     `mapstructure:"refresh_burst"`
}

// LoggingConfig holds zap settings
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Load reads configuration from defaults, an optional YAML file and HAWKER_*
// environment variables. A .env file is loaded first outside production.
func Load(configPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hawker-score/")
	}

	v.SetEnvPrefix("HAWKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Map tokens are commonly provided without the prefix
	_ = v.BindEnv("map.token", "HAWKER_MAP_TOKEN", "MAPBOX_TOKEN")
	_ = v.BindEnv("app_env", "HAWKER_APP_ENV", "APP_ENV")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "web/static")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/hawker-score.db")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("ingest.subzones_url", "")
	v.SetDefault("ingest.population_url", "")
	v.SetDefault("ingest.scores_url", "")
	v.SetDefault("ingest.use_browser", false)
	v.SetDefault("ingest.headless", true)
	v.SetDefault("ingest.timeout", "60s")

	v.SetDefault("map.token", "")
	v.SetDefault("map.provider_style", "mapbox://styles/mapbox/light-v11")
	v.SetDefault("map.open_style", "https://demotiles.maplibre.org/style.json")

	v.SetDefault("rate_limit.refresh_per_minute", 6.0)
	v.SetDefault("rate_limit.refresh_burst", 2)

	v.SetDefault("logging.mode", "development")
	v.SetDefault("logging.level", "info")
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}
	if c.AppEnv == "production" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth jwt_secret must be at least 16 characters in production")
	}
	if c.RateLimit.RefreshPerMinute <= 0 || c.RateLimit.RefreshBurst <= 0 {
		return fmt.Errorf("refresh rate limit must be positive")
	}
	return nil
}
