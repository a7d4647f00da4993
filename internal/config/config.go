// Package config loads SipStop settings with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration tree for both binaries.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Client     ClientConfig     `mapstructure:"client"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type StorageConfig struct {
	UsersFile    string `mapstructure:"users_file"`
	ProductsFile string `mapstructure:"products_file"`
	OrdersFile   string `mapstructure:"orders_file"`
}

type MonitoringConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Endpoint      string        `mapstructure:"endpoint"`
	Fallback      bool          `mapstructure:"fallback"`
	FallbackLog   string        `mapstructure:"fallback_log"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PeriodicCheck time.Duration `mapstructure:"periodic_check"`
}

// ClientConfig drives the storefront client's remote calls.
type ClientConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	SeedProducts  string        `mapstructure:"seed_products"`
	SeedUsers     string        `mapstructure:"seed_users"`
}

// CacheConfig selects the client's local durable cache.
type CacheConfig struct {
	Dir       string `mapstructure:"dir"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("storage.users_file", "data/users.json")
	v.SetDefault("storage.products_file", "data/products.json")
	v.SetDefault("storage.orders_file", "data/orders.json")

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.addr", ":9090")
	v.SetDefault("monitoring.endpoint", "/metrics")
	v.SetDefault("monitoring.fallback", true)
	v.SetDefault("monitoring.fallback_log", "logs/metrics.log")
	v.SetDefault("monitoring.buffer_size", 1000)
	v.SetDefault("monitoring.flush_interval", "30s")
	v.SetDefault("monitoring.periodic_check", "30s")

	v.SetDefault("client.base_url", "http://localhost:3000/api")
	v.SetDefault("client.timeout", "10s")
	v.SetDefault("client.retries", 2)
	v.SetDefault("client.retry_interval", "1s")
	v.SetDefault("client.seed_products", "data/products.json")
	v.SetDefault("client.seed_users", "data/users.json")

	v.SetDefault("cache.dir", ".sipstop")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "sipstop")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configs/config.yaml (or file when set), applies SIPSTOP_*
// environment overrides and returns the typed config. A missing file is not
// an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SIPSTOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the binaries cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Client.Retries < 0 {
		return fmt.Errorf("client.retries must not be negative")
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	return nil
}
