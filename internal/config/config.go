// Package config loads imgsearch settings from defaults, an optional
// imgsearch.toml, IMGSEARCH_* environment variables and bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full imgsearch configuration.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Images   ImagesConfig   `mapstructure:"images"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ImagesConfig struct {
	// BaseURL prefixes /images/<filename> references. Empty means
	// root-relative, which the gateway proxies to the backend.
	BaseURL string `mapstructure:"base_url"`
}

type GatewayConfig struct {
	Listen          string        `mapstructure:"listen"`
	GRPCListen      string        `mapstructure:"grpc_listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Limits          []int         `mapstructure:"limits"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Listen:          ":8080",
			GRPCListen:      ":9090",
			ShutdownTimeout: 15 * time.Second,
			Limits:          []int{5, 10, 20},
		},
		Database: DatabaseConfig{
			DSN: "host=postgres user=postgres password=postgres dbname=imgsearch port=5432 sslmode=disable",
		},
		Redis: RedisConfig{Addr: "redis:6379"},
	}
}

// FlagBindings maps config keys to the CLI flags that override them.
var FlagBindings = map[string]string{
	"backend.url":         "backend",
	"backend.timeout":     "timeout",
	"images.base_url":     "image-base",
	"gateway.listen":      "listen",
	"gateway.grpc_listen": "grpc-listen",
	"log.debug":           "debug",
}

// Load resolves the configuration. configFile may be empty, in which case
// imgsearch.toml is looked up in the working directory. Flags present in
// FlagBindings take precedence when they were set.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("imgsearch")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("IMGSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Gateway.Limits) == 0 {
		return nil, errors.New("gateway.limits must offer at least one choice")
	}
	for _, limit := range cfg.Gateway.Limits {
		if limit <= 0 {
			return nil, fmt.Errorf("gateway.limits: %d is not a positive integer", limit)
		}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("images.base_url", d.Images.BaseURL)
	v.SetDefault("gateway.listen", d.Gateway.Listen)
	v.SetDefault("gateway.grpc_listen", d.Gateway.GRPCListen)
	v.SetDefault("gateway.shutdown_timeout", d.Gateway.ShutdownTimeout)
	v.SetDefault("gateway.limits", d.Gateway.Limits)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.jwt_audience", d.Auth.JWTAudience)
	v.SetDefault("log.debug", d.Log.Debug)
}
