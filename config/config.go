// Package config loads the process configuration of an actio node from YAML,
// with ACTIO_* environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node      NodeConfig        `yaml:"node"`
	Addresses map[string]string `yaml:"addresses"`
	// EnvAddresses also reads addresses from variables named after the class.
	EnvAddresses bool         `yaml:"envAddresses"`
	Redis        RedisConfig  `yaml:"redis"`
	Server       ServerConfig `yaml:"server"`
	Wait         WaitConfig   `yaml:"wait"`
	Log          LogConfig    `yaml:"log"`
	// RemoteTimeout bounds each remote call. Zero means no timeout.
	RemoteTimeout time.Duration `yaml:"remoteTimeout"`
}

type NodeConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Listen  string `yaml:"listen"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"poolSize"`
	MinIdleConns int    `yaml:"minIdleConns"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type ServerConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
	RateLimit      float64  `yaml:"rateLimit"`
	RateBurst      int      `yaml:"rateBurst"`
	MaxBodyBytes   int64    `yaml:"maxBodyBytes"`
	Metrics        bool     `yaml:"metrics"`
}

type WaitConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Multiplier float64       `yaml:"multiplier"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Listen: ":8080",
		},
		Addresses: map[string]string{},
		Server: ServerConfig{
			Metrics: true,
		},
		Wait: WaitConfig{
			Initial:    50 * time.Millisecond,
			Multiplier: 1.1,
			Timeout:    3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return cfg, err
		}
	}
	ApplyEnvOverrides(&cfg, os.Getenv)
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Addresses == nil {
		cfg.Addresses = map[string]string{}
	}
	return cfg, nil
}

// ApplyEnvOverrides applies ACTIO_* variables looked up with getenv.
// ACTIO_ADDRESSES is a comma separated list of Class=url pairs merged into
// the address table.
func ApplyEnvOverrides(cfg *Config, getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	str("ACTIO_NODE_ID", &cfg.Node.ID)
	str("ACTIO_SELF_ADDRESS", &cfg.Node.Address)
	str("ACTIO_LISTEN", &cfg.Node.Listen)
	str("ACTIO_REDIS_ADDR", &cfg.Redis.Addr)
	str("ACTIO_REDIS_PASSWORD", &cfg.Redis.Password)
	str("ACTIO_LOG_LEVEL", &cfg.Log.Level)
	str("ACTIO_LOG_FORMAT", &cfg.Log.Format)

	if raw := strings.TrimSpace(getenv("ACTIO_ENV_ADDRESSES")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.EnvAddresses = v
		}
	}
	if raw := strings.TrimSpace(getenv("ACTIO_RATE_LIMIT")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Server.RateLimit = v
		}
	}
	if raw := strings.TrimSpace(getenv("ACTIO_REMOTE_TIMEOUT")); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			cfg.RemoteTimeout = v
		}
	}
	if raw := strings.TrimSpace(getenv("ACTIO_ADDRESSES")); raw != "" {
		if cfg.Addresses == nil {
			cfg.Addresses = map[string]string{}
		}
		for _, pair := range strings.Split(raw, ",") {
			class, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || class == "" || url == "" {
				continue
			}
			cfg.Addresses[strings.TrimSpace(class)] = strings.TrimSpace(url)
		}
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Node.Listen == "" {
		errs = append(errs, errors.New("node.listen is required"))
	}
	if c.Wait.Multiplier != 0 && c.Wait.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("wait.multiplier must be at least 1, got %v", c.Wait.Multiplier))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rateLimit cannot be negative, got %v", c.Server.RateLimit))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	for class, url := range c.Addresses {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			errs = append(errs, fmt.Errorf("address of %s must be an http(s) URL, got %q", class, url))
		}
	}
	return errors.Join(errs...)
}

// Logger builds the slog logger described by the log section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
