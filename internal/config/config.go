// Package config holds the chat server's runtime settings: defaults, YAML
// file loading, environment overrides and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type RateLimitConfig struct {
	// PerSecond is the sustained chat message rate per session. Zero
	// disables limiting.
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type Config struct {
	Addr          string          `yaml:"addr"`
	MetricsAddr   string          `yaml:"metrics_addr"`
	ServerName    string          `yaml:"server_name"`
	AdminName     string          `yaml:"admin_name"`
	QueueCapacity int             `yaml:"queue_capacity"`
	SubmitTimeout time.Duration   `yaml:"submit_timeout"`
	WriteTimeout  time.Duration   `yaml:"write_timeout"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
}

func Default() Config {
	return Config{
		Addr:          ":8111",
		MetricsAddr:   ":9090",
		ServerName:    "ChatServer",
		AdminName:     "Admin",
		QueueCapacity: 10,
		SubmitTimeout: time.Second,
		WriteTimeout:  5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file on top of the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("yaml decode %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CHAT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CHAT_ADDR"); v != "" {
		c.Addr = v
	}
	if v, ok := os.LookupEnv("CHAT_METRICS_ADDR"); ok {
		c.MetricsAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHAT_ADMIN"); v != "" {
		c.AdminName = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.AdminName == "" || len(c.AdminName) > 31 {
		errs = append(errs, fmt.Errorf("admin_name must be 1..31 bytes, got %q", c.AdminName))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity))
	}
	if c.SubmitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("submit_timeout must be positive, got %s", c.SubmitTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write_timeout must not be negative, got %s", c.WriteTimeout))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_second must not be negative, got %v", c.RateLimit.PerSecond))
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be positive when rate limiting is enabled"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
