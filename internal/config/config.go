package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/iptvmine/internal/models"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application configuration.
type Config struct {
	ServerPort     string        `yaml:"server_port"`
	UserAgent      string        `yaml:"user_agent"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`

	// Sources seeds the source store when it has never been configured.
	Sources     []string `yaml:"sources"`
	SourcesFile string   `yaml:"sources_file"`
	// DatabaseURL switches the source store to Postgres.
	DatabaseURL string `yaml:"database_url"`
	// RedisURL enables the source cache, Redis cooldowns, the distributed
	// monitor lock and the notification queue.
	RedisURL   string `yaml:"redis_url"`
	CooldownDB string `yaml:"cooldown_db"`

	MonitorSource   string        `yaml:"monitor_source"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	MonitorFlex     time.Duration `yaml:"monitor_flex"`
	MonitorBackoff  time.Duration `yaml:"monitor_backoff"`
	CooldownWindow  time.Duration `yaml:"cooldown_window"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	// ProbeRate limits probes per second; 0 disables pacing.
	ProbeRate  float64 `yaml:"probe_rate"`
	MinBattery int     `yaml:"min_battery"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		ServerPort:      "8080",
		UserAgent:       "IPTVmine/1.0 (Go)",
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     10 * time.Second,
		SourcesFile:     "data/sources.yaml",
		MonitorSource:   models.DefaultSourceURL,
		MonitorInterval: 30 * time.Minute,
		MonitorFlex:     5 * time.Minute,
		MonitorBackoff:  15 * time.Minute,
		CooldownWindow:  2 * time.Hour,
		ProbeTimeout:    8 * time.Second,
		MinBattery:      15,
		LogLevel:        "info",
	}
}

// Load builds config from environment variables over Defaults.
// If neither IPTVMINE_SOURCES nor DATABASE_URL is set, Load first reads
// .env.local and .env from the working directory and the executable's directory.
func Load() (*Config, error) {
	if os.Getenv("IPTVMINE_SOURCES") == "" && os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles(envDirs()...)
	}
	c := Defaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("SERVER_PORT", &c.ServerPort)
	str("IPTVMINE_USER_AGENT", &c.UserAgent)
	str("IPTVMINE_SOURCES_FILE", &c.SourcesFile)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("IPTVMINE_COOLDOWN_DB", &c.CooldownDB)
	str("IPTVMINE_MONITOR_SOURCE", &c.MonitorSource)
	str("LOG_LEVEL", &c.LogLevel)
	if v := os.Getenv("IPTVMINE_SOURCES"); v != "" {
		c.Sources = splitList(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"IPTVMINE_CONNECT_TIMEOUT", &c.ConnectTimeout},
		{"IPTVMINE_READ_TIMEOUT", &c.ReadTimeout},
		{"IPTVMINE_MONITOR_INTERVAL", &c.MonitorInterval},
		{"IPTVMINE_MONITOR_FLEX", &c.MonitorFlex},
		{"IPTVMINE_MONITOR_BACKOFF", &c.MonitorBackoff},
		{"IPTVMINE_COOLDOWN_WINDOW", &c.CooldownWindow},
		{"IPTVMINE_PROBE_TIMEOUT", &c.ProbeTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("IPTVMINE_PROBE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: IPTVMINE_PROBE_RATE: %v", ErrInvalid, err)
		}
		c.ProbeRate = f
	}
	if v := os.Getenv("IPTVMINE_MIN_BATTERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: IPTVMINE_MIN_BATTERY: %v", ErrInvalid, err)
		}
		c.MinBattery = n
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if p, err := strconv.Atoi(c.ServerPort); err != nil || p < 1 || p > 65535 {
		bad("server_port %q", c.ServerPort)
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":  c.ConnectTimeout,
		"read_timeout":     c.ReadTimeout,
		"monitor_interval": c.MonitorInterval,
		"monitor_backoff":  c.MonitorBackoff,
		"cooldown_window":  c.CooldownWindow,
		"probe_timeout":    c.ProbeTimeout,
	} {
		if d <= 0 {
			bad("%s must be positive", name)
		}
	}
	if c.MonitorFlex < 0 || c.MonitorFlex > c.MonitorInterval {
		bad("monitor_flex must be between 0 and monitor_interval")
	}
	if c.ProbeRate < 0 {
		bad("probe_rate must not be negative")
	}
	if c.MinBattery < 0 || c.MinBattery > 100 {
		bad("min_battery must be a percentage")
	}
	if c.SourcesFile == "" && c.DatabaseURL == "" {
		bad("one of sources_file or database_url is required")
	}
	for _, s := range c.Sources {
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			bad("source %q is not an http(s) URL", s)
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
