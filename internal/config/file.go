package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with durations as strings ("30m", "8s").
type fileConfig struct {
	ServerPort      string   `yaml:"server_port"`
	UserAgent       string   `yaml:"user_agent"`
	ConnectTimeout  string   `yaml:"connect_timeout"`
	ReadTimeout     string   `yaml:"read_timeout"`
	Sources         []string `yaml:"sources"`
	SourcesFile     string   `yaml:"sources_file"`
	DatabaseURL     string   `yaml:"database_url"`
	RedisURL        string   `yaml:"redis_url"`
	CooldownDB      string   `yaml:"cooldown_db"`
	MonitorSource   string   `yaml:"monitor_source"`
	MonitorInterval string   `yaml:"monitor_interval"`
	MonitorFlex     string   `yaml:"monitor_flex"`
	MonitorBackoff  string   `yaml:"monitor_backoff"`
	CooldownWindow  string   `yaml:"cooldown_window"`
	ProbeTimeout    string   `yaml:"probe_timeout"`
	ProbeRate       *float64 `yaml:"probe_rate"`
	MinBattery      *int     `yaml:"min_battery"`
	LogLevel        string   `yaml:"log_level"`
}

// LoadFromFile loads config from a YAML file over Defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := Defaults()
	set := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	set(f.ServerPort, &c.ServerPort)
	set(f.UserAgent, &c.UserAgent)
	set(f.SourcesFile, &c.SourcesFile)
	set(f.DatabaseURL, &c.DatabaseURL)
	set(f.RedisURL, &c.RedisURL)
	set(f.CooldownDB, &c.CooldownDB)
	set(f.MonitorSource, &c.MonitorSource)
	set(f.LogLevel, &c.LogLevel)
	if len(f.Sources) > 0 {
		c.Sources = f.Sources
	}
	if f.ProbeRate != nil {
		c.ProbeRate = *f.ProbeRate
	}
	if f.MinBattery != nil {
		c.MinBattery = *f.MinBattery
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", f.ConnectTimeout, &c.ConnectTimeout},
		{"read_timeout", f.ReadTimeout, &c.ReadTimeout},
		{"monitor_interval", f.MonitorInterval, &c.MonitorInterval},
		{"monitor_flex", f.MonitorFlex, &c.MonitorFlex},
		{"monitor_backoff", f.MonitorBackoff, &c.MonitorBackoff},
		{"cooldown_window", f.CooldownWindow, &c.CooldownWindow},
		{"probe_timeout", f.ProbeTimeout, &c.ProbeTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = parsed
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
