package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Auth struct {
		Secret   string `yaml:"secret"`
		CronKey  string `yaml:"cronKey"`
		TokenTTL string `yaml:"tokenTTL"`
	} `yaml:"auth"`
	Checkpoint struct {
		IntervalMin   string `yaml:"intervalMin"`
		IntervalMax   string `yaml:"intervalMax"`
		CooldownAfter int    `yaml:"cooldownAfter"`
		Cooldown      string `yaml:"cooldown"`
		LockAfter     int    `yaml:"lockAfter"`
		Lockout       string `yaml:"lockout"`
		WarningWindow string `yaml:"warningWindow"`
		Digits        int    `yaml:"digits"`
	} `yaml:"checkpoint"`
	Snapshot struct {
		DefaultExtraPercent float64 `yaml:"defaultExtraPercent"`
		MaxCandidates       int     `yaml:"maxCandidates"`
		OversampleFactor    int     `yaml:"oversampleFactor"`
	} `yaml:"snapshot"`
}

// Load reads YAML config from path. A missing file yields the zero config so the
// server can run on defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns v unless it is zero.
func IntOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
