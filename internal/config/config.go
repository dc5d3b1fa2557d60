// Package config resolves runtime settings from defaults, <root>/config.json
// and TASKER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/amirbrooks/tasker-engine/internal/backend"
	"github.com/amirbrooks/tasker-engine/internal/schedule"
)

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	fileName = "config.json"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Schema   int    `json:"schema"`
	Backend  string `json:"backend"`
	Format   string `json:"format"`
	Key      string `json:"key"`
	RedisURL string `json:"redis_url,omitempty"`
	// Grace is a Go duration string, e.g. "3s".
	Grace    string `json:"grace"`
	Timezone string `json:"timezone"`
	LogLevel string `json:"log_level"`
	Listen   string `json:"listen"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

func Default() Config {
	return Config{
		Schema:   1,
		Backend:  BackendFile,
		Format:   backend.FormatJSON,
		Key:      backend.DefaultKey,
		Grace:    schedule.DefaultGrace.String(),
		Timezone: "UTC",
		LogLevel: "warn",
		Listen:   ":8080",
	}
}

// DefaultRoot is TASKER_ROOT, else ~/.tasker.
func DefaultRoot() string {
	if env := os.Getenv("TASKER_ROOT"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	if home != "" {
		return filepath.Join(home, ".tasker")
	}
	return ".tasker"
}

func Path(root string) string {
	return filepath.Join(backend.ExpandHome(root), fileName)
}

// Load reads root's config file when present and applies env overrides.
// A missing file is not an error.
func Load(root string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(Path(root))
	switch {
	case err == nil:
		if err := sonic.ConfigStd.Unmarshal(b, &cfg); err != nil {
			return Default(), fmt.Errorf("%w: %s: %v", ErrInvalid, Path(root), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Default(), err
	}
	applyEnv(&cfg)
	fillDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to root's config file.
func Save(root string, cfg Config) error {
	fillDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := sonic.ConfigStd.MarshalIndent(&cfg, "", "  ")
	if err != nil {
		return err
	}
	return backend.WriteFileAtomic(Path(root), b, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKER_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("TASKER_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("TASKER_KEY"); v != "" {
		cfg.Key = v
	}
	if v := os.Getenv("TASKER_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("TASKER_GRACE"); v != "" {
		cfg.Grace = v
	}
	if v := os.Getenv("TASKER_TZ"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("TASKER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TASKER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TASKER_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBytes = n
		}
	}
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Schema == 0 {
		cfg.Schema = def.Schema
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = def.Format
	}
	if strings.TrimSpace(cfg.Key) == "" {
		cfg.Key = def.Key
	}
	if strings.TrimSpace(cfg.Grace) == "" {
		cfg.Grace = def.Grace
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = def.Timezone
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = def.LogLevel
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = def.Listen
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%w: redis backend requires redis_url", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := backend.NormalizeFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.GraceDuration(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MaxBytes < 0 {
		return fmt.Errorf("%w: max_bytes must not be negative", ErrInvalid)
	}
	return nil
}

func (c Config) GraceDuration() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(c.Grace))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: grace %q", ErrInvalid, c.Grace)
	}
	return d, nil
}

// Location is the zone whose midnight splits history into days.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

func (c Config) Level() (log.Level, error) {
	lvl, err := log.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return log.WarnLevel, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return lvl, nil
}
