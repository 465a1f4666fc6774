// Package config resolves runtime settings: defaults, then an optional YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	DatabasePath  string
	LoanPeriod    time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration
	BcryptCost    int
	LogLevel      slog.Level
	LogFormat     string
}

// configFile mirrors the YAML schema.
type configFile struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Circulation struct {
		LoanDays      int    `yaml:"loan_days"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"circulation"`
	Auth struct {
		SessionTTL string `yaml:"session_ttl"`
		BcryptCost int    `yaml:"bcrypt_cost"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DatabasePath:  "library.db",
		LoanPeriod:    14 * 24 * time.Hour,
		SessionTTL:    12 * time.Hour,
		SweepInterval: time.Hour,
		BcryptCost:    12,
		LogLevel:      slog.LevelInfo,
		LogFormat:     "text",
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Database.Path != "" {
		c.DatabasePath = f.Database.Path
	}
	if f.Circulation.LoanDays > 0 {
		c.LoanPeriod = time.Duration(f.Circulation.LoanDays) * 24 * time.Hour
	}
	if err := setDuration(&c.SweepInterval, f.Circulation.SweepInterval, "circulation.sweep_interval", true); err != nil {
		return err
	}
	if err := setDuration(&c.SessionTTL, f.Auth.SessionTTL, "auth.session_ttl", false); err != nil {
		return err
	}
	if f.Auth.BcryptCost > 0 {
		c.BcryptCost = f.Auth.BcryptCost
	}
	if err := setLevel(&c.LogLevel, f.Log.Level); err != nil {
		return err
	}
	if f.Log.Format != "" {
		c.LogFormat = f.Log.Format
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LIBRARYDESK_DB"); ok && v != "" {
		c.DatabasePath = v
	}
	if v, ok := lookup("LIBRARYDESK_LOAN_DAYS"); ok && v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return fmt.Errorf("LIBRARYDESK_LOAN_DAYS: invalid value %q", v)
		}
		c.LoanPeriod = time.Duration(days) * 24 * time.Hour
	}
	if v, ok := lookup("LIBRARYDESK_SESSION_TTL"); ok {
		if err := setDuration(&c.SessionTTL, v, "LIBRARYDESK_SESSION_TTL", false); err != nil {
			return err
		}
	}
	if v, ok := lookup("LIBRARYDESK_SWEEP_INTERVAL"); ok {
		if err := setDuration(&c.SweepInterval, v, "LIBRARYDESK_SWEEP_INTERVAL", true); err != nil {
			return err
		}
	}
	if v, ok := lookup("LIBRARYDESK_BCRYPT_COST"); ok && v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil || cost <= 0 {
			return fmt.Errorf("LIBRARYDESK_BCRYPT_COST: invalid value %q", v)
		}
		c.BcryptCost = cost
	}
	if v, ok := lookup("LIBRARYDESK_LOG_LEVEL"); ok {
		if err := setLevel(&c.LogLevel, v); err != nil {
			return err
		}
	}
	if v, ok := lookup("LIBRARYDESK_LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	return nil
}

// setDuration parses raw into dst. Negative values are always rejected; zero
// only when allowZero is false.
func setDuration(dst *time.Duration, raw, name string, allowZero bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s: invalid duration %q", name, raw)
	}
	*dst = d
	return nil
}

func setLevel(dst *slog.Level, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	*dst = l
	return nil
}

// NewLogger builds the process logger for c, writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
