package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Authority struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type Config struct {
	Port             string        `yaml:"port"`
	DBDSN            string        `yaml:"db_dsn"`
	LogFile          string        `yaml:"log_file"`
	TemplatesDir     string        `yaml:"templates_dir"`
	Timezone         string        `yaml:"timezone"`
	PenaltyPerDay    int64         `yaml:"penalty_per_day"`
	BusyTimeout      time.Duration `yaml:"busy_timeout"`
	RemindersEnabled bool          `yaml:"reminders_enabled"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	WebhookURL       string        `yaml:"webhook_url"`
	SeedDemo         bool          `yaml:"seed_demo"`
	Authorities      []Authority   `yaml:"authorities"`
}

func Defaults() Config {
	return Config{
		Port:             "8080",
		DBDSN:            "rentdesk.db", // sqlite file in project root
		LogFile:          "./rentdesk.log",
		TemplatesDir:     "./web/templates",
		Timezone:         "UTC",
		PenaltyPerDay:    2000,
		BusyTimeout:      10 * time.Second,
		RemindersEnabled: true,
		ReminderInterval: time.Hour,
		RetryAttempts:    3,
	}
}

// Load reads the environment on top of the defaults.
func Load() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	logConfig(cfg)
	return cfg
}

// LoadFile overlays a YAML file on the defaults, then the environment.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	logConfig(cfg)
	return cfg, nil
}

// Location resolves the zone that defines "today" for reminders.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DBDSN = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v := os.Getenv("TEMPLATES_DIR"); v != "" {
		cfg.TemplatesDir = v
	}
	if v := os.Getenv("TZ_NAME"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("PENALTY_PER_DAY_DEFAULT"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n >= 0 {
			cfg.PenaltyPerDay = n
		}
	}
	if v := os.Getenv("DB_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.BusyTimeout = d
		}
	}
	if v := os.Getenv("REMINDERS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RemindersEnabled = b
		}
	}
	if v := os.Getenv("REMINDER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReminderInterval = d
		}
	}
	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryAttempts = n
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("SEED_DEMO"); v != "" {
		cfg.SeedDemo, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("AUTHORITIES"); v != "" {
		cfg.Authorities = parseAuthorities(v)
	}
}

// parseAuthorities reads "id:name:key" entries separated by commas.
// Malformed entries are skipped.
func parseAuthorities(raw string) []Authority {
	var out []Authority
	for _, part := range strings.Split(raw, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 3)
		if len(fields) != 3 {
			continue
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || id <= 0 || fields[2] == "" {
			continue
		}
		out = append(out, Authority{ID: id, Name: fields[1], Key: fields[2]})
	}
	return out
}

func logConfig(cfg Config) {
	// Keys stay out of the log, only the count is reported.
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s TZ=%s PENALTY_PER_DAY=%d REMINDERS=%t/%s AUTHORITIES=%d",
		cfg.Port, cfg.DBDSN, cfg.LogFile, cfg.Timezone, cfg.PenaltyPerDay,
		cfg.RemindersEnabled, cfg.ReminderInterval, len(cfg.Authorities))
}
