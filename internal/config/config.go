package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SubscriptionConfig describes one ICS URL subscription that feeds the
// file-import path on every sync.
type SubscriptionConfig struct {
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
}

// ScrapeConfig configures the remote-site harvester.
type ScrapeConfig struct {
	// BaseURL is the remote course site root.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// CourseTimeoutSec bounds each per-course harvest.
	CourseTimeoutSec int `yaml:"course_timeout_sec" json:"course_timeout_sec"`
}

// SyncConfig controls the periodic auto-sync.
type SyncConfig struct {
	IntervalMinutes int  `yaml:"interval_minutes" json:"interval_minutes"`
	AutoEnabled     bool `yaml:"auto_enabled" json:"auto_enabled"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the control-plane API.
	Listen string `yaml:"listen" json:"listen"`

	// CacheDir holds the ICS subscription fetch cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`
	Sync   SyncConfig   `yaml:"sync" json:"sync"`

	// Subscriptions are course calendars imported by URL.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`
}

// Env carries secrets and connection settings kept out of the YAML
// file: postgres credentials and the opaque remote session credential.
type Env struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// SessionCredential is the opaque credential handed to the scrape
	// transport. Its format is the remote site's business, not ours.
	SessionCredential string
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		CacheDir: "./var/ics-cache",
		Scrape: ScrapeConfig{
			CourseTimeoutSec: 45,
		},
		Sync: SyncConfig{
			IntervalMinutes: 60,
			AutoEnabled:     false,
		},
		Subscriptions: []SubscriptionConfig{},
	}
}

// Normalize fills in missing/zero values so partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.Scrape.CourseTimeoutSec <= 0 {
		c.Scrape.CourseTimeoutSec = 45
	}
	if c.Sync.IntervalMinutes <= 0 {
		c.Sync.IntervalMinutes = 60
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
}

// Load loads configuration from the given YAML path. A missing file is
// first-run: the default config is written there with 0600 perms and
// returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".coursecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadEnv reads secrets from the environment, loading a .env file first
// when present (development convenience).
func LoadEnv() Env {
	_ = godotenv.Load()

	return Env{
		DBHost:            envOr("COURSECAL_DB_HOST", "127.0.0.1"),
		DBPort:            envOr("COURSECAL_DB_PORT", "5432"),
		DBUser:            envOr("COURSECAL_DB_USER", "coursecal"),
		DBPassword:        os.Getenv("COURSECAL_DB_PASSWORD"),
		DBName:            envOr("COURSECAL_DB_NAME", "coursecal"),
		DBSSLMode:         envOr("COURSECAL_DB_SSLMODE", "disable"),
		SessionCredential: os.Getenv("COURSECAL_SESSION_CREDENTIAL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
