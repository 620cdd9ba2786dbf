// Package config provides configuration management for episodic.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/convoke/episodic/internal/segmenter"
)

// Defaults for server and storage settings.
const (
	DefaultListenAddr = "127.0.0.1:8750"
	DefaultBackend    = BackendSQLite
	DefaultMaxConns   = 4
	DefaultDBFile     = "episodic.db"
)

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendGORM     = "gorm"
	BackendPostgres = "postgres"
)

// Config holds all runtime settings, loaded from YAML in the data directory.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	Backend     string `yaml:"backend"`
	DBPath      string `yaml:"db_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int    `yaml:"max_conns"`

	MinRoundsPerEpisode int     `yaml:"min_rounds_per_episode"`
	MaxRoundsPerEpisode int     `yaml:"max_rounds_per_episode"`
	EmergenceThreshold  float64 `yaml:"emergence_threshold"`
	NotableThreshold    float64 `yaml:"notable_threshold"`
}

// DataDir returns the data directory, honoring EPISODIC_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("EPISODIC_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".episodic"
	}
	return filepath.Join(home, ".episodic")
}

// ConfigPath returns the YAML config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:          DefaultListenAddr,
		Backend:             DefaultBackend,
		DBPath:              filepath.Join(DataDir(), DefaultDBFile),
		MaxConns:            DefaultMaxConns,
		MinRoundsPerEpisode: segmenter.DefaultMinRoundsPerEpisode,
		MaxRoundsPerEpisode: segmenter.DefaultMaxRoundsPerEpisode,
		EmergenceThreshold:  segmenter.DefaultEmergenceThreshold,
		NotableThreshold:    segmenter.DefaultNotableThreshold,
	}
}

// Load reads the config file, filling missing fields from defaults. A
// missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Backend == "" {
		cfg.Backend = DefaultBackend
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(DataDir(), DefaultDBFile)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	return cfg, nil
}

// Save writes the config file to the data directory.
func (c *Config) Save() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// SegmenterConfig maps the boundary settings into a segmenter.Config.
func (c *Config) SegmenterConfig() segmenter.Config {
	return segmenter.Config{
		MinRoundsPerEpisode: c.MinRoundsPerEpisode,
		MaxRoundsPerEpisode: c.MaxRoundsPerEpisode,
		EmergenceThreshold:  c.EmergenceThreshold,
		NotableThreshold:    c.NotableThreshold,
	}
}
