// Package config provides configuration management for facecheck.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all facecheck configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Verification VerificationConfig `yaml:"verification"`
	Storage      StorageConfig      `yaml:"storage"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	// MaxRequestMB bounds the size of a multipart/form request body.
	MaxRequestMB int `yaml:"max_request_mb"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	ModelPath string `yaml:"model_path"`
	// Threshold is the maximum Euclidean distance still considered a match.
	Threshold float64 `yaml:"threshold"`
	// CropSize is the edge length of the square face crop fed to the recognizer.
	CropSize int `yaml:"crop_size"`
}

// VerificationConfig holds batch verification settings.
type VerificationConfig struct {
	Workers          int `yaml:"workers"`
	EnrollmentImages int `yaml:"enrollment_images"`
	// CacheProfiles keeps resolved reference profiles in memory between batches.
	// Only enrollments made through this process update the cache; changes made
	// by another process show up once the entry is older than CacheTTL.
	CacheProfiles bool          `yaml:"cache_profiles"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LedgerConfig selects where incident rows are appended.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite database file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facecheck")
	return &Config{
		Server: ServerConfig{
			Address:      "127.0.0.1:8080",
			MaxRequestMB: 32,
		},
		Recognition: RecognitionConfig{
			ModelPath: filepath.Join(dataDir, "models"),
			Threshold: 0.75,
			CropSize:  160,
		},
		Verification: VerificationConfig{
			Workers:          4,
			EnrollmentImages: 3,
			CacheProfiles:    false,
			CacheTTL:         30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: false,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "incidents.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facecheck/facecheck.yaml"); err == nil {
		return Load("/etc/facecheck/facecheck.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facecheck/facecheck.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if c.Server.MaxRequestMB <= 0 {
		return fmt.Errorf("max_request_mb must be positive, got %d", c.Server.MaxRequestMB)
	}

	if c.Recognition.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %f", c.Recognition.Threshold)
	}
	if c.Recognition.CropSize < 16 {
		return fmt.Errorf("crop_size must be at least 16, got %d", c.Recognition.CropSize)
	}

	if c.Verification.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Verification.Workers)
	}
	if c.Verification.EnrollmentImages <= 0 {
		return fmt.Errorf("enrollment_images must be positive, got %d", c.Verification.EnrollmentImages)
	}
	if c.Verification.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative, got %s", c.Verification.CacheTTL)
	}

	switch c.Ledger.Driver {
	case "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger path is required for the sqlite driver")
		}
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid ledger driver: %s (must be sqlite or postgres)", c.Ledger.Driver)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Ledger.Path = ExpandPath(c.Ledger.Path)
	if c.Logging.File != "" {
		c.Logging.File = ExpandPath(c.Logging.File)
	}
}

// ReferenceDir is where enrollment crops are kept.
func (c *Config) ReferenceDir() string {
	return filepath.Join(c.Storage.DataDir, "reference_images")
}

// IncidentDir is where incident evidence images are written.
func (c *Config) IncidentDir() string {
	return filepath.Join(c.Storage.DataDir, "incidents")
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ReferenceDir(), c.IncidentDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if c.Ledger.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(c.Ledger.Path), 0700); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
