// Package config provides configuration for the AutoSteer result store and its binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by the store, the read API and the exporter.
type Config struct {
	// ResultsDir is the directory that holds one SQLite file per tested database
	ResultsDir string `json:"results_dir" yaml:"results_dir"`

	// Suite names the tested database (benchmark suite); selects <results_dir>/<suite>.sqlite
	Suite string `json:"suite" yaml:"suite"`

	// ExtensionPath is an optional loadable SQLite extension providing median.
	// When empty the built-in median aggregate is used.
	ExtensionPath string `json:"extension_path" yaml:"extension_path"`

	// SchemaFile overrides the embedded schema DDL
	SchemaFile string `json:"schema_file" yaml:"schema_file"`

	// Machine overrides the hostname recorded with every measurement
	Machine string `json:"machine" yaml:"machine"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// HTTP configuration for the read API
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Experience extraction configuration
	Experience ExperienceConfig `json:"experience" yaml:"experience"`

	// Export storage configuration
	Export ExportConfig `json:"export" yaml:"export"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is logfmt or json
	Format string `json:"format" yaml:"format"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the read API
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// ExperienceConfig holds experience extraction defaults.
type ExperienceConfig struct {
	// TrainingRatio is the share of queries placed in the training set (0..1, default 0.8)
	TrainingRatio float64 `json:"training_ratio" yaml:"training_ratio"`

	// Seed fixes the shuffle; 0 seeds from the clock
	Seed uint64 `json:"seed" yaml:"seed"`

	// BenchmarkFilter restricts extraction to query paths containing this substring
	BenchmarkFilter string `json:"benchmark_filter" yaml:"benchmark_filter"`
}

// ExportConfig holds object storage configuration for exported datasets and archives.
type ExportConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local benchmark runs.
func DefaultConfig() *Config {
	return &Config{
		ResultsDir: "./results",
		Suite:      "postgres",
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
		HTTP: HTTPConfig{
			Addr:         ":8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Experience: ExperienceConfig{
			TrainingRatio: 0.8,
		},
		Export: ExportConfig{
			Type:   "local",
			Prefix: "experience",
		},
	}
}

// Resolve fills paths that default relative to ResultsDir.
func (c *Config) Resolve() {
	if c.ResultsDir == "" {
		c.ResultsDir = "./results"
	}
	if c.Export.Type == "local" && c.Export.Path == "" {
		c.Export.Path = filepath.Join(c.ResultsDir, "exports")
	}
}

// DatabasePath returns the SQLite file of the configured suite.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResultsDir, c.Suite+".sqlite")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ResultsDir == "" {
		return fmt.Errorf("results_dir is required")
	}

	if c.Suite == "" {
		return fmt.Errorf("suite is required")
	}
	if strings.ContainsAny(c.Suite, `/\`) || c.Suite == "." || c.Suite == ".." {
		return fmt.Errorf("invalid suite name: %q (must be a plain file name)", c.Suite)
	}

	if c.Experience.TrainingRatio < 0 || c.Experience.TrainingRatio > 1 {
		return fmt.Errorf("experience.training_ratio must be between 0 and 1, got %v", c.Experience.TrainingRatio)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Log.Level)
	}

	if c.Log.Format != "logfmt" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be logfmt or json)", c.Log.Format)
	}

	if c.Export.Type != "local" && c.Export.Type != "s3" {
		return fmt.Errorf("invalid export type: %s (must be local or s3)", c.Export.Type)
	}

	if c.Export.Type == "s3" && c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required when export type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variables with the AUTOSTEER_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("AUTOSTEER_RESULTS_DIR"); v != "" {
		cfg.ResultsDir = v
	}
	if v := os.Getenv("AUTOSTEER_SUITE"); v != "" {
		cfg.Suite = v
	}
	if v := os.Getenv("AUTOSTEER_EXTENSION_PATH"); v != "" {
		cfg.ExtensionPath = v
	}
	if v := os.Getenv("AUTOSTEER_SCHEMA_FILE"); v != "" {
		cfg.SchemaFile = v
	}
	if v := os.Getenv("AUTOSTEER_MACHINE"); v != "" {
		cfg.Machine = v
	}

	if v := os.Getenv("AUTOSTEER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AUTOSTEER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("AUTOSTEER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Experience configuration
	if v := os.Getenv("AUTOSTEER_TRAINING_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Experience.TrainingRatio = f
		}
	}
	if v := os.Getenv("AUTOSTEER_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Experience.Seed = n
		}
	}

	// Export configuration
	if v := os.Getenv("AUTOSTEER_EXPORT_TYPE"); v != "" {
		cfg.Export.Type = v
	}
	if v := os.Getenv("AUTOSTEER_EXPORT_PATH"); v != "" {
		cfg.Export.Path = v
	}
	if v := os.Getenv("AUTOSTEER_EXPORT_PREFIX"); v != "" {
		cfg.Export.Prefix = v
	}
	if v := os.Getenv("AUTOSTEER_S3_BUCKET"); v != "" {
		cfg.Export.S3.Bucket = v
	}
	if v := os.Getenv("AUTOSTEER_S3_REGION"); v != "" {
		cfg.Export.S3.Region = v
	}
	if v := os.Getenv("AUTOSTEER_S3_ENDPOINT"); v != "" {
		cfg.Export.S3.Endpoint = v
	}
	if v := os.Getenv("AUTOSTEER_S3_PATH_STYLE"); v != "" {
		cfg.Export.S3.UsePathStyle = v == "true" || v == "1"
	}
}

// EnsureDirectories creates the results directory and the local export directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ResultsDir}
	if c.Export.Type == "local" {
		dirs = append(dirs, c.Export.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
