package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Export.Path != filepath.Join("./results", "exports") {
		t.Errorf("export path = %q, want results/exports", cfg.Export.Path)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResultsDir = "/var/autosteer/results"
	cfg.Suite = "presto"
	if got, want := cfg.DatabasePath(), "/var/autosteer/results/presto.sqlite"; got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty suite", func(c *Config) { c.Suite = "" }},
		{"suite with separator", func(c *Config) { c.Suite = "../etc" }},
		{"ratio above one", func(c *Config) { c.Experience.TrainingRatio = 1.5 }},
		{"negative ratio", func(c *Config) { c.Experience.TrainingRatio = -0.1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad export type", func(c *Config) { c.Export.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Export.Type = "s3" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autosteer.yaml")
	content := `
results_dir: /data/results
suite: spark
experience:
  training_ratio: 0.7
  seed: 42
http:
  addr: ":9000"
  read_timeout: 5s
export:
  type: s3
  s3:
    bucket: autosteer-experience
    region: eu-west-1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Suite != "spark" || cfg.ResultsDir != "/data/results" {
		t.Errorf("unexpected suite/results_dir: %q %q", cfg.Suite, cfg.ResultsDir)
	}
	if cfg.Experience.TrainingRatio != 0.7 || cfg.Experience.Seed != 42 {
		t.Errorf("unexpected experience config: %+v", cfg.Experience)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.HTTP.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected http config: %+v", cfg.HTTP)
	}
	// Untouched fields keep their defaults
	if cfg.HTTP.WriteTimeout != 60*time.Second {
		t.Errorf("write timeout = %v, want default 60s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Export.S3.Bucket != "autosteer-experience" {
		t.Errorf("bucket = %q", cfg.Export.S3.Bucket)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autosteer.json")
	if err := os.WriteFile(path, []byte(`{"suite": "duckdb", "machine": "bench-01"}`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Suite != "duckdb" || cfg.Machine != "bench-01" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autosteer.toml")
	if err := os.WriteFile(path, []byte(`suite = "x"`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AUTOSTEER_SUITE", "presto")
	t.Setenv("AUTOSTEER_RESULTS_DIR", "/tmp/results")
	t.Setenv("AUTOSTEER_TRAINING_RATIO", "0.6")
	t.Setenv("AUTOSTEER_SEED", "7")
	t.Setenv("AUTOSTEER_EXPORT_TYPE", "s3")
	t.Setenv("AUTOSTEER_S3_BUCKET", "bucket")
	t.Setenv("AUTOSTEER_S3_PATH_STYLE", "true")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Suite != "presto" || cfg.ResultsDir != "/tmp/results" {
		t.Errorf("unexpected suite/results_dir: %q %q", cfg.Suite, cfg.ResultsDir)
	}
	if cfg.Experience.TrainingRatio != 0.6 || cfg.Experience.Seed != 7 {
		t.Errorf("unexpected experience config: %+v", cfg.Experience)
	}
	if cfg.Export.Type != "s3" || cfg.Export.S3.Bucket != "bucket" || !cfg.Export.S3.UsePathStyle {
		t.Errorf("unexpected export config: %+v", cfg.Export)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.ResultsDir, cfg.Export.Path} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", d)
		}
	}
}
