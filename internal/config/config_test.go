package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConnectionString(t *testing.T) {
	cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass", Name: "db", SSLMode: "disable"}
	want := "host=localhost port=5432 user=user password=pass dbname=db sslmode=disable"
	if got := cfg.ConnectionString(); got != want {
		t.Fatalf("connection string mismatch: %s", got)
	}
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.MaxOpenConns != 10 {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Scheduler.TrainingConcurrency != 2 || cfg.Scheduler.FeatureConcurrency != 4 ||
		cfg.Scheduler.MonitoringConcurrency != 4 || cfg.Scheduler.RetrainConcurrency != 1 {
		t.Fatalf("unexpected scheduler concurrency defaults: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.LeaseTTLMinutes != 30 || cfg.Scheduler.MaxRetries != 3 {
		t.Fatalf("unexpected scheduler lease defaults: %+v", cfg.Scheduler)
	}
	if cfg.Inference.LatencyBudgetMS != 100 {
		t.Fatalf("expected 100ms inference budget default, got %d", cfg.Inference.LatencyBudgetMS)
	}
	if cfg.Monitoring.DriftWindowDays != 7 {
		t.Fatalf("expected 7 day drift window default, got %d", cfg.Monitoring.DriftWindowDays)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  host: "192.168.1.1"
  port: 9000
database:
  host: "db.example.com"
  sslmode: "require"
scheduler:
  training_concurrency: 8
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Host != "192.168.1.1" || cfg.Server.Port != 9000 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Database.Host != "db.example.com" || cfg.Database.SSLMode != "require" {
		t.Fatalf("expected database overrides, got %+v", cfg.Database)
	}
	if cfg.Scheduler.TrainingConcurrency != 8 {
		t.Fatalf("expected scheduler override, got %d", cfg.Scheduler.TrainingConcurrency)
	}
}

func TestLoadFileMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("LoadFile should not error on missing file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadHandlesMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "non-existent.yaml")
	t.Setenv("SERVER_PORT", "8080")
	if _, err := Load(); err != nil {
		t.Fatalf("load should ignore missing file: %v", err)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "test.local")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("DATABASE_HOST", "db.test.local")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "test.local" || cfg.Server.Port != 3000 {
		t.Fatalf("expected server env overrides, got %+v", cfg.Server)
	}
	if cfg.Database.Host != "db.test.local" {
		t.Fatalf("expected database env override, got %s", cfg.Database.Host)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging env override, got %s", cfg.Logging.Level)
	}
}

func TestLoadAppliesDatabaseURLEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `database: { dsn: "postgres://file-dsn" }`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env-dsn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env-dsn" {
		t.Fatalf("expected DATABASE_URL override, got %q", cfg.Database.DSN)
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(path, []byte(`{invalid json}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigAllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "full_config.json")
	jsonContent := `{
		"server": {"host": "test", "port": 5000},
		"database": {
			"driver": "postgres",
			"dsn": "postgres://localhost/test",
			"max_open_conns": 20
		},
		"logging": {"level": "error", "format": "json"},
		"artifacts": {"root": "/var/lib/fraudctl/artifacts"},
		"scheduler": {"training_concurrency": 6, "lease_ttl_minutes": 45}
	}`
	if err := os.WriteFile(path, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Host != "test" || cfg.Server.Port != 5000 {
		t.Fatalf("server mismatch: %+v", cfg.Server)
	}
	if cfg.Database.DSN != "postgres://localhost/test" || cfg.Database.MaxOpenConns != 20 {
		t.Fatalf("database mismatch: %+v", cfg.Database)
	}
	if cfg.Artifacts.Root != "/var/lib/fraudctl/artifacts" {
		t.Fatalf("artifacts mismatch: %+v", cfg.Artifacts)
	}
	if cfg.Scheduler.TrainingConcurrency != 6 || cfg.Scheduler.LeaseTTLMinutes != 45 {
		t.Fatalf("scheduler mismatch: %+v", cfg.Scheduler)
	}
}
