// Package config provides environment-aware configuration management for
// the control plane.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the process's own metrics/health listener. The
// control-plane API surface itself is out of scope for this config; this
// only covers the ambient metrics endpoint.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the Metadata Catalog's Postgres connection.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// ArtifactConfig controls the content-addressed artifact store.
type ArtifactConfig struct {
	Root string `json:"root" env:"ARTIFACT_ROOT"`
}

// CacheConfig controls the external feature cache.
type CacheConfig struct {
	Addr        string `json:"addr" env:"CACHE_ADDR"`
	TTLSeconds  int    `json:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
	LocalTTLMS  int    `json:"local_ttl_ms" env:"CACHE_LOCAL_TTL_MS"`
}

// SchedulerConfig controls the job pool's per-kind concurrency caps and
// stale-lease sweeping.
type SchedulerConfig struct {
	TrainingConcurrency   int `json:"training_concurrency" env:"SCHEDULER_TRAINING_CONCURRENCY"`
	FeatureConcurrency    int `json:"feature_concurrency" env:"SCHEDULER_FEATURE_CONCURRENCY"`
	MonitoringConcurrency int `json:"monitoring_concurrency" env:"SCHEDULER_MONITORING_CONCURRENCY"`
	RetrainConcurrency    int `json:"retrain_concurrency" env:"SCHEDULER_RETRAIN_CONCURRENCY"`
	LeaseTTLMinutes       int `json:"lease_ttl_minutes" env:"SCHEDULER_LEASE_TTL_MINUTES"`
	MaxRetries            int `json:"max_retries" env:"SCHEDULER_MAX_RETRIES"`
	PollIntervalSeconds   int `json:"poll_interval_seconds" env:"SCHEDULER_POLL_INTERVAL_SECONDS"`
}

// MonitoringConfig controls the monitoring engine's drift/bias job cadence and default windows.
type MonitoringConfig struct {
	DriftWindowDays     int `json:"drift_window_days" env:"MONITORING_DRIFT_WINDOW_DAYS"`
	IntervalSeconds     int `json:"interval_seconds" env:"MONITORING_INTERVAL_SECONDS"`
	HysteresisWindows   int `json:"hysteresis_windows" env:"MONITORING_HYSTERESIS_WINDOWS"`
	AutoRetrainOnDrift  bool `json:"auto_retrain_on_drift" env:"MONITORING_AUTO_RETRAIN_ON_DRIFT"`
}

// InferenceConfig controls the inference service's latency budget and cache layering.
type InferenceConfig struct {
	LatencyBudgetMS int `json:"latency_budget_ms" env:"INFERENCE_LATENCY_BUDGET_MS"`
	SpillPath       string `json:"spill_path" env:"INFERENCE_SPILL_PATH"`
	QueueDepth      int `json:"queue_depth" env:"INFERENCE_QUEUE_DEPTH"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig      `json:"server"`
	Database   DatabaseConfig    `json:"database"`
	Logging    LoggingConfig     `json:"logging"`
	Artifacts  ArtifactConfig    `json:"artifacts"`
	Cache      CacheConfig       `json:"cache"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	Monitoring MonitoringConfig  `json:"monitoring"`
	Inference  InferenceConfig   `json:"inference"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "fraudctl",
		},
		Artifacts: ArtifactConfig{
			Root: "data/artifacts",
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
			LocalTTLMS: 2000,
		},
		Scheduler: SchedulerConfig{
			TrainingConcurrency:   2,
			FeatureConcurrency:    4,
			MonitoringConcurrency: 4,
			RetrainConcurrency:    1,
			LeaseTTLMinutes:       30,
			MaxRetries:            3,
			PollIntervalSeconds:   5,
		},
		Monitoring: MonitoringConfig{
			DriftWindowDays:   7,
			IntervalSeconds:   60,
			HysteresisWindows: 2,
		},
		Inference: InferenceConfig{
			LatencyBudgetMS: 100,
			SpillPath:       "data/predlog",
			QueueDepth:      4096,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from an optional .env file, an optional
// CONFIG_FILE path (YAML or JSON falling back to YAML), and environment
// variable overrides, in that order of increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadConfig reads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride lets DATABASE_URL override any file-based DSN,
// matching the convention cmd/appserver uses for the -dsn flag fallback.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
