package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	app "github.com/r3e-network/fraudctl/internal/app"
	"github.com/r3e-network/fraudctl/internal/app/metrics"
	appstorage "github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/storage/postgres"
	"github.com/r3e-network/fraudctl/internal/config"
	"github.com/r3e-network/fraudctl/internal/platform/database"
	"github.com/r3e-network/fraudctl/internal/platform/migrations"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "metrics/health listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	var cfg *config.Config
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := loadConfigFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	} else {
		loaded, err := config.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	appLog := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	var (
		db      *sql.DB
		catalog appstorage.Catalog
		err     error
	)

	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		pgStore, err := postgres.New(db, dsnVal)
		if err != nil {
			log.Fatalf("open change feed: %v", err)
		}
		defer pgStore.Close()
		catalog = pgStore
	}

	if db != nil {
		defer db.Close()
	}

	stores := app.Stores{
		Catalog:     catalog,
		ArtifactDir: cfg.Artifacts.Root,
	}

	application, err := app.New(stores, appLog)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: listenAddr, Handler: metrics.InstrumentHandler(adminMux)}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Printf("fraudctl control plane listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = metricsServer.Shutdown(shutdownCtx)
	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func loadConfigFile(path string) (*config.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.LoadFile(path)
	case ".json":
		return config.LoadConfig(path)
	default:
		if cfg, err := config.LoadFile(path); err == nil {
			return cfg, nil
		}
		return config.LoadConfig(path)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}
