// Package app wires the eleven components into one running control plane:
// storage, artifacts and features feed training and the model registry,
// inference serves traffic against the registry's PRODUCTION model, and
// monitoring/alerts/scheduler/retrain/abtest close the loop back onto it.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/abtest"
	"github.com/r3e-network/fraudctl/internal/app/alerts"
	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/artifacts/fsdriver"
	core "github.com/r3e-network/fraudctl/internal/app/core/service"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/job"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/features"
	"github.com/r3e-network/fraudctl/internal/app/inference"
	"github.com/r3e-network/fraudctl/internal/app/inference/predlog"
	"github.com/r3e-network/fraudctl/internal/app/inference/rediscache"
	"github.com/r3e-network/fraudctl/internal/app/metrics"
	"github.com/r3e-network/fraudctl/internal/app/monitoring"
	"github.com/r3e-network/fraudctl/internal/app/registry"
	"github.com/r3e-network/fraudctl/internal/app/retrain"
	"github.com/r3e-network/fraudctl/internal/app/scheduler"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
	"github.com/r3e-network/fraudctl/internal/app/system"
	"github.com/r3e-network/fraudctl/internal/app/training"
	"github.com/r3e-network/fraudctl/internal/platform"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil Catalog defaults to
// the in-memory implementation; every domain component is built on top of
// the single unified storage.Catalog interface.
type Stores struct {
	Catalog       storage.Catalog
	ArtifactDir   string // when set and ContentDriver is nil, backs artifacts with fsdriver at this path
	ContentDriver platform.ContentDriver
	CacheDriver   platform.CacheDriver
}

func (s *Stores) applyDefaults() {
	if s.Catalog == nil {
		s.Catalog = memory.New()
	}
}

// RuntimeConfig captures environment-dependent wiring that was previously
// sourced directly from OS variables, letting callers supply explicit
// configuration when embedding the application or running tests.
type RuntimeConfig struct {
	ModelName             string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	FeatureCacheTTL       string
	WebhookURL            string
	MonitoringInterval    string
	SchedulerPollInterval string
	AlertAutoResolveN     int
}

// Option customises the application runtime.
type Option func(*builderConfig)

// Environment exposes a simple lookup mechanism which callers can implement
// to inject custom environment sources (for example when testing).
type Environment interface {
	Lookup(key string) string
}

type builderConfig struct {
	environment    Environment
	runtime        RuntimeConfig
	runtimeDefined bool
}

type resolvedBuilder struct {
	runtime runtimeSettings
}

type runtimeSettings struct {
	modelName             string
	redisAddr             string
	redisPassword         string
	redisDB               int
	featureCacheTTL       time.Duration
	webhookURL            string
	monitoringInterval    time.Duration
	schedulerPollInterval time.Duration
	alertAutoResolveN     int
}

// WithRuntimeConfig overrides the runtime configuration used when wiring
// services. When omitted, environment variables are consulted.
func WithRuntimeConfig(cfg RuntimeConfig) Option {
	return func(b *builderConfig) {
		b.runtime = cfg
		b.runtimeDefined = true
	}
}

// WithEnvironment provides a custom environment lookup used when no
// explicit runtime configuration was supplied. Passing nil retains the
// default (os.Getenv).
func WithEnvironment(env Environment) Option {
	return func(b *builderConfig) {
		if env != nil {
			b.environment = env
		}
	}
}

// Application ties the eleven components together and manages their
// background-service lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog    storage.Catalog
	Artifacts  *artifacts.Store
	Features   *features.Pipeline
	Training   *training.Engine
	Registry   *registry.Registry
	Inference  *inference.Service
	Monitoring *monitoring.Engine
	Alerts     *alerts.Manager
	Scheduler  *scheduler.Scheduler
	Retrain    *retrain.Controller
	ABTest     *abtest.Controller

	descriptors []core.Descriptor
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	options := resolveBuilderOptions(opts...)
	if log == nil {
		log = logger.NewDefault("app")
	}

	stores.applyDefaults()
	catalog := stores.Catalog

	driver := stores.ContentDriver
	if driver == nil {
		dir := stores.ArtifactDir
		if dir == "" {
			dir = os.TempDir() + "/fraudctl-artifacts"
		}
		driver = fsdriver.New(dir)
	}
	if err := driver.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start artifact driver: %w", err)
	}
	artifactStore := artifacts.New(driver)

	featurePipeline := features.NewPipeline(artifactStore, nil)
	trainingEngine := training.NewEngine(artifactStore, featurePipeline)
	modelRegistry := registry.New(catalog)

	var cacheDriver platform.CacheDriver = stores.CacheDriver
	if cacheDriver == nil && options.runtime.redisAddr != "" {
		cacheDriver = rediscache.NewFromAddr(options.runtime.redisAddr, options.runtime.redisPassword, options.runtime.redisDB)
	}
	featureCache := inference.NewFeatureCache(options.runtime.featureCacheTTL, cacheDriver)

	spillPath := stores.ArtifactDir
	if spillPath == "" {
		spillPath = os.TempDir()
	}
	predictionLog := predlog.New(catalog, spillPath+"/fraudctl-predlog.jsonl", log)

	modelName := options.runtime.modelName
	if modelName == "" {
		modelName = "fraud-detector"
	}
	inferenceService := inference.New(modelName, artifactStore, catalog, featureCache, predictionLog, log)

	var alertOpts []alerts.Option
	if options.runtime.webhookURL != "" {
		alertOpts = append(alertOpts, alerts.WithSinks(alerts.NewWebhookSink(options.runtime.webhookURL)))
	}
	if options.runtime.alertAutoResolveN > 0 {
		alertOpts = append(alertOpts, alerts.WithAutoResolveWindows(options.runtime.alertAutoResolveN))
	}
	alertManager := alerts.New(catalog, log, alertOpts...)

	monitoringCfg := monitoring.Config{Interval: options.runtime.monitoringInterval}
	monitoringEngine := monitoring.New(catalog, featurePipeline, alertManager, monitoringCfg, log)

	retrainController := retrain.New(catalog, trainingEngine, log)
	abtestController := abtest.New(catalog, log)

	manager := system.NewManager()

	handlers := buildJobHandlers(artifactStore, featurePipeline, trainingEngine, catalog, monitoringEngine, retrainController, abtestController, log)
	schedulerCfg := scheduler.Config{PollInterval: options.runtime.schedulerPollInterval}
	jobScheduler := scheduler.New(catalog, handlers, schedulerCfg, log)

	services := []system.Service{inferenceService, predictionLog, monitoringEngine, jobScheduler}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Catalog:     catalog,
		Artifacts:   artifactStore,
		Features:    featurePipeline,
		Training:    trainingEngine,
		Registry:    modelRegistry,
		Inference:   inferenceService,
		Monitoring:  monitoringEngine,
		Alerts:      alertManager,
		Scheduler:   jobScheduler,
		Retrain:     retrainController,
		ABTest:      abtestController,
		descriptors: manager.Descriptors(),
	}, nil
}

// buildJobHandlers wires one scheduler.Handler per job.Kind, each closing
// over the concrete component that actually does the work: the scheduler
// only claims and dispatches, it never knows how a kind runs.
func buildJobHandlers(
	artifactStore *artifacts.Store,
	featurePipeline *features.Pipeline,
	trainingEngine *training.Engine,
	catalog storage.Catalog,
	monitoringEngine *monitoring.Engine,
	retrainController *retrain.Controller,
	abtestController *abtest.Controller,
	log *logger.Logger,
) map[job.Kind]scheduler.Handler {
	return map[job.Kind]scheduler.Handler{
		job.KindFeatureCompute: func(ctx context.Context, j job.Job) error {
			return runFeatureCompute(ctx, j, artifactStore, featurePipeline, catalog)
		},
		job.KindTrain: func(ctx context.Context, j job.Job) error {
			return runTraining(ctx, j, trainingEngine, catalog)
		},
		job.KindDrift: func(ctx context.Context, j job.Job) error {
			done := core.StartObservation(ctx, metrics.MonitoringTickHooks(), map[string]string{"job_id": j.ID})
			monitoringEngine.Tick(ctx)
			done(nil)
			return nil
		},
		job.KindBias: func(ctx context.Context, j job.Job) error {
			done := core.StartObservation(ctx, metrics.MonitoringTickHooks(), map[string]string{"job_id": j.ID})
			monitoringEngine.Tick(ctx)
			done(nil)
			return nil
		},
		job.KindRetrain: func(ctx context.Context, j job.Job) error {
			payload, ok := j.Payload.(job.RetrainPayload)
			if !ok {
				return fmt.Errorf("retrain job %s: unexpected payload type %T", j.ID, j.Payload)
			}
			start := time.Now()
			done := core.StartObservation(ctx, metrics.RetrainRunHooks(), map[string]string{"job_id": payload.RetrainJobID})
			err := retrainController.Run(ctx, payload.RetrainJobID)
			done(err)
			outcome := "completed"
			if err != nil {
				outcome = "error"
			} else if rj, getErr := catalog.GetRetrainJob(ctx, payload.RetrainJobID); getErr == nil {
				outcome = strings.ToLower(string(rj.State))
			}
			metrics.RecordJobRun(string(job.KindRetrain), time.Since(start), err == nil)
			log.WithField("retrain_job_id", payload.RetrainJobID).WithField("outcome", outcome).Info("retrain run finished")
			return err
		},
		job.KindABEvaluate: func(ctx context.Context, j job.Job) error {
			payload, ok := j.Payload.(job.ABEvaluatePayload)
			if !ok {
				return fmt.Errorf("ab_evaluate job %s: unexpected payload type %T", j.ID, j.Payload)
			}
			start := time.Now()
			done := core.StartObservation(ctx, metrics.ABEvaluationHooks(), map[string]string{"ab_test_id": payload.ABTestID})
			t, err := abtestController.AutoConclude(ctx, payload.ABTestID)
			done(err)
			metrics.RecordJobRun(string(job.KindABEvaluate), time.Since(start), err == nil)
			if err == nil && t.Result != nil {
				metrics.RecordABTestEvaluation(string(t.Result.Recommendation))
			}
			return err
		},
	}
}

// runFeatureCompute loads the dataset's raw transaction batch from the
// artifact store, builds an in-memory UserHistory over it, and runs feature
// computation.
func runFeatureCompute(ctx context.Context, j job.Job, artifactStore *artifacts.Store, pipeline *features.Pipeline, catalog storage.Catalog) error {
	payload, ok := j.Payload.(job.FeatureComputePayload)
	if !ok {
		return fmt.Errorf("feature_compute job %s: unexpected payload type %T", j.ID, j.Payload)
	}
	ds, err := catalog.GetDataset(ctx, payload.DatasetID)
	if err != nil {
		return err
	}
	ref, err := artifacts.ParseRef(ds.BlobRef)
	if err != nil {
		return err
	}
	raw, err := artifactStore.Get(ctx, ref)
	if err != nil {
		return err
	}
	var txs []features.Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return fmt.Errorf("decode dataset %s transactions: %w", ds.ID, err)
	}

	cfg := features.DefaultConfig()
	if len(payload.Config) > 0 {
		raw, err := json.Marshal(payload.Config)
		if err != nil {
			return fmt.Errorf("encode feature_compute config for job %s: %w", j.ID, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("decode feature_compute config for job %s: %w", j.ID, err)
		}
	}

	fs, err := catalog.CreateFeatureSet(ctx, featureset.FeatureSet{
		DatasetID: ds.ID,
		Config:    cfg,
		Status:    featureset.StatusRunning,
	})
	if err != nil {
		return err
	}

	history := features.NewBatchHistory(txs)
	done := core.StartObservation(ctx, metrics.FeaturePipelineHooks(), map[string]string{"feature_set_id": fs.ID})
	completed, runErr := pipeline.Run(ctx, fs, txs, history)
	done(runErr)
	if _, err := catalog.UpdateFeatureSet(ctx, completed); err != nil {
		return err
	}
	return runErr
}

// runTraining resolves the feature set named by the job payload, trains a
// candidate model against it, and persists it as TRAINED.
func runTraining(ctx context.Context, j job.Job, engine *training.Engine, catalog storage.Catalog) error {
	payload, ok := j.Payload.(job.TrainPayload)
	if !ok {
		return fmt.Errorf("train job %s: unexpected payload type %T", j.ID, j.Payload)
	}
	fs, err := catalog.GetFeatureSet(ctx, payload.FeatureSetID)
	if err != nil {
		return err
	}
	existing, err := catalog.ListModels(ctx, "fraud-detector", storage.ListFilter{})
	if err != nil {
		return err
	}
	nextVersion := 1
	for _, m := range existing {
		if m.Version >= nextVersion {
			nextVersion = m.Version + 1
		}
	}

	done := core.StartObservation(ctx, metrics.TrainingJobHooks(), map[string]string{"job_id": j.ID})
	trained, err := engine.Train(ctx, training.Request{
		JobID:              j.ID,
		FeatureSet:         fs,
		ModelName:          "fraud-detector",
		NextVersion:        nextVersion,
		Algorithm:          model.Algorithm(payload.Algorithm),
		Hyperparameters:    payload.Hyperparameters,
		ImbalancedStrategy: training.Strategy(payload.ImbalancedStrategy),
		TrainTestSplit:     payload.TrainTestSplit,
	}, nil)
	done(err)
	if err != nil {
		return err
	}
	_, err = catalog.CreateModel(ctx, trained)
	return err
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered background services (inference's prediction
// log flusher, the monitoring engine's ticker, and the scheduler's workers).
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for orchestration/CLI
// introspection.
func (a *Application) Descriptors() []core.Descriptor {
	out := make([]core.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}

func resolveBuilderOptions(opts ...Option) resolvedBuilder {
	cfg := builderConfig{environment: osEnvironment{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.environment == nil {
		cfg.environment = osEnvironment{}
	}
	runtimeCfg := cfg.runtime
	if !cfg.runtimeDefined {
		runtimeCfg = runtimeConfigFromEnv(cfg.environment)
	}
	return resolvedBuilder{runtime: normalizeRuntimeConfig(runtimeCfg)}
}

func runtimeConfigFromEnv(env Environment) RuntimeConfig {
	if env == nil {
		env = osEnvironment{}
	}
	db, _ := parseInt(env.Lookup("REDIS_DB"))
	autoResolveN, _ := parseInt(env.Lookup("ALERT_AUTO_RESOLVE_WINDOWS"))
	return RuntimeConfig{
		ModelName:             env.Lookup("MODEL_NAME"),
		RedisAddr:             env.Lookup("REDIS_ADDR"),
		RedisPassword:         env.Lookup("REDIS_PASSWORD"),
		RedisDB:               db,
		FeatureCacheTTL:       env.Lookup("FEATURE_CACHE_TTL"),
		WebhookURL:            env.Lookup("ALERT_WEBHOOK_URL"),
		MonitoringInterval:    env.Lookup("MONITORING_INTERVAL"),
		SchedulerPollInterval: env.Lookup("SCHEDULER_POLL_INTERVAL"),
		AlertAutoResolveN:     autoResolveN,
	}
}

func normalizeRuntimeConfig(cfg RuntimeConfig) runtimeSettings {
	featureCacheTTL := 5 * time.Minute
	if trimmed := strings.TrimSpace(cfg.FeatureCacheTTL); trimmed != "" {
		if parsed, err := time.ParseDuration(trimmed); err == nil && parsed > 0 {
			featureCacheTTL = parsed
		}
	}
	monitoringInterval := time.Duration(0) // zero lets monitoring.Config.applyDefaults pick 1h
	if trimmed := strings.TrimSpace(cfg.MonitoringInterval); trimmed != "" {
		if parsed, err := time.ParseDuration(trimmed); err == nil && parsed > 0 {
			monitoringInterval = parsed
		}
	}
	schedulerPoll := time.Duration(0)
	if trimmed := strings.TrimSpace(cfg.SchedulerPollInterval); trimmed != "" {
		if parsed, err := time.ParseDuration(trimmed); err == nil && parsed > 0 {
			schedulerPoll = parsed
		}
	}
	return runtimeSettings{
		modelName:             strings.TrimSpace(cfg.ModelName),
		redisAddr:             strings.TrimSpace(cfg.RedisAddr),
		redisPassword:         cfg.RedisPassword,
		redisDB:               cfg.RedisDB,
		featureCacheTTL:       featureCacheTTL,
		webhookURL:            strings.TrimSpace(cfg.WebhookURL),
		monitoringInterval:    monitoringInterval,
		schedulerPollInterval: schedulerPoll,
		alertAutoResolveN:     cfg.AlertAutoResolveN,
	}
}

func parseInt(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

type osEnvironment struct{}

func (osEnvironment) Lookup(key string) string {
	return os.Getenv(key)
}
