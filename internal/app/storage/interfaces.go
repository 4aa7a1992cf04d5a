// Package storage defines the metadata catalog's per-entity store contracts
// and the typed change feed components subscribe to.
package storage

import (
	"context"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/abtest"
	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/domain/baseline"
	"github.com/r3e-network/fraudctl/internal/app/domain/dataset"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/job"
	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/domain/retrainjob"
)

// ListFilter is a generic page/filter envelope used to bound page sizes
// across every List* method.
type ListFilter struct {
	Offset int
	Limit  int
	Fields map[string]string
}

// DatasetStore persists Dataset rows.
type DatasetStore interface {
	CreateDataset(ctx context.Context, d dataset.Dataset) (dataset.Dataset, error)
	GetDataset(ctx context.Context, id string) (dataset.Dataset, error)
	ListDatasets(ctx context.Context, filter ListFilter) ([]dataset.Dataset, error)
	ArchiveDataset(ctx context.Context, id string) error
}

// FeatureSetStore persists FeatureSet rows.
type FeatureSetStore interface {
	CreateFeatureSet(ctx context.Context, fs featureset.FeatureSet) (featureset.FeatureSet, error)
	UpdateFeatureSet(ctx context.Context, fs featureset.FeatureSet) (featureset.FeatureSet, error)
	GetFeatureSet(ctx context.Context, id string) (featureset.FeatureSet, error)
	GetFeatureSetBySchemaHash(ctx context.Context, schemaHash string) (featureset.FeatureSet, error)
	ListFeatureSets(ctx context.Context, datasetID string, filter ListFilter) ([]featureset.FeatureSet, error)
	// PatchFeatureSetState performs an optimistic CAS on Status.
	PatchFeatureSetState(ctx context.Context, id string, from, to featureset.Status) error
}

// ModelStore persists Model rows and implements the atomic promotion
// transaction that moves a model to PRODUCTION.
type ModelStore interface {
	CreateModel(ctx context.Context, m model.Model) (model.Model, error)
	GetModel(ctx context.Context, id string) (model.Model, error)
	GetModelByNameVersion(ctx context.Context, name string, version int) (model.Model, error)
	GetProductionModel(ctx context.Context, name string) (model.Model, error)
	ListModels(ctx context.Context, name string, filter ListFilter) ([]model.Model, error)
	// PatchModelState performs an optimistic CAS on Status; callers MUST use
	// PromoteToProduction rather than this for TRAINED/STAGING->PRODUCTION.
	PatchModelState(ctx context.Context, id string, from, to model.Status) error
	// PromoteToProduction runs the three-step promotion transaction: verify
	// target is STAGING, demote the current PRODUCTION model (if any) to
	// ARCHIVED with archived_reason "superseded", set target to PRODUCTION
	// and stamp PromotedAt. All-or-nothing.
	PromoteToProduction(ctx context.Context, modelID string) (promoted model.Model, demoted *model.Model, err error)
	// RetireModel explicitly archives a PRODUCTION model outside of a
	// promotion (CAS PRODUCTION->ARCHIVED, stamping ArchivedReason/At).
	RetireModel(ctx context.Context, modelID string, reason string) (model.Model, error)
}

// BaselineStore persists Baseline rows, unique on (ModelID, MetricName).
type BaselineStore interface {
	SetBaseline(ctx context.Context, b baseline.Baseline) (baseline.Baseline, error)
	ListBaselines(ctx context.Context, modelID string) ([]baseline.Baseline, error)
}

// PredictionStore persists the append-only prediction log.
type PredictionStore interface {
	AppendPrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error)
	ListPredictions(ctx context.Context, modelID string, from, to time.Time, filter ListFilter) ([]prediction.Prediction, error)
	RecordActualLabel(ctx context.Context, predictionID string, label bool) error
}

// MetricStore persists DriftMetric and BiasMetric rows.
type MetricStore interface {
	RecordDrift(ctx context.Context, d metric.Drift) (metric.Drift, error)
	ListDrift(ctx context.Context, modelID string, feature string, filter ListFilter) ([]metric.Drift, error)
	RecordBias(ctx context.Context, b metric.Bias) (metric.Bias, error)
	ListBias(ctx context.Context, modelID string, attribute string, filter ListFilter) ([]metric.Bias, error)
}

// AlertStore persists Alert rows and implements dedup-on-submit.
type AlertStore interface {
	// SubmitAlert creates a new ACTIVE alert for DedupKey, or merges into
	// an existing ACTIVE/ACKNOWLEDGED alert for the same key (bumping
	// LastSeenAt and OccurrenceCount) if one exists.
	SubmitAlert(ctx context.Context, a alert.Alert) (alert.Alert, bool /*merged*/, error)
	GetAlert(ctx context.Context, id string) (alert.Alert, error)
	ListAlerts(ctx context.Context, filter ListFilter) ([]alert.Alert, error)
	// PatchAlertState performs an optimistic CAS on Status; Acknowledge is
	// a no-op (not an error) when the alert is already ACKNOWLEDGED.
	PatchAlertState(ctx context.Context, id string, from, to alert.Status) error
}

// JobStore persists Job rows and implements the scheduler's CAS claim.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, kind job.Kind, filter ListFilter) ([]job.Job, error)
	// ClaimDueJobs atomically transitions up to limit QUEUED jobs with
	// NextRunAt <= now to RUNNING, stamping LeaseOwner/LeaseExpiresAt.
	// Only one caller may win each job (CAS on next_run_at/state).
	ClaimDueJobs(ctx context.Context, kinds []job.Kind, owner string, leaseTTL time.Duration, limit int, now time.Time) ([]job.Job, error)
	CompleteJob(ctx context.Context, id string, progress float64) error
	FailJob(ctx context.Context, id string, reason string, reschedule *time.Time) error
	CancelJob(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
	// SweepStaleLeases resets RUNNING jobs whose lease has expired back to
	// QUEUED, incrementing Attempts; jobs whose Attempts reaches MaxAttempts go FAILED.
	SweepStaleLeases(ctx context.Context, now time.Time) (reset int, failed int, err error)
}

// ABTestStore persists ABTest rows.
type ABTestStore interface {
	CreateABTest(ctx context.Context, t abtest.ABTest) (abtest.ABTest, error)
	GetABTest(ctx context.Context, id string) (abtest.ABTest, error)
	GetABTestByName(ctx context.Context, name string) (abtest.ABTest, error)
	ListABTests(ctx context.Context, filter ListFilter) ([]abtest.ABTest, error)
	UpdateABTest(ctx context.Context, t abtest.ABTest) (abtest.ABTest, error)
	IncrementSamples(ctx context.Context, id string, championDelta, challengerDelta int) error
}

// RetrainJobStore persists RetrainJob rows.
type RetrainJobStore interface {
	CreateRetrainJob(ctx context.Context, r retrainjob.RetrainJob) (retrainjob.RetrainJob, error)
	GetRetrainJob(ctx context.Context, id string) (retrainjob.RetrainJob, error)
	ListRetrainJobs(ctx context.Context, modelName string, filter ListFilter) ([]retrainjob.RetrainJob, error)
	// PatchRetrainState performs an optimistic CAS on State.
	PatchRetrainState(ctx context.Context, id string, from, to retrainjob.State, update func(*retrainjob.RetrainJob)) error
}

// ChangeKind discriminates the typed change-feed events emitted by the catalog.
type ChangeKind string

const (
	ChangeModelActivated  ChangeKind = "ModelActivated"
	ChangeAlertRaised     ChangeKind = "AlertRaised"
	ChangeJobStateChanged ChangeKind = "JobStateChanged"
)

// ModelActivatedEvent is published once per successful promotion, in
// promotion order.
type ModelActivatedEvent struct {
	ModelID             string
	ModelName           string
	SchemaHash          string
	PortableArtifactRef string
	PromotedAt          time.Time
}

// AlertRaisedEvent is published whenever SubmitAlert creates a new ACTIVE alert.
type AlertRaisedEvent struct {
	AlertID   string
	ModelID   string
	AlertType string
	Severity  alert.Severity
}

// JobStateChangedEvent is published on every Job state transition.
type JobStateChangedEvent struct {
	JobID string
	Kind  job.Kind
	From  job.Status
	To    job.Status
}

// ChangeFeed is the typed, in-process change feed subscribers (Inference,
// Alert Manager, Scheduler) attach to. A Postgres-backed implementation
// fans these out from LISTEN/NOTIFY triggers; the in-memory implementation
// fans them out directly from the store methods above.
type ChangeFeed interface {
	OnModelActivated(func(ModelActivatedEvent))
	OnAlertRaised(func(AlertRaisedEvent))
	OnJobStateChanged(func(JobStateChangedEvent))
}

// Catalog aggregates every per-entity store plus the change feed behind a
// single handle that the application wires into each component.
type Catalog interface {
	DatasetStore
	FeatureSetStore
	ModelStore
	BaselineStore
	PredictionStore
	MetricStore
	AlertStore
	JobStore
	ABTestStore
	RetrainJobStore
	ChangeFeed
}
