// Package job defines the scheduler's unit of work. Payloads are a tagged
// union: each Kind has exactly one matching Payload implementation, decided
// at enqueue time and never re-interpreted under a different kind.
package job

import "time"

// Status is the job lifecycle.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Kind discriminates the payload carried by a Job.
type Kind string

const (
	KindFeatureCompute Kind = "feature_compute"
	KindTrain          Kind = "train"
	KindDrift          Kind = "drift"
	KindBias           Kind = "bias"
	KindRetrain        Kind = "retrain"
	KindABEvaluate     Kind = "ab_evaluate"
)

// Payload is implemented by exactly one concrete type per Kind.
type Payload interface {
	Kind() Kind
}

// FeatureComputePayload drives one feature computation run.
type FeatureComputePayload struct {
	DatasetID string
	Config    map[string]any
}

func (FeatureComputePayload) Kind() Kind { return KindFeatureCompute }

// TrainPayload drives one training run.
type TrainPayload struct {
	FeatureSetID       string
	Algorithm          string
	Hyperparameters    map[string]any
	ImbalancedStrategy string
	TrainTestSplit     float64
}

func (TrainPayload) Kind() Kind { return KindTrain }

// DriftPayload drives one data/concept-drift computation.
type DriftPayload struct {
	ModelID      string
	WindowDays   int
	ConceptDrift bool
}

func (DriftPayload) Kind() Kind { return KindDrift }

// BiasPayload drives one bias computation.
type BiasPayload struct {
	ModelID              string
	ProtectedAttributes  []string
}

func (BiasPayload) Kind() Kind { return KindBias }

// RetrainPayload drives one retraining-controller state-machine run.
type RetrainPayload struct {
	RetrainJobID string
}

func (RetrainPayload) Kind() Kind { return KindRetrain }

// ABEvaluatePayload drives one A/B test evaluation pass.
type ABEvaluatePayload struct {
	ABTestID string
}

func (ABEvaluatePayload) Kind() Kind { return KindABEvaluate }

// Schedule describes how a Job re-fires. Nil means the job is one-shot.
type Schedule struct {
	CronExpr string
	Enabled  bool
}

// Job is the scheduler's unit of work; it is claimed via CAS on NextRunAt
// and deduplicated on IdempotencyKey.
type Job struct {
	ID      string
	Kind    Kind
	Payload Payload

	Schedule       *Schedule
	IdempotencyKey string

	Status   Status
	Progress float64

	Priority    int
	Attempts    int
	MaxAttempts int

	NextRunAt      time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time

	LastError string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
