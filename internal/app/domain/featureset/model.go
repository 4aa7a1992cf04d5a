// Package featureset defines the feature selection artifact owned by a Dataset.
package featureset

import "time"

// Status is the lifecycle of a FeatureSet.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Config toggles feature families and selection parameters. Zero numeric
// parameters and an empty AggregationWindows fall back to the defaults in
// features.DefaultConfig; the Enable* family toggles are used as given.
type Config struct {
	EnableTransaction bool
	EnableBehavioral  bool
	EnableTemporal    bool
	EnableAggregation bool

	AggregationWindows []time.Duration

	VarianceThreshold    float64
	CorrelationThreshold float64
	MutualInfoK          int
	MaxFeatures          int
}

// StageScore records one feature's score at one selection stage.
type StageScore struct {
	Feature string
	Score   float64
}

// FeatureSet is owned by exactly one Dataset.
type FeatureSet struct {
	ID        string
	DatasetID string
	Name      string

	Config Config

	ComputedFeatures []string
	SelectedFeatures []string

	VarianceScores    []StageScore
	CorrelationDrops  []string
	MutualInfoScores  []StageScore
	ImportanceScores  []StageScore
	FinalRankScores   []StageScore

	SchemaHash string
	ArtifactRef string

	Status       Status
	FailureError string

	CreatedAt   time.Time
	CompletedAt time.Time
}
