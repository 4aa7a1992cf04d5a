// Package model defines the trained-model entity and its promotion lifecycle.
package model

import "time"

// Status is the lifecycle of a Model. At most one Model may be in
// StatusProduction at any time (enforced by the catalog's partial unique
// index and, defensively, by the registry's promotion transaction).
type Status string

const (
	StatusTrained    Status = "TRAINED"
	StatusStaging    Status = "STAGING"
	StatusProduction Status = "PRODUCTION"
	StatusArchived   Status = "ARCHIVED"
)

// Algorithm is the training algorithm tag.
type Algorithm string

const (
	AlgorithmIsolationForest Algorithm = "isolation_forest"
	AlgorithmXGBoostLike     Algorithm = "xgboost_like"
	AlgorithmLightGBMLike    Algorithm = "lightgbm_like"
	AlgorithmRandomForest    Algorithm = "random_forest"
	AlgorithmSmallNN         Algorithm = "small_nn"
)

// Metrics holds the fitted evaluation metrics produced by training.
type Metrics struct {
	Precision float64
	Recall    float64
	F1        float64
	AUCROC    float64
	FPR       float64
}

// Get returns the named metric, supporting Baseline comparisons that refer
// to metrics by name rather than by struct field.
func (m Metrics) Get(name string) (float64, bool) {
	switch name {
	case "precision":
		return m.Precision, true
	case "recall":
		return m.Recall, true
	case "f1":
		return m.F1, true
	case "auc_roc", "auc":
		return m.AUCROC, true
	case "fpr":
		return m.FPR, true
	default:
		return 0, false
	}
}

// FeatureImportance is one feature's contribution weight from the fitted model.
type FeatureImportance struct {
	Feature    string
	Importance float64
}

// Model references exactly one FeatureSet by both id and schema_hash so that
// training-serving skew can be detected without a join.
type Model struct {
	ID      string
	Name    string
	Version int

	FeatureSetID   string
	SchemaHash     string
	FeatureNames   []string

	Algorithm       Algorithm
	Hyperparameters map[string]any

	Metrics           Metrics
	FeatureImportance []FeatureImportance

	NativeArtifactRef   string
	PortableArtifactRef string
	ExplainerRef        string
	Checksum            string

	Status         Status
	ArchivedReason string

	TrainedAt   time.Time
	PromotedAt  time.Time
	ArchivedAt  time.Time
}
