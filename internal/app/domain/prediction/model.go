// Package prediction defines the append-only inference log written by the
// inference service and read back by the monitoring engine.
package prediction

import "time"

// Explanation carries the top contributing features for one prediction,
// computed off the hot path.
type Explanation struct {
	TopPositive []FeatureContribution
	TopNegative []FeatureContribution
}

// FeatureContribution is one feature's signed contribution to a score.
type FeatureContribution struct {
	Feature      string
	Contribution float64
}

// Prediction is append-only; ActualLabel may be filled in later once the
// ground truth is known, feeding concept-drift evaluation.
type Prediction struct {
	ID        string
	ModelID   string
	RequestID string

	Features map[string]float64
	Score    float64
	Label    bool
	Confidence float64

	Explanation *Explanation

	LatencyMS float64
	Degraded  bool

	ActualLabel *bool

	CreatedAt time.Time
}
