package training

import (
	"encoding/json"
	"sort"

	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
)

// Explainer is the lightweight local explainer artifact trained alongside
// the model: for each feature it records the fitted importance weight and
// the training-set mean, so a per-prediction contribution can be
// approximated as importance * (value - mean) without re-running the
// full model. It is intentionally off the inference hot path, since
// explanation is allowed to exceed the serving latency budget.
type Explainer struct {
	Columns    []string  `json:"columns"`
	Importance []float64 `json:"importance"`
	Means      []float64 `json:"means"`
}

// NewExplainer builds an Explainer from the fitted algorithm's importances
// and the training matrix's per-column means.
func NewExplainer(columns []string, importance []float64, rows [][]float64) Explainer {
	means := make([]float64, len(columns))
	for j := range columns {
		var sum float64
		for _, row := range rows {
			if j < len(row) {
				sum += row[j]
			}
		}
		if len(rows) > 0 {
			means[j] = sum / float64(len(rows))
		}
	}
	return Explainer{Columns: columns, Importance: importance, Means: means}
}

// Serialize renders the explainer as the JSON report artifact stored in the
// artifact store.
func (e Explainer) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Explain returns the top-k positive and negative feature contributions
// for one feature vector, aligned to e.Columns.
func (e Explainer) Explain(row map[string]float64, topK int) prediction.Explanation {
	type contribution struct {
		feature string
		value   float64
	}
	contributions := make([]contribution, 0, len(e.Columns))
	for i, col := range e.Columns {
		v, ok := row[col]
		if !ok || i >= len(e.Importance) || i >= len(e.Means) {
			continue
		}
		contributions = append(contributions, contribution{feature: col, value: e.Importance[i] * (v - e.Means[i])})
	}

	sort.Slice(contributions, func(i, j int) bool { return contributions[i].value > contributions[j].value })

	if topK <= 0 {
		topK = 5
	}
	var positive, negative []prediction.FeatureContribution
	for _, c := range contributions {
		if c.value > 0 && len(positive) < topK {
			positive = append(positive, prediction.FeatureContribution{Feature: c.feature, Contribution: c.value})
		}
	}
	for i := len(contributions) - 1; i >= 0 && len(negative) < topK; i-- {
		if contributions[i].value < 0 {
			negative = append(negative, prediction.FeatureContribution{Feature: contributions[i].feature, Contribution: contributions[i].value})
		}
	}

	return prediction.Explanation{TopPositive: positive, TopNegative: negative}
}
