// Package metric defines the shared shape of DriftMetric and BiasMetric
// rows; both entities carry the same (model, identity, value, status,
// window) skeleton and differ only in what "identity" names.
package metric

import "time"

// Status is the severity band a computed metric value falls into.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

// Kind distinguishes the family of drift/bias computation a row records.
type Kind string

const (
	KindDataDrift    Kind = "data_drift"
	KindConceptDrift Kind = "concept_drift"
	KindBias         Kind = "bias"
)

// Window is the half-open time range a metric was computed over.
type Window struct {
	Start time.Time
	End   time.Time
}

// Bucket rounds the window to a coarse identity used for alert dedup keys.
func (w Window) Bucket() string {
	return w.Start.UTC().Format("2006-01-02")
}

// Drift is one row of the drift_metrics table: a numeric or categorical
// feature compared against its training-time reference window.
type Drift struct {
	ID          string
	ModelID     string
	Feature     string
	MetricName  string // "psi", "ks", "chi2", or a concept-drift metric name
	Value       float64
	PValue      float64
	Threshold   float64
	Status      Status
	Window      Window
	ComputedAt  time.Time
}

// Bias is one row of the bias_metrics table: a fairness statistic computed
// over a protected attribute.
type Bias struct {
	ID                 string
	ModelID            string
	ProtectedAttribute string
	MetricName         string // "demographic_parity", "equalized_odds", "disparate_impact", "fpr_parity"
	Value              float64
	Threshold          float64
	Status             Status
	Window             Window
	ComputedAt         time.Time
}
