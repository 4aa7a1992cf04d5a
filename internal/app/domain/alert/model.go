// Package alert defines deduplicated, severity-tagged operational events.
package alert

import (
	"fmt"
	"time"
)

// Severity is a three-level taxonomy.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the alert lifecycle: ACTIVE -> ACKNOWLEDGED -> RESOLVED, with
// DISMISSED as a terminal alternative from any non-terminal state.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusDismissed    Status = "DISMISSED"
)

// SourceKind names the component that raised the alert.
type SourceKind string

const (
	SourceDataDrift    SourceKind = "data_drift"
	SourceConceptDrift SourceKind = "concept_drift"
	SourceBias         SourceKind = "bias"
	SourceArtifact     SourceKind = "artifact"
	SourceInternal     SourceKind = "internal"
)

// Alert is deduplicated by DedupKey: at most one ACTIVE alert may exist per
// key at a time.
type Alert struct {
	ID         string
	ModelID    string
	SourceKind SourceKind
	SourceRef  string
	AlertType  string // e.g. "data_drift:amount_zscore"

	Severity Severity
	Status   Status

	Title   string
	Details map[string]any

	DedupKey        string
	OccurrenceCount int

	WindowBucket string

	RaisedAt       time.Time
	LastSeenAt     time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// DedupKey builds the (model_id, alert_type, window_bucket) key alerts are
// deduplicated on.
func DedupKey(modelID, alertType, windowBucket string) string {
	return fmt.Sprintf("%s|%s|%s", modelID, alertType, windowBucket)
}
