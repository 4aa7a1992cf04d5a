// Package dataset defines the ingested-data entity feature sets are built from.
package dataset

import "time"

// Status is the lifecycle of a Dataset.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusProcessing Status = "PROCESSING"
	StatusArchived   Status = "ARCHIVED"
)

// Column describes one column of a Dataset's schema.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Dataset is identified by (Name, Version); a new version is a new entity,
// the parent link is preserved via ParentID. Immutable once ACTIVE.
type Dataset struct {
	ID          string
	Name        string
	Version     int
	ParentID    string
	Schema      []Column
	RowCount    int64
	ColumnCount int
	Checksum    string
	BlobRef     string
	LabelColumn string
	Status      Status
	CreatedAt   time.Time
}
