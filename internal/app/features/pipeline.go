// Package features implements the feature pipeline: it turns raw
// transactions into a named feature matrix, runs the four-stage selection
// over it, and persists the selected matrix as a content-addressed
// artifact alongside the FeatureSet record describing how it was produced.
package features

import (
	"context"
	"encoding/json"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
)

// storedMatrix is the on-disk form of a selected feature matrix: only the
// selected columns are kept, Labels travel alongside for training.
type storedMatrix struct {
	Columns []string             `json:"columns"`
	Data    map[string][]float64 `json:"data"`
	Labels  []float64            `json:"labels"`
}

// Pipeline runs feature computation and selection end to end against an
// artifact store.
type Pipeline struct {
	artifacts *artifacts.Store
	calendar  HolidayCalendar
}

// NewPipeline builds a Pipeline backed by store. A nil calendar falls back
// to NewStaticHolidayCalendar.
func NewPipeline(store *artifacts.Store, calendar HolidayCalendar) *Pipeline {
	if calendar == nil {
		calendar = NewStaticHolidayCalendar()
	}
	return &Pipeline{artifacts: store, calendar: calendar}
}

// Run computes, selects and persists the feature matrix for fs. It mutates
// and returns fs with the computed fields filled in; on any failure fs.Status
// becomes FAILED with FailureError set and no artifact is written, matching
// the "no partial output" requirement for feature set runs.
func (p *Pipeline) Run(ctx context.Context, fs featureset.FeatureSet, txs []Transaction, history UserHistory) (featureset.FeatureSet, error) {
	cfg := withDefaults(fs.Config)
	fs.Config = cfg

	if len(txs) == 0 {
		return fail(fs, apperr.NewValidation("feature computation requires at least one transaction"))
	}

	matrix := Build(txs, history, p.calendar, cfg)
	if len(matrix.Columns) == 0 {
		return fail(fs, apperr.NewValidation("no feature families were enabled"))
	}
	fs.ComputedFeatures = append([]string(nil), matrix.Columns...)

	selection := Select(matrix, cfg)
	if len(selection.Selected) == 0 {
		return fail(fs, apperr.NewValidation("no feature survived selection"))
	}

	fs.SelectedFeatures = selection.Selected
	fs.VarianceScores = selection.Variance
	fs.CorrelationDrops = selection.CorrelationDrop
	fs.MutualInfoScores = selection.MutualInfo
	fs.ImportanceScores = selection.Importance
	fs.FinalRankScores = selection.FinalRank
	fs.SchemaHash = SchemaHash(selection.Selected)

	selected := matrix.Select(selection.Selected)
	payload, err := json.Marshal(storedMatrix{
		Columns: selected.Columns,
		Data:    selected.Data,
		Labels:  selected.Labels,
	})
	if err != nil {
		return fail(fs, apperr.NewInternal(err))
	}

	ref, err := p.artifacts.Put(ctx, artifacts.KindFeatures, payload)
	if err != nil {
		return fail(fs, err)
	}

	fs.ArtifactRef = ref.String()
	fs.Status = featureset.StatusCompleted
	fs.FailureError = ""
	fs.CompletedAt = completedAt()
	return fs, nil
}

// LoadMatrix fetches and decodes a previously persisted feature matrix by
// its artifact ref, for the training engine to consume.
func (p *Pipeline) LoadMatrix(ctx context.Context, ref string) (Matrix, error) {
	parsed, err := artifacts.ParseRef(ref)
	if err != nil {
		return Matrix{}, err
	}
	raw, err := p.artifacts.Get(ctx, parsed)
	if err != nil {
		return Matrix{}, err
	}
	var stored storedMatrix
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Matrix{}, apperr.NewArtifactCorrupted(ref, err)
	}
	return Matrix{Columns: stored.Columns, Data: stored.Data, Labels: stored.Labels}, nil
}

func fail(fs featureset.FeatureSet, err error) (featureset.FeatureSet, error) {
	fs.Status = featureset.StatusFailed
	fs.FailureError = err.Error()
	return fs, err
}

func completedAt() time.Time {
	return time.Now().UTC()
}
