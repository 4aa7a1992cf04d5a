// Package memory provides the default in-memory Catalog implementation used
// when no Postgres DSN is configured: simple maps guarded by one mutex,
// deliberately unoptimized.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/core/service"
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
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

// Store is a thread-safe in-memory Catalog. It is intended for tests,
// single-process deployments, and as the default wired by Application.New
// when no DatabaseConfig.DSN is set.
type Store struct {
	mu sync.RWMutex

	datasets    map[string]dataset.Dataset
	featureSets map[string]featureset.FeatureSet
	models      map[string]model.Model
	baselines   map[string]baseline.Baseline
	predictions map[string]prediction.Prediction
	drift       map[string]metric.Drift
	bias        map[string]metric.Bias
	alerts      map[string]alert.Alert
	jobs        map[string]job.Job
	abtests     map[string]abtest.ABTest
	retrains    map[string]retrainjob.RetrainJob

	onModelActivated  []func(storage.ModelActivatedEvent)
	onAlertRaised     []func(storage.AlertRaisedEvent)
	onJobStateChanged []func(storage.JobStateChangedEvent)
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		datasets:    make(map[string]dataset.Dataset),
		featureSets: make(map[string]featureset.FeatureSet),
		models:      make(map[string]model.Model),
		baselines:   make(map[string]baseline.Baseline),
		predictions: make(map[string]prediction.Prediction),
		drift:       make(map[string]metric.Drift),
		bias:        make(map[string]metric.Bias),
		alerts:      make(map[string]alert.Alert),
		jobs:        make(map[string]job.Job),
		abtests:     make(map[string]abtest.ABTest),
		retrains:    make(map[string]retrainjob.RetrainJob),
	}
}

var _ storage.Catalog = (*Store)(nil)

func newID() string { return uuid.NewString() }

func now() time.Time { return time.Now().UTC() }

func applyListFilter[T any](items []T, filter storage.ListFilter) []T {
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return nil
		}
		items = items[filter.Offset:]
	}
	limit := service.ClampLimit(filter.Limit, service.DefaultListLimit, service.MaxListLimit)
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Dataset ---------------------------------------------------------------

func (s *Store) CreateDataset(_ context.Context, d dataset.Dataset) (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = dataset.StatusActive
	}
	d.CreatedAt = now()
	s.datasets[d.ID] = d
	return d, nil
}

func (s *Store) GetDataset(_ context.Context, id string) (dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	if !ok {
		return dataset.Dataset{}, apperr.NewNotFound("dataset", id)
	}
	return d, nil
}

func (s *Store) ListDatasets(_ context.Context, filter storage.ListFilter) ([]dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataset.Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d)
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) ArchiveDataset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datasets[id]
	if !ok {
		return apperr.NewNotFound("dataset", id)
	}
	d.Status = dataset.StatusArchived
	s.datasets[id] = d
	return nil
}

// FeatureSet --------------------------------------------------------------

func (s *Store) CreateFeatureSet(_ context.Context, fs featureset.FeatureSet) (featureset.FeatureSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs.ID == "" {
		fs.ID = newID()
	}
	if fs.Status == "" {
		fs.Status = featureset.StatusPending
	}
	fs.CreatedAt = now()
	s.featureSets[fs.ID] = fs
	return fs, nil
}

func (s *Store) UpdateFeatureSet(_ context.Context, fs featureset.FeatureSet) (featureset.FeatureSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.featureSets[fs.ID]; !ok {
		return featureset.FeatureSet{}, apperr.NewNotFound("feature_set", fs.ID)
	}
	s.featureSets[fs.ID] = fs
	return fs, nil
}

func (s *Store) GetFeatureSet(_ context.Context, id string) (featureset.FeatureSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.featureSets[id]
	if !ok {
		return featureset.FeatureSet{}, apperr.NewNotFound("feature_set", id)
	}
	return fs, nil
}

func (s *Store) GetFeatureSetBySchemaHash(_ context.Context, schemaHash string) (featureset.FeatureSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fs := range s.featureSets {
		if fs.SchemaHash == schemaHash {
			return fs, nil
		}
	}
	return featureset.FeatureSet{}, apperr.NewNotFound("feature_set", schemaHash)
}

func (s *Store) ListFeatureSets(_ context.Context, datasetID string, filter storage.ListFilter) ([]featureset.FeatureSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]featureset.FeatureSet, 0)
	for _, fs := range s.featureSets {
		if datasetID == "" || fs.DatasetID == datasetID {
			out = append(out, fs)
		}
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) PatchFeatureSetState(_ context.Context, id string, from, to featureset.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.featureSets[id]
	if !ok {
		return apperr.NewNotFound("feature_set", id)
	}
	if fs.Status != from {
		return apperr.NewConflictingState(fmt.Sprintf("feature set %s is %s, not %s", id, fs.Status, from))
	}
	fs.Status = to
	if to == featureset.StatusCompleted || to == featureset.StatusFailed {
		fs.CompletedAt = now()
	}
	s.featureSets[id] = fs
	return nil
}

// Model ---------------------------------------------------------------

func (s *Store) CreateModel(_ context.Context, m model.Model) (model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Status == "" {
		m.Status = model.StatusTrained
	}
	m.TrainedAt = now()
	s.models[m.ID] = m
	return m, nil
}

func (s *Store) GetModel(_ context.Context, id string) (model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return model.Model{}, apperr.NewNotFound("model", id)
	}
	return m, nil
}

func (s *Store) GetModelByNameVersion(_ context.Context, name string, version int) (model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		if m.Name == name && m.Version == version {
			return m, nil
		}
	}
	return model.Model{}, apperr.NewNotFound("model", fmt.Sprintf("%s@%d", name, version))
}

func (s *Store) GetProductionModel(_ context.Context, name string) (model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		if m.Name == name && m.Status == model.StatusProduction {
			return m, nil
		}
	}
	return model.Model{}, apperr.NewNotFound("production model", name)
}

func (s *Store) ListModels(_ context.Context, name string, filter storage.ListFilter) ([]model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Model, 0)
	for _, m := range s.models {
		if name == "" || m.Name == name {
			out = append(out, m)
		}
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) PatchModelState(_ context.Context, id string, from, to model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patchModelStateLocked(id, from, to)
}

func (s *Store) patchModelStateLocked(id string, from, to model.Status) error {
	m, ok := s.models[id]
	if !ok {
		return apperr.NewNotFound("model", id)
	}
	if m.Status != from {
		return apperr.NewConflictingState(fmt.Sprintf("model %s is %s, not %s", id, m.Status, from))
	}
	m.Status = to
	switch to {
	case model.StatusArchived:
		m.ArchivedAt = now()
	case model.StatusProduction:
		m.PromotedAt = now()
	}
	s.models[id] = m
	return nil
}

// PromoteToProduction implements the three-step promotion transaction under
// the store's single mutex, which stands in for a real database
// transaction's isolation guarantee.
func (s *Store) PromoteToProduction(_ context.Context, modelID string) (model.Model, *model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.models[modelID]
	if !ok {
		return model.Model{}, nil, apperr.NewNotFound("model", modelID)
	}
	if target.Status != model.StatusStaging {
		return model.Model{}, nil, apperr.NewConflictingState(
			fmt.Sprintf("model %s must be STAGING to promote, is %s", modelID, target.Status))
	}

	var demoted *model.Model
	for id, m := range s.models {
		if m.Status == model.StatusProduction {
			m.Status = model.StatusArchived
			m.ArchivedReason = "superseded"
			m.ArchivedAt = now()
			s.models[id] = m
			copied := m
			demoted = &copied
			break
		}
	}

	target.Status = model.StatusProduction
	target.PromotedAt = now()
	s.models[modelID] = target

	event := storage.ModelActivatedEvent{
		ModelID:             target.ID,
		ModelName:           target.Name,
		SchemaHash:          target.SchemaHash,
		PortableArtifactRef: target.PortableArtifactRef,
		PromotedAt:          target.PromotedAt,
	}
	for _, fn := range s.onModelActivated {
		fn(event)
	}

	return target, demoted, nil
}

// RetireModel archives a PRODUCTION model explicitly, outside of a
// promotion (e.g. an operator pulling a model with no replacement staged).
func (s *Store) RetireModel(_ context.Context, modelID string, reason string) (model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[modelID]
	if !ok {
		return model.Model{}, apperr.NewNotFound("model", modelID)
	}
	if m.Status != model.StatusProduction {
		return model.Model{}, apperr.NewConflictingState(
			fmt.Sprintf("model %s must be PRODUCTION to retire, is %s", modelID, m.Status))
	}
	m.Status = model.StatusArchived
	m.ArchivedReason = reason
	m.ArchivedAt = now()
	s.models[modelID] = m
	return m, nil
}

// Baseline ---------------------------------------------------------------

func (s *Store) SetBaseline(_ context.Context, b baseline.Baseline) (baseline.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.baselines {
		if existing.ModelID == b.ModelID && existing.MetricName == b.MetricName {
			b.ID = id
			s.baselines[id] = b
			return b, nil
		}
	}
	if b.ID == "" {
		b.ID = newID()
	}
	s.baselines[b.ID] = b
	return b, nil
}

func (s *Store) ListBaselines(_ context.Context, modelID string) ([]baseline.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]baseline.Baseline, 0)
	for _, b := range s.baselines {
		if b.ModelID == modelID {
			out = append(out, b)
		}
	}
	return out, nil
}

// Change feed subscriptions ------------------------------------------------

func (s *Store) OnModelActivated(fn func(storage.ModelActivatedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onModelActivated = append(s.onModelActivated, fn)
}

func (s *Store) OnAlertRaised(fn func(storage.AlertRaisedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAlertRaised = append(s.onAlertRaised, fn)
}

func (s *Store) OnJobStateChanged(fn func(storage.JobStateChangedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobStateChanged = append(s.onJobStateChanged, fn)
}
