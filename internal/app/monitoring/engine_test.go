package monitoring

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/artifacts/fsdriver"
	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/domain/baseline"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/features"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
)

// referenceMatrixPayload mirrors the unexported JSON shape features.Pipeline
// writes when it persists a selected feature matrix, so tests can seed a
// reference artifact without reaching into the features package's internals.
type referenceMatrixPayload struct {
	Columns []string             `json:"columns"`
	Data    map[string][]float64 `json:"data"`
	Labels  []float64            `json:"labels"`
}

type recordingSink struct {
	mu      sync.Mutex
	raised  []alert.Alert
	okCalls []string
}

func (s *recordingSink) Raise(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raised = append(s.raised, a)
	return nil
}

func (s *recordingSink) NotifyOK(_ context.Context, dedupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.okCalls = append(s.okCalls, dedupKey)
	return nil
}

func newMonitoringFixture(t *testing.T) (*memory.Store, *features.Pipeline, model.Model) {
	t.Helper()
	catalog := memory.New()
	d := fsdriver.New(t.TempDir())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start driver: %v", err)
	}
	store := artifacts.New(d)
	fp := features.NewPipeline(store, nil)

	payload, err := json.Marshal(referenceMatrixPayload{
		Columns: []string{"amount"},
		Data:    map[string][]float64{"amount": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		Labels:  []float64{0, 0, 0, 0, 0, 1, 0, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("marshal reference matrix: %v", err)
	}
	ref, err := store.Put(context.Background(), artifacts.KindFeatures, payload)
	if err != nil {
		t.Fatalf("put reference matrix: %v", err)
	}

	fs, err := catalog.CreateFeatureSet(context.Background(), featureset.FeatureSet{
		DatasetID:   "d1",
		Status:      featureset.StatusCompleted,
		ArtifactRef: ref.String(),
	})
	if err != nil {
		t.Fatalf("create feature set: %v", err)
	}

	m, err := catalog.CreateModel(context.Background(), model.Model{
		Name:         "fraud-detector",
		Version:      1,
		Status:       model.StatusTrained,
		FeatureSetID: fs.ID,
		FeatureNames: []string{"amount"},
	})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if err := catalog.PatchModelState(context.Background(), m.ID, model.StatusTrained, model.StatusStaging); err != nil {
		t.Fatalf("stage: %v", err)
	}
	promoted, _, err := catalog.PromoteToProduction(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	return catalog, fp, promoted
}

func TestRunDataDriftEmitsAlertOnCriticalShift(t *testing.T) {
	catalog, fp, m := newMonitoringFixture(t)
	sink := &recordingSink{}
	e := New(catalog, fp, sink, Config{}, nil)

	now := time.Now()
	var preds []prediction.Prediction
	for i := 0; i < 20; i++ {
		preds = append(preds, prediction.Prediction{
			ModelID:   m.ID,
			Features:  map[string]float64{"amount": 500 + float64(i)},
			CreatedAt: now,
		})
	}
	for _, p := range preds {
		if _, err := catalog.AppendPrediction(context.Background(), p); err != nil {
			t.Fatalf("append prediction: %v", err)
		}
	}

	e.Tick(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.raised) == 0 {
		t.Fatalf("expected at least one alert raised for a large distribution shift")
	}
}

func TestRunConceptDriftComparesAgainstBaseline(t *testing.T) {
	catalog, fp, m := newMonitoringFixture(t)
	sink := &recordingSink{}
	e := New(catalog, fp, sink, Config{}, nil)

	if _, err := catalog.SetBaseline(context.Background(), baseline.Baseline{
		ModelID: m.ID, MetricName: "precision", Operator: baseline.OperatorGTE, Threshold: 0.9,
	}); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	now := time.Now()
	trueVal, falseVal := true, false
	preds := []prediction.Prediction{
		{ModelID: m.ID, Label: true, ActualLabel: &falseVal, CreatedAt: now, Features: map[string]float64{"amount": 1}},
		{ModelID: m.ID, Label: true, ActualLabel: &falseVal, CreatedAt: now, Features: map[string]float64{"amount": 1}},
		{ModelID: m.ID, Label: true, ActualLabel: &trueVal, CreatedAt: now, Features: map[string]float64{"amount": 1}},
	}
	for _, p := range preds {
		if _, err := catalog.AppendPrediction(context.Background(), p); err != nil {
			t.Fatalf("append prediction: %v", err)
		}
	}

	e.Tick(context.Background())

	drift, err := catalog.ListDrift(context.Background(), m.ID, "precision", storage.ListFilter{})
	if err != nil {
		t.Fatalf("list drift: %v", err)
	}
	if len(drift) == 0 {
		t.Fatalf("expected a concept_drift row to be recorded")
	}
}
