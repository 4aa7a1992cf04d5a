package inference

import (
	"context"
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := newTestArtifactStore(t)
	catalog := memory.New()
	fitted := storeFittedModel(t, store, "fraud-detector")
	fitted.Status = model.StatusTrained
	promoteToProduction(t, catalog, fitted)

	svc := New("fraud-detector", store, catalog, nil, nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return svc
}

func TestPredictScoresKnownFeatures(t *testing.T) {
	svc := newTestService(t)
	p, err := svc.Predict(context.Background(), "req-1", map[string]float64{"amount": 110, "velocity": 55}, false)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.ModelID == "" {
		t.Fatalf("expected model id to be set")
	}
	if p.Degraded {
		t.Fatalf("expected a clean (non-degraded) prediction")
	}
}

func TestPredictRejectsMissingFeature(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Predict(context.Background(), "req-1", map[string]float64{"amount": 110}, false)
	if apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestPredictWithExplainPopulatesExplanation(t *testing.T) {
	svc := newTestService(t)
	p, err := svc.Predict(context.Background(), "req-1", map[string]float64{"amount": 110, "velocity": 55}, true)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.Explanation == nil {
		t.Fatalf("expected an explanation to be attached")
	}
}

func TestBatchPredictScoresEveryRow(t *testing.T) {
	svc := newTestService(t)
	rows := []map[string]float64{
		{"amount": 1, "velocity": 1},
		{"amount": 120, "velocity": 60},
	}
	out, err := svc.BatchPredict(context.Background(), "batch-1", rows)
	if err != nil {
		t.Fatalf("batch predict: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(out))
	}
	if out[1].Score <= out[0].Score {
		t.Fatalf("expected the higher-amount row to score higher")
	}
}
