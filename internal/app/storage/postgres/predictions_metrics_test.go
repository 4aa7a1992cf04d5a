package postgres

import (
	"testing"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

func TestPredictionLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)
	m := seedModel(t, store, ctx, "fraud-detector", 1, "")

	p, err := store.AppendPrediction(ctx, prediction.Prediction{
		ModelID:   m.ID,
		RequestID: "req-1",
		Features:  map[string]float64{"amount_zscore": 2.3},
		Score:     0.87,
		Label:     true,
		LatencyMS: 12.5,
		Explanation: &prediction.Explanation{
			TopPositive: []prediction.FeatureContribution{{Feature: "amount_zscore", Contribution: 0.4}},
		},
	})
	if err != nil {
		t.Fatalf("append prediction: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected id to be assigned")
	}

	if err := store.RecordActualLabel(ctx, p.ID, true); err != nil {
		t.Fatalf("record actual label: %v", err)
	}

	list, err := store.ListPredictions(ctx, m.ID, time.Time{}, time.Time{}, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list predictions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(list))
	}
	if list[0].ActualLabel == nil || !*list[0].ActualLabel {
		t.Fatalf("expected actual label to round-trip")
	}
	if list[0].Explanation == nil || len(list[0].Explanation.TopPositive) != 1 {
		t.Fatalf("expected explanation to round-trip, got %+v", list[0].Explanation)
	}
}

func TestDriftAndBiasMetrics(t *testing.T) {
	store, ctx := newTestStore(t)
	m := seedModel(t, store, ctx, "fraud-detector", 1, "")

	window := metric.Window{Start: time.Now().Add(-24 * time.Hour).UTC(), End: time.Now().UTC()}

	d, err := store.RecordDrift(ctx, metric.Drift{
		ModelID:    m.ID,
		Feature:    "amount_zscore",
		MetricName: "psi",
		Value:      0.15,
		Threshold:  0.2,
		Status:     metric.StatusOK,
		Window:     window,
	})
	if err != nil {
		t.Fatalf("record drift: %v", err)
	}
	if d.ID == "" {
		t.Fatalf("expected id to be assigned")
	}

	driftList, err := store.ListDrift(ctx, m.ID, "amount_zscore", storage.ListFilter{})
	if err != nil {
		t.Fatalf("list drift: %v", err)
	}
	if len(driftList) != 1 {
		t.Fatalf("expected 1 drift row, got %d", len(driftList))
	}

	b, err := store.RecordBias(ctx, metric.Bias{
		ModelID:            m.ID,
		ProtectedAttribute: "age_group",
		MetricName:         "disparate_impact",
		Value:              0.82,
		Threshold:          0.8,
		Status:             metric.StatusOK,
		Window:             window,
	})
	if err != nil {
		t.Fatalf("record bias: %v", err)
	}
	if b.ID == "" {
		t.Fatalf("expected id to be assigned")
	}

	biasList, err := store.ListBias(ctx, m.ID, "age_group", storage.ListFilter{})
	if err != nil {
		t.Fatalf("list bias: %v", err)
	}
	if len(biasList) != 1 {
		t.Fatalf("expected 1 bias row, got %d", len(biasList))
	}
}
