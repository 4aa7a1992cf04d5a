package postgres

import (
	"context"
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/domain/baseline"
	"github.com/r3e-network/fraudctl/internal/app/domain/dataset"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

func seedModel(t *testing.T, store *Store, ctx context.Context, name string, version int, status model.Status) model.Model {
	t.Helper()
	d, err := store.CreateDataset(ctx, dataset.Dataset{Name: name, Version: 1, Checksum: "x", BlobRef: "y", LabelColumn: "is_fraud"})
	if err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	fs, err := store.CreateFeatureSet(ctx, featureset.FeatureSet{DatasetID: d.ID, Name: "fs", SchemaHash: "hash"})
	if err != nil {
		t.Fatalf("seed feature set: %v", err)
	}
	m, err := store.CreateModel(ctx, model.Model{
		Name:         name,
		Version:      version,
		FeatureSetID: fs.ID,
		SchemaHash:   "hash",
		Algorithm:    model.AlgorithmRandomForest,
		Metrics:      model.Metrics{Precision: 0.9, Recall: 0.8, F1: 0.85, AUCROC: 0.92, FPR: 0.02},
	})
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	if status != "" && status != model.StatusTrained {
		if err := store.PatchModelState(ctx, m.ID, model.StatusTrained, status); err != nil {
			t.Fatalf("seed model status: %v", err)
		}
		m.Status = status
	}
	return m
}

func TestModelLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)

	m := seedModel(t, store, ctx, "fraud-detector", 1, "")
	if m.Status != model.StatusTrained {
		t.Fatalf("expected TRAINED, got %s", m.Status)
	}

	byName, err := store.GetModelByNameVersion(ctx, "fraud-detector", 1)
	if err != nil {
		t.Fatalf("get by name/version: %v", err)
	}
	if byName.ID != m.ID {
		t.Fatalf("expected matching model")
	}

	if err := store.PatchModelState(ctx, m.ID, model.StatusTrained, model.StatusStaging); err != nil {
		t.Fatalf("stage model: %v", err)
	}

	if _, err := store.GetProductionModel(ctx, "fraud-detector"); err == nil {
		t.Fatalf("expected no production model yet")
	}

	promoted, demoted, err := store.PromoteToProduction(ctx, m.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted.Status != model.StatusProduction {
		t.Fatalf("expected PRODUCTION, got %s", promoted.Status)
	}
	if demoted != nil {
		t.Fatalf("expected no incumbent to demote")
	}

	prod, err := store.GetProductionModel(ctx, "fraud-detector")
	if err != nil {
		t.Fatalf("get production model: %v", err)
	}
	if prod.ID != m.ID {
		t.Fatalf("expected promoted model to be production")
	}

	list, err := store.ListModels(ctx, "fraud-detector", storage.ListFilter{})
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 model, got %d", len(list))
	}

	retired, err := store.RetireModel(ctx, m.ID, "operator pull")
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	if retired.Status != model.StatusArchived || retired.ArchivedReason != "operator pull" {
		t.Fatalf("expected archived with reason, got %+v", retired)
	}
}

func TestPromoteToProductionDemotesIncumbent(t *testing.T) {
	store, ctx := newTestStore(t)

	incumbent := seedModel(t, store, ctx, "fraud-detector", 1, model.StatusStaging)
	if _, _, err := store.PromoteToProduction(ctx, incumbent.ID); err != nil {
		t.Fatalf("promote incumbent: %v", err)
	}

	candidate := seedModel(t, store, ctx, "fraud-detector", 2, model.StatusStaging)
	promoted, demoted, err := store.PromoteToProduction(ctx, candidate.ID)
	if err != nil {
		t.Fatalf("promote candidate: %v", err)
	}
	if promoted.ID != candidate.ID {
		t.Fatalf("expected candidate promoted")
	}
	if demoted == nil || demoted.ID != incumbent.ID {
		t.Fatalf("expected incumbent demoted, got %+v", demoted)
	}
	if demoted.Status != model.StatusArchived || demoted.ArchivedReason != "superseded" {
		t.Fatalf("expected incumbent archived as superseded, got %+v", demoted)
	}
}

func TestPromoteToProductionRejectsNonStaging(t *testing.T) {
	store, ctx := newTestStore(t)
	m := seedModel(t, store, ctx, "fraud-detector", 1, "")
	if _, _, err := store.PromoteToProduction(ctx, m.ID); err == nil {
		t.Fatalf("expected conflict promoting a TRAINED model")
	}
}

func TestBaselines(t *testing.T) {
	store, ctx := newTestStore(t)
	m := seedModel(t, store, ctx, "fraud-detector", 1, "")

	b, err := store.SetBaseline(ctx, baseline.Baseline{ModelID: m.ID, MetricName: "precision", Operator: baseline.OperatorGTE, Threshold: 0.85})
	if err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	b.Threshold = 0.9
	updated, err := store.SetBaseline(ctx, b)
	if err != nil {
		t.Fatalf("update baseline: %v", err)
	}
	if updated.ID != b.ID {
		t.Fatalf("expected same baseline id on upsert")
	}

	list, err := store.ListBaselines(ctx, m.ID)
	if err != nil {
		t.Fatalf("list baselines: %v", err)
	}
	if len(list) != 1 || list[0].Threshold != 0.9 {
		t.Fatalf("expected updated threshold, got %+v", list)
	}
}
