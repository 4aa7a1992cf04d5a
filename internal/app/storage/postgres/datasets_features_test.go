package postgres

import (
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/domain/dataset"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

func TestDatasetLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)

	d, err := store.CreateDataset(ctx, dataset.Dataset{
		Name:        "transactions",
		Version:     1,
		Schema:      []dataset.Column{{Name: "amount", Type: "float64"}},
		RowCount:    1000,
		ColumnCount: 12,
		Checksum:    "abc123",
		BlobRef:     "blob://transactions/v1",
		LabelColumn: "is_fraud",
	})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if d.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if d.Status != dataset.StatusActive {
		t.Fatalf("expected default status ACTIVE, got %s", d.Status)
	}

	reloaded, err := store.GetDataset(ctx, d.ID)
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if len(reloaded.Schema) != 1 || reloaded.Schema[0].Name != "amount" {
		t.Fatalf("expected schema to round-trip, got %+v", reloaded.Schema)
	}

	list, err := store.ListDatasets(ctx, storage.ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list datasets: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 dataset, got %d", len(list))
	}

	if err := store.ArchiveDataset(ctx, d.ID); err != nil {
		t.Fatalf("archive dataset: %v", err)
	}
	archived, err := store.GetDataset(ctx, d.ID)
	if err != nil {
		t.Fatalf("get archived dataset: %v", err)
	}
	if archived.Status != dataset.StatusArchived {
		t.Fatalf("expected ARCHIVED, got %s", archived.Status)
	}

	if _, err := store.GetDataset(ctx, "does-not-exist"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestFeatureSetLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)

	d, err := store.CreateDataset(ctx, dataset.Dataset{Name: "transactions", Version: 1, Checksum: "x", BlobRef: "y", LabelColumn: "is_fraud"})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}

	fs, err := store.CreateFeatureSet(ctx, featureset.FeatureSet{
		DatasetID:        d.ID,
		Name:             "baseline",
		Config:           featureset.Config{EnableTransaction: true, MaxFeatures: 50},
		ComputedFeatures: []string{"amount_zscore", "hour_of_day"},
	})
	if err != nil {
		t.Fatalf("create feature set: %v", err)
	}
	if fs.Status != featureset.StatusPending {
		t.Fatalf("expected default status PENDING, got %s", fs.Status)
	}

	fs.SelectedFeatures = []string{"amount_zscore"}
	fs.SchemaHash = "hash-1"
	fs, err = store.UpdateFeatureSet(ctx, fs)
	if err != nil {
		t.Fatalf("update feature set: %v", err)
	}
	if len(fs.SelectedFeatures) != 1 {
		t.Fatalf("expected selected features to persist")
	}

	byHash, err := store.GetFeatureSetBySchemaHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("get by schema hash: %v", err)
	}
	if byHash.ID != fs.ID {
		t.Fatalf("expected matching feature set")
	}

	if err := store.PatchFeatureSetState(ctx, fs.ID, featureset.StatusPending, featureset.StatusRunning); err != nil {
		t.Fatalf("patch state: %v", err)
	}
	if err := store.PatchFeatureSetState(ctx, fs.ID, featureset.StatusRunning, featureset.StatusCompleted); err != nil {
		t.Fatalf("patch state: %v", err)
	}
	completed, err := store.GetFeatureSet(ctx, fs.ID)
	if err != nil {
		t.Fatalf("get feature set: %v", err)
	}
	if completed.CompletedAt.IsZero() {
		t.Fatalf("expected CompletedAt to be stamped")
	}

	if err := store.PatchFeatureSetState(ctx, fs.ID, featureset.StatusPending, featureset.StatusRunning); err == nil {
		t.Fatalf("expected conflict patching from a stale state")
	}

	list, err := store.ListFeatureSets(ctx, d.ID, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list feature sets: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 feature set, got %d", len(list))
	}
}
