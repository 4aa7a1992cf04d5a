package inference

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

func promoteToProduction(t *testing.T, catalog *memory.Store, m model.Model) model.Model {
	t.Helper()
	created, err := catalog.CreateModel(context.Background(), m)
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if err := catalog.PatchModelState(context.Background(), created.ID, model.StatusTrained, model.StatusStaging); err != nil {
		t.Fatalf("stage: %v", err)
	}
	promoted, _, err := catalog.PromoteToProduction(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	return promoted
}

func TestModelHolderLoadsCurrentProductionModelOnStart(t *testing.T) {
	store := newTestArtifactStore(t)
	catalog := memory.New()
	fitted := storeFittedModel(t, store, "fraud-detector")
	fitted.Status = model.StatusTrained
	promoteToProduction(t, catalog, fitted)

	holder := NewModelHolder("fraud-detector", store, catalog, logger.NewDefault("test"))
	if err := holder.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	lm, err := holder.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if lm.record.Name != "fraud-detector" {
		t.Fatalf("unexpected model loaded: %+v", lm.record)
	}
}

func TestModelHolderHotSwapsOnModelActivated(t *testing.T) {
	store := newTestArtifactStore(t)
	catalog := memory.New()
	first := storeFittedModel(t, store, "fraud-detector")
	first.Status = model.StatusTrained
	promoteToProduction(t, catalog, first)

	holder := NewModelHolder("fraud-detector", store, catalog, logger.NewDefault("test"))
	if err := holder.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	initial, _ := holder.Current()
	initialID := initial.record.ID

	second := storeFittedModel(t, store, "fraud-detector")
	second.ID = "fraud-detector-v2"
	second.Version = 2
	second.Status = model.StatusTrained
	promoteToProduction(t, catalog, second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur, err := holder.Current()
		if err == nil && cur.record.ID != initialID {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("holder did not hot-swap to the newly promoted model")
}
