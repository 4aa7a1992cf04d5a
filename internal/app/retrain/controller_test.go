package retrain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/artifacts/fsdriver"
	"github.com/r3e-network/fraudctl/internal/app/domain/baseline"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/domain/retrainjob"
	"github.com/r3e-network/fraudctl/internal/app/features"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
	"github.com/r3e-network/fraudctl/internal/app/training"
)

type fixtureMatrix struct {
	Columns []string             `json:"columns"`
	Data    map[string][]float64 `json:"data"`
	Labels  []float64            `json:"labels"`
}

// newControllerFixture builds a catalog with one COMPLETED FeatureSet whose
// artifact a real training.Engine can load and fit against, so Run exercises
// the genuine DATA_PREPARATION -> TRAINING -> VALIDATION -> COMPARISON path
// rather than a stand-in.
func newControllerFixture(t *testing.T) (*memory.Store, *training.Engine, featureset.FeatureSet) {
	t.Helper()
	ctx := context.Background()
	catalog := memory.New()

	d := fsdriver.New(t.TempDir())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start driver: %v", err)
	}
	artifactStore := artifacts.New(d)
	pipeline := features.NewPipeline(artifactStore, nil)
	engine := training.NewEngine(artifactStore, pipeline)

	columns := []string{"amount", "velocity"}
	data := map[string][]float64{
		"amount":   {10, 12, 11, 9, 500, 510, 520, 8, 505, 13, 495, 14},
		"velocity": {1, 1, 2, 1, 9, 8, 10, 1, 9, 2, 8, 1},
	}
	labels := []float64{0, 0, 0, 0, 1, 1, 1, 0, 1, 0, 1, 0}

	payload, err := json.Marshal(fixtureMatrix{Columns: columns, Data: data, Labels: labels})
	if err != nil {
		t.Fatalf("marshal matrix: %v", err)
	}
	ref, err := artifactStore.Put(ctx, artifacts.KindFeatures, payload)
	if err != nil {
		t.Fatalf("put matrix: %v", err)
	}

	fs, err := catalog.CreateFeatureSet(ctx, featureset.FeatureSet{
		DatasetID:        "ds1",
		Status:           featureset.StatusCompleted,
		SelectedFeatures: columns,
		SchemaHash:       features.SchemaHash(columns),
		ArtifactRef:      ref.String(),
		CompletedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("create feature set: %v", err)
	}
	return catalog, engine, fs
}

func newPendingJob(t *testing.T, catalog *memory.Store, fs featureset.FeatureSet, trigger retrainjob.TriggerReason, autoPromote bool) retrainjob.RetrainJob {
	t.Helper()
	rj, err := catalog.CreateRetrainJob(context.Background(), retrainjob.RetrainJob{
		ModelName:     "fraud-detector",
		TriggerReason: trigger,
		DataStrategy:  retrainjob.DataStrategyReplace,
		DatasetID:     fs.DatasetID,
		AutoPromote:   autoPromote,
	})
	if err != nil {
		t.Fatalf("create retrain job: %v", err)
	}
	return rj
}

func TestRunPromotesCandidateWithNoIncumbent(t *testing.T) {
	ctx := context.Background()
	catalog, engine, fs := newControllerFixture(t)
	rj := newPendingJob(t, catalog, fs, retrainjob.TriggerScheduled, true)

	c := New(catalog, engine, nil, WithMinImprovement(0.0))
	if err := c.Run(ctx, rj.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final, err := catalog.GetRetrainJob(ctx, rj.ID)
	if err != nil {
		t.Fatalf("get retrain job: %v", err)
	}
	if final.State != retrainjob.StatePromoted {
		t.Fatalf("expected PROMOTED, got %s (reason: %s)", final.State, final.FailureReason)
	}
	if final.CandidateModelID == "" {
		t.Fatalf("expected a candidate model id to be recorded")
	}
	candidate, err := catalog.GetModel(ctx, final.CandidateModelID)
	if err != nil {
		t.Fatalf("get candidate: %v", err)
	}
	if candidate.Status != model.StatusProduction {
		t.Fatalf("expected candidate to be promoted to production, got %s", candidate.Status)
	}
}

func TestRunRejectsWhenImprovementBelowThreshold(t *testing.T) {
	ctx := context.Background()
	catalog, engine, fs := newControllerFixture(t)

	incumbent, err := catalog.CreateModel(ctx, model.Model{
		Name:    "fraud-detector",
		Version: 1,
		Status:  model.StatusTrained,
		Metrics: model.Metrics{F1: 1.0},
	})
	if err != nil {
		t.Fatalf("create incumbent: %v", err)
	}
	if err := catalog.PatchModelState(ctx, incumbent.ID, model.StatusTrained, model.StatusStaging); err != nil {
		t.Fatalf("stage incumbent: %v", err)
	}
	if _, _, err := catalog.PromoteToProduction(ctx, incumbent.ID); err != nil {
		t.Fatalf("promote incumbent: %v", err)
	}

	rj := newPendingJob(t, catalog, fs, retrainjob.TriggerScheduled, true)
	c := New(catalog, engine, nil)
	if err := c.Run(ctx, rj.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final, err := catalog.GetRetrainJob(ctx, rj.ID)
	if err != nil {
		t.Fatalf("get retrain job: %v", err)
	}
	if final.State != retrainjob.StateRejected {
		t.Fatalf("expected REJECTED, got %s", final.State)
	}
	if final.FailureReason != "no_significant_improvement" {
		t.Fatalf("expected no_significant_improvement, got %q", final.FailureReason)
	}
}

func TestRunRejectsOnFailedBaseline(t *testing.T) {
	ctx := context.Background()
	catalog, engine, fs := newControllerFixture(t)
	rj := newPendingJob(t, catalog, fs, retrainjob.TriggerScheduled, true)

	// An unreachable baseline guarantees VALIDATION fails regardless of the
	// candidate's actual metrics.
	if _, err := catalog.SetBaseline(ctx, baseline.Baseline{
		ModelID: "", MetricName: "f1", Operator: baseline.OperatorGTE, Threshold: 2.0,
	}); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	c := New(catalog, engine, nil, WithMinImprovement(0.0))
	if err := c.Run(ctx, rj.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final, err := catalog.GetRetrainJob(ctx, rj.ID)
	if err != nil {
		t.Fatalf("get retrain job: %v", err)
	}
	if final.State != retrainjob.StateRejected {
		t.Fatalf("expected REJECTED on failed baseline, got %s", final.State)
	}
}

func TestRunWithBiasTriggerSkipsAutoPromoteEvenWhenPassing(t *testing.T) {
	ctx := context.Background()
	catalog, engine, fs := newControllerFixture(t)
	rj := newPendingJob(t, catalog, fs, retrainjob.TriggerBiasDetected, true)

	c := New(catalog, engine, nil, WithMinImprovement(0.0))
	if err := c.Run(ctx, rj.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final, err := catalog.GetRetrainJob(ctx, rj.ID)
	if err != nil {
		t.Fatalf("get retrain job: %v", err)
	}
	if final.State != retrainjob.StateComparison {
		t.Fatalf("expected job to stop at COMPARISON awaiting manual promotion, got %s", final.State)
	}
	if final.ComparisonResult == nil || !final.ComparisonResult.Passed {
		t.Fatalf("expected a passing comparison result to be recorded")
	}

	candidate, err := catalog.GetModel(ctx, final.CandidateModelID)
	if err != nil {
		t.Fatalf("get candidate: %v", err)
	}
	if candidate.Status == model.StatusProduction {
		t.Fatalf("candidate must not be auto-promoted for a bias-triggered retrain")
	}
}
