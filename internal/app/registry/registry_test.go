package registry

import (
	"context"
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/baseline"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
)

func newStagedModel(t *testing.T, catalog *memory.Store, metrics model.Metrics) model.Model {
	t.Helper()
	trained, err := catalog.CreateModel(context.Background(), model.Model{
		Name:    "fraud-detector",
		Version: 1,
		Status:  model.StatusTrained,
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	reg := New(catalog)
	if err := reg.Stage(context.Background(), trained.ID); err != nil {
		t.Fatalf("stage: %v", err)
	}
	staged, err := catalog.GetModel(context.Background(), trained.ID)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	return staged
}

func TestPromoteSucceedsWhenBaselinesAreMet(t *testing.T) {
	catalog := memory.New()
	reg := New(catalog)
	m := newStagedModel(t, catalog, model.Metrics{F1: 0.9, Precision: 0.85})

	if _, err := catalog.SetBaseline(context.Background(), baseline.Baseline{
		ModelID: m.ID, MetricName: "f1", Operator: baseline.OperatorGTE, Threshold: 0.8,
	}); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	promoted, demoted, err := reg.Promote(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted.Status != model.StatusProduction {
		t.Fatalf("expected PRODUCTION, got %s", promoted.Status)
	}
	if demoted != nil {
		t.Fatalf("expected no demoted model on first promotion, got %+v", demoted)
	}
}

func TestPromoteFailsWhenBaselinesAreNotMet(t *testing.T) {
	catalog := memory.New()
	reg := New(catalog)
	m := newStagedModel(t, catalog, model.Metrics{F1: 0.5})

	if _, err := catalog.SetBaseline(context.Background(), baseline.Baseline{
		ModelID: m.ID, MetricName: "f1", Operator: baseline.OperatorGTE, Threshold: 0.8,
	}); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	_, _, err := reg.Promote(context.Background(), m.ID)
	if err == nil {
		t.Fatalf("expected baselines-not-met error")
	}
	var notMet *BaselinesNotMetError
	if ok := asBaselinesNotMet(err, &notMet); !ok {
		t.Fatalf("expected a *BaselinesNotMetError, got %T: %v", err, err)
	}
}

func asBaselinesNotMet(err error, target **BaselinesNotMetError) bool {
	e, ok := err.(*BaselinesNotMetError)
	if ok {
		*target = e
	}
	return ok
}

func TestPromoteDemotesExistingProduction(t *testing.T) {
	catalog := memory.New()
	reg := New(catalog)

	first := newStagedModel(t, catalog, model.Metrics{F1: 0.9})
	if _, _, err := reg.Promote(context.Background(), first.ID); err != nil {
		t.Fatalf("promote first: %v", err)
	}

	second := newStagedModel(t, catalog, model.Metrics{F1: 0.95})
	promoted, demoted, err := reg.Promote(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("promote second: %v", err)
	}
	if promoted.ID != second.ID {
		t.Fatalf("expected second model promoted")
	}
	if demoted == nil || demoted.ID != first.ID {
		t.Fatalf("expected first model demoted, got %+v", demoted)
	}
	if demoted.Status != model.StatusArchived || demoted.ArchivedReason != "superseded" {
		t.Fatalf("expected demoted model ARCHIVED with reason superseded, got %+v", demoted)
	}
}

func TestPromoteRejectsNonStagingModel(t *testing.T) {
	catalog := memory.New()
	reg := New(catalog)
	trained, err := catalog.CreateModel(context.Background(), model.Model{Name: "m", Version: 1, Status: model.StatusTrained})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}

	_, _, err = reg.Promote(context.Background(), trained.ID)
	if apperr.CodeOf(err) != apperr.ConflictingState {
		t.Fatalf("expected ConflictingState, got %v", err)
	}
}

func TestRetireArchivesProductionModel(t *testing.T) {
	catalog := memory.New()
	reg := New(catalog)
	m := newStagedModel(t, catalog, model.Metrics{F1: 0.9})
	if _, _, err := reg.Promote(context.Background(), m.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}

	retired, err := reg.Retire(context.Background(), m.ID, "manual retire")
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	if retired.Status != model.StatusArchived || retired.ArchivedReason != "manual retire" {
		t.Fatalf("unexpected retired model: %+v", retired)
	}
}
