package abtest

import (
	"context"
	"testing"
	"time"

	domainabtest "github.com/r3e-network/fraudctl/internal/app/domain/abtest"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
)

func seedModel(t *testing.T, catalog *memory.Store, name string, production bool) model.Model {
	t.Helper()
	m, err := catalog.CreateModel(context.Background(), model.Model{Name: name, Version: 1, Status: model.StatusTrained})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if !production {
		return m
	}
	if err := catalog.PatchModelState(context.Background(), m.ID, model.StatusTrained, model.StatusStaging); err != nil {
		t.Fatalf("stage: %v", err)
	}
	promoted, _, err := catalog.PromoteToProduction(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	return promoted
}

func appendLabeled(t *testing.T, catalog *memory.Store, modelID string, label, actual bool, when time.Time) {
	t.Helper()
	score := 0.2
	if label {
		score = 0.8
	}
	if _, err := catalog.AppendPrediction(context.Background(), prediction.Prediction{
		ModelID:     modelID,
		Label:       label,
		ActualLabel: &actual,
		Score:       score,
		CreatedAt:   when,
	}); err != nil {
		t.Fatalf("append prediction: %v", err)
	}
}

func TestCreateRejectsInvalidTrafficSplit(t *testing.T) {
	catalog := memory.New()
	c := New(catalog, nil)
	_, err := c.Create(context.Background(), domainabtest.ABTest{
		ChampionModelID: "m1", ChallengerModelID: "m2", TrafficSplit: 1.5,
	})
	if err == nil {
		t.Fatalf("expected an error for traffic_split out of (0,1)")
	}
}

func TestRouteRequestAccumulatesSamples(t *testing.T) {
	catalog := memory.New()
	ctx := context.Background()
	champion := seedModel(t, catalog, "fraud-detector", true)
	challenger := seedModel(t, catalog, "fraud-detector", false)

	c := New(catalog, nil)
	created, err := c.Create(ctx, domainabtest.ABTest{
		ChampionModelID: champion.ID, ChallengerModelID: challenger.ID,
		TrafficSplit: 0.5, MinSamples: 10, PrimaryMetric: "accuracy",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	started, err := c.Start(ctx, created.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domainabtest.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", started.Status)
	}

	for i := 0; i < 30; i++ {
		if _, _, err := c.RouteRequest(ctx, created.ID, txnID(i)); err != nil {
			t.Fatalf("route request: %v", err)
		}
	}

	final, err := catalog.GetABTest(ctx, created.ID)
	if err != nil {
		t.Fatalf("get ab test: %v", err)
	}
	if final.ChampionSamples+final.ChallengerSamples != 30 {
		t.Fatalf("expected 30 total routed samples, got %d+%d", final.ChampionSamples, final.ChallengerSamples)
	}
}

func TestEvaluateRecommendsChallengerOnClearImprovement(t *testing.T) {
	catalog := memory.New()
	ctx := context.Background()
	champion := seedModel(t, catalog, "fraud-detector", true)
	challenger := seedModel(t, catalog, "fraud-detector", false)

	c := New(catalog, nil)
	created, err := c.Create(ctx, domainabtest.ABTest{
		ChampionModelID: champion.ID, ChallengerModelID: challenger.ID,
		TrafficSplit: 0.5, MinSamples: 20, PrimaryMetric: "accuracy",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Start(ctx, created.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	now := time.Now()
	for i := 0; i < 20; i++ {
		// Champion is right about half the time, challenger nearly always.
		appendLabeled(t, catalog, champion.ID, i%2 == 0, true, now)
		appendLabeled(t, catalog, challenger.ID, true, true, now)
	}
	if err := catalog.IncrementSamples(ctx, created.ID, 20, 20); err != nil {
		t.Fatalf("increment samples: %v", err)
	}

	evaluated, err := c.Evaluate(ctx, created.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if evaluated.Status != domainabtest.StatusEvaluating {
		t.Fatalf("expected EVALUATING, got %s", evaluated.Status)
	}
	if evaluated.Result == nil {
		t.Fatalf("expected a recorded result")
	}
	if evaluated.Result.Recommendation != domainabtest.RecommendationChallengerWins {
		t.Fatalf("expected CHALLENGER_WINS, got %s (p=%v)", evaluated.Result.Recommendation, evaluated.Result.PValue)
	}
}

func TestEvaluateFailsBeforeMinSamplesReached(t *testing.T) {
	catalog := memory.New()
	ctx := context.Background()
	champion := seedModel(t, catalog, "fraud-detector", true)
	challenger := seedModel(t, catalog, "fraud-detector", false)

	c := New(catalog, nil)
	created, err := c.Create(ctx, domainabtest.ABTest{
		ChampionModelID: champion.ID, ChallengerModelID: challenger.ID,
		TrafficSplit: 0.5, MinSamples: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Start(ctx, created.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := c.Evaluate(ctx, created.ID); err == nil {
		t.Fatalf("expected evaluate to fail before min_samples is reached on both arms")
	}
}

func TestConcludePromotesChallengerOnWin(t *testing.T) {
	catalog := memory.New()
	ctx := context.Background()
	champion := seedModel(t, catalog, "fraud-detector", true)
	challenger := seedModel(t, catalog, "fraud-detector", false)
	if err := catalog.PatchModelState(ctx, challenger.ID, model.StatusTrained, model.StatusStaging); err != nil {
		t.Fatalf("stage challenger: %v", err)
	}

	c := New(catalog, nil)
	created, err := c.Create(ctx, domainabtest.ABTest{
		ChampionModelID: champion.ID, ChallengerModelID: challenger.ID,
		TrafficSplit: 0.5, MinSamples: 10, PrimaryMetric: "accuracy", AutoPromote: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Start(ctx, created.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	now := time.Now()
	for i := 0; i < 15; i++ {
		appendLabeled(t, catalog, champion.ID, i%2 == 0, true, now)
		appendLabeled(t, catalog, challenger.ID, true, true, now)
	}
	if err := catalog.IncrementSamples(ctx, created.ID, 15, 15); err != nil {
		t.Fatalf("increment samples: %v", err)
	}

	final, err := c.AutoConclude(ctx, created.ID)
	if err != nil {
		t.Fatalf("auto conclude: %v", err)
	}
	if final.Status != domainabtest.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}

	promotedChallenger, err := catalog.GetModel(ctx, challenger.ID)
	if err != nil {
		t.Fatalf("get challenger: %v", err)
	}
	if promotedChallenger.Status != model.StatusProduction {
		t.Fatalf("expected challenger to be promoted to production, got %s", promotedChallenger.Status)
	}
}

func txnID(i int) string {
	return "txn-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
