// Package abtest implements champion/challenger traffic-split experiments,
// deterministic routing, and significance-based conclusions.
package abtest

import (
	"context"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/abtest"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/registry"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// proportionMetrics are primary metrics evaluated as a two-proportion
// z-test over labeled outcomes; anything else falls back to a bootstrapped
// Welch's t-test over each arm's raw Score samples.
var proportionMetrics = map[string]bool{
	"accuracy":  true,
	"precision": true,
	"recall":    true,
}

// Controller drives the experiment lifecycle over a storage.Catalog.
type Controller struct {
	catalog  storage.Catalog
	registry *registry.Registry
	log      *logger.Logger
}

// New builds a Controller.
func New(catalog storage.Catalog, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDefault("abtest")
	}
	return &Controller{catalog: catalog, registry: registry.New(catalog), log: log}
}

// Create validates and persists a new experiment in DRAFT.
func (c *Controller) Create(ctx context.Context, t abtest.ABTest) (abtest.ABTest, error) {
	if t.ChampionModelID == "" || t.ChallengerModelID == "" {
		return abtest.ABTest{}, apperr.NewValidation("ab test requires both a champion and a challenger model id")
	}
	if t.TrafficSplit <= 0 || t.TrafficSplit >= 1 {
		return abtest.ABTest{}, apperr.NewValidation("traffic_split must be in (0, 1), got %v", t.TrafficSplit)
	}
	if t.MinSamples <= 0 {
		t.MinSamples = 1000
	}
	if t.PrimaryMetric == "" {
		t.PrimaryMetric = "accuracy"
	}
	t.Status = abtest.StatusDraft
	return c.catalog.CreateABTest(ctx, t)
}

// Start transitions a DRAFT experiment to RUNNING, after which inference
// begins routing traffic per RouteToChallenger.
func (c *Controller) Start(ctx context.Context, id string) (abtest.ABTest, error) {
	t, err := c.catalog.GetABTest(ctx, id)
	if err != nil {
		return abtest.ABTest{}, err
	}
	if t.Status != abtest.StatusDraft {
		return abtest.ABTest{}, apperr.NewConflictingState("ab test %s is %s, not DRAFT", id, t.Status)
	}
	t.Status = abtest.StatusRunning
	return c.catalog.UpdateABTest(ctx, t)
}

// RouteRequest resolves which model id should score a given transaction,
// and whether the challenger's score is allowed to be returned externally
// (mirror mode logs both arms but only ever serves the champion's).
func (c *Controller) RouteRequest(ctx context.Context, testID, transactionID string) (modelID string, servesExternally bool, err error) {
	t, err := c.catalog.GetABTest(ctx, testID)
	if err != nil {
		return "", false, err
	}
	if t.Status != abtest.StatusRunning {
		return t.ChampionModelID, true, nil
	}
	toChallenger := RouteToChallenger(transactionID, t.TrafficSplit)
	if !toChallenger {
		if err := c.catalog.IncrementSamples(ctx, testID, 1, 0); err != nil {
			return "", false, err
		}
		return t.ChampionModelID, true, nil
	}
	if err := c.catalog.IncrementSamples(ctx, testID, 0, 1); err != nil {
		return "", false, err
	}
	return t.ChallengerModelID, !t.MirrorMode, nil
}

// ReadyToEvaluate reports whether both arms have accumulated MinSamples.
func ReadyToEvaluate(t abtest.ABTest) bool {
	return min(t.ChampionSamples, t.ChallengerSamples) >= t.MinSamples
}

// Evaluate runs the significance test once both arms have enough samples,
// recording a Result and moving the experiment to EVALUATING. It does not
// conclude the test; that is a separate, explicit (or auto-promote) step.
func (c *Controller) Evaluate(ctx context.Context, id string) (abtest.ABTest, error) {
	t, err := c.catalog.GetABTest(ctx, id)
	if err != nil {
		return abtest.ABTest{}, err
	}
	if t.Status != abtest.StatusRunning {
		return abtest.ABTest{}, apperr.NewConflictingState("ab test %s is %s, not RUNNING", id, t.Status)
	}
	if !ReadyToEvaluate(t) {
		return abtest.ABTest{}, apperr.NewValidation("ab test %s has not reached min_samples on both arms (champion=%d challenger=%d min=%d)",
			id, t.ChampionSamples, t.ChallengerSamples, t.MinSamples)
	}

	championPreds, err := c.catalog.ListPredictions(ctx, t.ChampionModelID, t.StartedAt, time.Now().UTC(), storage.ListFilter{})
	if err != nil {
		return abtest.ABTest{}, err
	}
	challengerPreds, err := c.catalog.ListPredictions(ctx, t.ChallengerModelID, t.StartedAt, time.Now().UTC(), storage.ListFilter{})
	if err != nil {
		return abtest.ABTest{}, err
	}

	result := evaluateSignificance(t, championPreds, challengerPreds)
	t.Result = &result
	t.Status = abtest.StatusEvaluating
	return c.catalog.UpdateABTest(ctx, t)
}

// evaluateSignificance picks a two-proportion z-test for known proportion
// metrics and a bootstrapped Welch's t-test over raw scores otherwise, per
// DESIGN.md's open question decision, so a single code path's p-value
// drives the recommendation regardless of metric shape.
func evaluateSignificance(t abtest.ABTest, championPreds, challengerPreds []prediction.Prediction) abtest.Result {
	var stat, pValue, championEstimate, challengerEstimate float64

	if proportionMetrics[t.PrimaryMetric] {
		sA, nA := proportionOutcome(championPreds, t.PrimaryMetric)
		sB, nB := proportionOutcome(challengerPreds, t.PrimaryMetric)
		stat, pValue = TwoProportionZTest(sA, nA, sB, nB)
		championEstimate = safeDivide(sA, nA)
		challengerEstimate = safeDivide(sB, nB)
	} else {
		championSamples := scoreSamples(championPreds)
		challengerSamples := scoreSamples(challengerPreds)
		bootA := Bootstrap(championSamples, bootstrapResamples, t.ID+"|champion")
		bootB := Bootstrap(challengerSamples, bootstrapResamples, t.ID+"|challenger")
		stat, pValue, _ = WelchTTest(bootA, bootB)
		championEstimate = mean(championSamples)
		challengerEstimate = mean(challengerSamples)
	}

	rec := abtest.RecommendationNoDifference
	if pValue < (1 - confidenceLevel) {
		if challengerEstimate > championEstimate {
			rec = abtest.RecommendationChallengerWins
		} else {
			rec = abtest.RecommendationChampionWins
		}
	}

	return abtest.Result{
		Recommendation:     rec,
		Statistic:          stat,
		PValue:             pValue,
		ChampionEstimate:   championEstimate,
		ChallengerEstimate: challengerEstimate,
		ConfidenceLevel:    confidenceLevel,
	}
}

// proportionOutcome reduces labeled predictions to a successes-out-of-total
// count for a two-proportion z-test: accuracy trials over every labeled
// prediction, precision/recall trials restricted to the relevant predicted
// or actual population, mirroring the monitoring engine's confusion-matrix
// convention.
func proportionOutcome(preds []prediction.Prediction, metric string) (successes, total int) {
	var tp, fp, fn, tn int
	for _, p := range preds {
		if p.ActualLabel == nil {
			continue
		}
		actual := *p.ActualLabel
		switch {
		case p.Label && actual:
			tp++
		case p.Label && !actual:
			fp++
		case !p.Label && actual:
			fn++
		default:
			tn++
		}
	}
	switch metric {
	case "precision":
		return tp, tp + fp
	case "recall":
		return tp, tp + fn
	default: // "accuracy"
		return tp + tn, tp + fp + fn + tn
	}
}

func scoreSamples(preds []prediction.Prediction) []float64 {
	out := make([]float64, len(preds))
	for i, p := range preds {
		out[i] = p.Score
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func safeDivide(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Conclude ends an evaluated experiment. When promote is true and the
// recommendation favors the challenger, the challenger model is promoted
// to PRODUCTION via the registry (which itself re-checks baselines);
// otherwise the experiment simply ends with its Result on record.
func (c *Controller) Conclude(ctx context.Context, id string, promote bool) (abtest.ABTest, error) {
	t, err := c.catalog.GetABTest(ctx, id)
	if err != nil {
		return abtest.ABTest{}, err
	}
	if t.Status != abtest.StatusEvaluating {
		return abtest.ABTest{}, apperr.NewConflictingState("ab test %s is %s, not EVALUATING", id, t.Status)
	}
	if t.Result == nil {
		return abtest.ABTest{}, apperr.NewConflictingState("ab test %s has no recorded result", id)
	}

	if promote && t.Result.Recommendation == abtest.RecommendationChallengerWins {
		if _, _, err := c.registry.Promote(ctx, t.ChallengerModelID); err != nil {
			return abtest.ABTest{}, err
		}
	}

	ended := time.Now().UTC()
	t.Status = abtest.StatusCompleted
	t.EndedAt = &ended
	return c.catalog.UpdateABTest(ctx, t)
}

// Abort ends a DRAFT or RUNNING experiment without evaluating it, e.g. when
// an operator cancels a misconfigured test.
func (c *Controller) Abort(ctx context.Context, id string) (abtest.ABTest, error) {
	t, err := c.catalog.GetABTest(ctx, id)
	if err != nil {
		return abtest.ABTest{}, err
	}
	if t.Status == abtest.StatusCompleted || t.Status == abtest.StatusAborted {
		return abtest.ABTest{}, apperr.NewConflictingState("ab test %s is already terminal (%s)", id, t.Status)
	}
	ended := time.Now().UTC()
	t.Status = abtest.StatusAborted
	t.EndedAt = &ended
	return c.catalog.UpdateABTest(ctx, t)
}

// AutoConclude evaluates and, only when the experiment's AutoPromote is
// set, immediately concludes with promotion; otherwise it leaves the
// experiment at EVALUATING for a human to call Conclude explicitly.
func (c *Controller) AutoConclude(ctx context.Context, id string) (abtest.ABTest, error) {
	t, err := c.Evaluate(ctx, id)
	if err != nil {
		return abtest.ABTest{}, err
	}
	if !t.AutoPromote {
		c.log.WithField("ab_test_id", id).Info("abtest: evaluated, awaiting manual conclusion")
		return t, nil
	}
	return c.Conclude(ctx, id, true)
}
