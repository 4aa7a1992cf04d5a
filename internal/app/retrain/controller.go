// Package retrain implements the PENDING..terminal state machine that
// decides whether a freshly trained candidate should replace the
// incumbent production model.
package retrain

import (
	"context"
	"fmt"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/domain/retrainjob"
	"github.com/r3e-network/fraudctl/internal/app/registry"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/training"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// MinImprovement is the default minimum absolute F1 improvement a
// candidate must show over the incumbent to pass COMPARISON.
const MinImprovement = 0.01

// FeaturePreparer resolves the FeatureSet a candidate should train against
// for one RetrainJob's DataStrategy. The default implementation picks the
// latest COMPLETED FeatureSet for the job's DatasetID; a caller training
// against freshly merged transaction data supplies its own.
type FeaturePreparer interface {
	Prepare(ctx context.Context, job retrainjob.RetrainJob) (featureset.FeatureSet, error)
}

type defaultFeaturePreparer struct {
	catalog storage.Catalog
}

func (p defaultFeaturePreparer) Prepare(ctx context.Context, job retrainjob.RetrainJob) (featureset.FeatureSet, error) {
	sets, err := p.catalog.ListFeatureSets(ctx, job.DatasetID, storage.ListFilter{Limit: 50})
	if err != nil {
		return featureset.FeatureSet{}, err
	}
	var latest featureset.FeatureSet
	for _, fs := range sets {
		if fs.Status != featureset.StatusCompleted {
			continue
		}
		if fs.CompletedAt.After(latest.CompletedAt) {
			latest = fs
		}
	}
	if latest.ID == "" {
		return featureset.FeatureSet{}, apperr.NewValidation("no completed feature set found for dataset %s", job.DatasetID)
	}
	return latest, nil
}

// Controller drives the retraining state machine over a storage.Catalog.
type Controller struct {
	catalog  storage.Catalog
	registry *registry.Registry
	engine   *training.Engine
	prepare  FeaturePreparer
	log      *logger.Logger

	minImprovement float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithFeaturePreparer overrides the default latest-completed-feature-set
// preparer, e.g. to actually merge historical and new labels per strategy.
func WithFeaturePreparer(p FeaturePreparer) Option {
	return func(c *Controller) { c.prepare = p }
}

// WithMinImprovement overrides MinImprovement.
func WithMinImprovement(v float64) Option {
	return func(c *Controller) {
		if v > 0 {
			c.minImprovement = v
		}
	}
}

// New builds a Controller.
func New(catalog storage.Catalog, engine *training.Engine, log *logger.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logger.NewDefault("retrain")
	}
	c := &Controller{
		catalog:        catalog,
		registry:       registry.New(catalog),
		engine:         engine,
		log:            log,
		minImprovement: MinImprovement,
	}
	c.prepare = defaultFeaturePreparer{catalog: catalog}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives one RetrainJob from its current state through to a terminal
// one, in a single synchronous pass. Each step persists its outcome via
// PatchRetrainState's CAS before attempting the next, so a crash between
// steps leaves the job in a well-defined, resumable state rather than
// silently losing progress.
func (c *Controller) Run(ctx context.Context, jobID string) error {
	job, err := c.catalog.GetRetrainJob(ctx, jobID)
	if err != nil {
		return err
	}

	for !job.State.Terminal() {
		next, err := c.step(ctx, job)
		if err != nil {
			c.fail(ctx, job, err)
			return err
		}
		if next.State == job.State {
			// COMPARISON passed without auto-promotion; the job waits here.
			return nil
		}
		job = next
	}
	return nil
}

func (c *Controller) step(ctx context.Context, job retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	switch job.State {
	case retrainjob.StatePending:
		return c.transition(ctx, job, retrainjob.StatePending, retrainjob.StateDataPreparation, nil)
	case retrainjob.StateDataPreparation:
		return c.runDataPreparation(ctx, job)
	case retrainjob.StateTraining:
		return c.runTraining(ctx, job)
	case retrainjob.StateValidation:
		return c.runValidation(ctx, job)
	case retrainjob.StateComparison:
		return c.runComparison(ctx, job)
	default:
		return job, fmt.Errorf("retrain job %s: no handler for state %s", job.ID, job.State)
	}
}

func (c *Controller) runDataPreparation(ctx context.Context, job retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	fs, err := c.prepare.Prepare(ctx, job)
	if err != nil {
		return job, err
	}
	return c.transition(ctx, job, retrainjob.StateDataPreparation, retrainjob.StateTraining, func(j *retrainjob.RetrainJob) {
		j.DatasetID = fs.DatasetID
		j.FeatureSetID = fs.ID
	})
}

func (c *Controller) runTraining(ctx context.Context, job retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	incumbent, hasIncumbent, err := c.findIncumbent(ctx, job.ModelName)
	if err != nil {
		return job, err
	}

	fs, err := c.catalog.GetFeatureSet(ctx, job.FeatureSetID)
	if err != nil {
		return job, err
	}

	algo := model.AlgorithmSmallNN
	hyperparams := map[string]any{}
	version := 1
	if hasIncumbent {
		if incumbent.Algorithm != "" {
			algo = incumbent.Algorithm
		}
		hyperparams = incumbent.Hyperparameters
		version = incumbent.Version + 1
	}

	trained, err := c.engine.Train(ctx, training.Request{
		JobID:              job.ID,
		FeatureSet:         fs,
		ModelName:          job.ModelName,
		NextVersion:        version,
		Algorithm:          algo,
		Hyperparameters:    hyperparams,
		TrainTestSplit:     0.2,
		DecisionThreshold:  0.5,
	}, nil)
	if err != nil {
		return job, err
	}

	created, err := c.catalog.CreateModel(ctx, trained)
	if err != nil {
		return job, err
	}

	return c.transition(ctx, job, retrainjob.StateTraining, retrainjob.StateValidation, func(j *retrainjob.RetrainJob) {
		j.CandidateModelID = created.ID
		j.IncumbentModelID = incumbentID(hasIncumbent, incumbent)
	})
}

func (c *Controller) runValidation(ctx context.Context, job retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	candidate, err := c.catalog.GetModel(ctx, job.CandidateModelID)
	if err != nil {
		return job, err
	}
	baselines, err := c.catalog.ListBaselines(ctx, job.IncumbentModelID)
	if err != nil {
		return job, err
	}
	var failures []string
	for _, b := range baselines {
		value, ok := candidate.Metrics.Get(b.MetricName)
		if !ok || !b.Operator.Satisfied(value, b.Threshold) {
			failures = append(failures, b.MetricName)
		}
	}
	if len(failures) > 0 {
		return c.reject(ctx, job, fmt.Sprintf("candidate fails baselines: %v", failures))
	}
	if err := c.catalog.PatchModelState(ctx, candidate.ID, model.StatusTrained, model.StatusStaging); err != nil {
		return job, err
	}
	return c.transition(ctx, job, retrainjob.StateValidation, retrainjob.StateComparison, nil)
}

func (c *Controller) runComparison(ctx context.Context, job retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	candidate, err := c.catalog.GetModel(ctx, job.CandidateModelID)
	if err != nil {
		return job, err
	}

	incumbentF1 := 0.0
	if job.IncumbentModelID != "" {
		incumbent, err := c.catalog.GetModel(ctx, job.IncumbentModelID)
		if err != nil {
			return job, err
		}
		if v, ok := incumbent.Metrics.Get("f1"); ok {
			incumbentF1 = v
		}
	}
	candidateF1, _ := candidate.Metrics.Get("f1")
	improvement := candidateF1 - incumbentF1

	result := &retrainjob.ComparisonResult{
		PrimaryMetric:       "f1",
		CandidateValue:      candidateF1,
		IncumbentValue:      incumbentF1,
		AbsoluteImprovement: improvement,
		MinImprovement:      c.minImprovement,
		Passed:              improvement >= c.minImprovement,
	}

	if !result.Passed {
		return c.rejectWithResult(ctx, job, "no_significant_improvement", result)
	}

	autoPromote := job.AutoPromote && job.TriggerReason != retrainjob.TriggerBiasDetected
	next, err := c.transition(ctx, job, retrainjob.StateComparison, retrainjob.StateComparison, func(j *retrainjob.RetrainJob) {
		j.ComparisonResult = result
	})
	if err != nil {
		return job, err
	}

	if !autoPromote {
		c.log.WithField("retrain_job_id", job.ID).Info("retrain: candidate passed comparison, awaiting manual promotion")
		return next, nil
	}

	promoted, _, err := c.registry.Promote(ctx, candidate.ID)
	if err != nil {
		return c.rejectWithResult(ctx, job, err.Error(), result)
	}
	return c.transition(ctx, next, retrainjob.StateComparison, retrainjob.StatePromoted, func(j *retrainjob.RetrainJob) {
		j.CandidateModelID = promoted.ID
	})
}

func (c *Controller) reject(ctx context.Context, job retrainjob.RetrainJob, reason string) (retrainjob.RetrainJob, error) {
	return c.transition(ctx, job, job.State, retrainjob.StateRejected, func(j *retrainjob.RetrainJob) {
		j.FailureReason = reason
	})
}

func (c *Controller) rejectWithResult(ctx context.Context, job retrainjob.RetrainJob, reason string, result *retrainjob.ComparisonResult) (retrainjob.RetrainJob, error) {
	return c.transition(ctx, job, job.State, retrainjob.StateRejected, func(j *retrainjob.RetrainJob) {
		j.FailureReason = reason
		j.ComparisonResult = result
	})
}

func (c *Controller) fail(ctx context.Context, job retrainjob.RetrainJob, cause error) {
	if job.State.Terminal() {
		return
	}
	_ = c.catalog.PatchRetrainState(ctx, job.ID, job.State, retrainjob.StateFailed, func(j *retrainjob.RetrainJob) {
		j.FailureReason = cause.Error()
	})
}

func (c *Controller) transition(ctx context.Context, job retrainjob.RetrainJob, from, to retrainjob.State, update func(*retrainjob.RetrainJob)) (retrainjob.RetrainJob, error) {
	if err := c.catalog.PatchRetrainState(ctx, job.ID, from, to, update); err != nil {
		return job, err
	}
	return c.catalog.GetRetrainJob(ctx, job.ID)
}

func (c *Controller) findIncumbent(ctx context.Context, modelName string) (model.Model, bool, error) {
	models, err := c.catalog.ListModels(ctx, modelName, storage.ListFilter{Limit: 1000})
	if err != nil {
		return model.Model{}, false, err
	}
	for _, m := range models {
		if m.Status == model.StatusProduction {
			return m, true, nil
		}
	}
	return model.Model{}, false, nil
}

func incumbentID(has bool, m model.Model) string {
	if !has {
		return ""
	}
	return m.ID
}
