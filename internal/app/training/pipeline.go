package training

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/features"
)

// Request is one training run's input, mirroring job.TrainPayload plus the
// resolved FeatureSet it targets.
type Request struct {
	JobID       string
	FeatureSet  featureset.FeatureSet
	ModelName   string
	NextVersion int

	Algorithm          model.Algorithm
	Hyperparameters    map[string]any
	ImbalancedStrategy Strategy
	TrainTestSplit     float64
	DecisionThreshold  float64
	MaxIterations      int
}

// ProgressFunc reports a monotonic [0,1] progress value and a stage tag,
// matching the Job record's progress reporting contract.
type ProgressFunc func(progress float64, stage string)

// Engine runs the training pipeline end to end: feature materialization,
// fit, evaluation on the held-out split, and artifact persistence.
type Engine struct {
	artifacts *artifacts.Store
	features  *features.Pipeline
}

// NewEngine builds a training Engine over the given artifact and feature stores.
func NewEngine(artifactStore *artifacts.Store, featurePipeline *features.Pipeline) *Engine {
	return &Engine{artifacts: artifactStore, features: featurePipeline}
}

// Train runs the full training pipeline and returns a Model in StatusTrained.
// Cancellation is polled at each stage boundary below; the call abandons
// within the current stage rather than completing a partially-cancelled run.
func (e *Engine) Train(ctx context.Context, req Request, onProgress ProgressFunc) (model.Model, error) {
	report := func(p float64, stage string) {
		if onProgress != nil {
			onProgress(p, stage)
		}
	}

	if req.FeatureSet.Status != featureset.StatusCompleted {
		return model.Model{}, apperr.NewValidation("feature set %s is not COMPLETED", req.FeatureSet.ID)
	}

	report(0.0, "loading_matrix")
	matrix, err := e.features.LoadMatrix(ctx, req.FeatureSet.ArtifactRef)
	if err != nil {
		return model.Model{}, err
	}
	if features.SchemaHash(matrix.Columns) != req.FeatureSet.SchemaHash {
		return model.Model{}, apperr.NewValidation("loaded matrix schema does not match feature set schema_hash").
			WithDetails("reason", "FeatureSchemaMismatch")
	}
	if err := checkCancelled(ctx); err != nil {
		return model.Model{}, err
	}

	columns := append([]string(nil), req.FeatureSet.SelectedFeatures...)

	report(0.15, "splitting")
	seed := SeedFromJobID(req.JobID)
	split := StratifiedSplit(matrix, req.TrainTestSplit, seed)
	if len(split.Train) == 0 || len(split.Test) == 0 {
		return model.Model{}, apperr.NewValidation("stratified split produced an empty partition")
	}
	if err := checkCancelled(ctx); err != nil {
		return model.Model{}, err
	}

	trainRows := Rows(matrix, columns, split.Train)
	trainLabels := Labels(matrix, split.Train)
	testRows := Rows(matrix, columns, split.Test)
	testLabels := Labels(matrix, split.Test)

	report(0.25, "resampling")
	strategy := req.ImbalancedStrategy
	if strategy == "" {
		strategy = StrategyClassWeight
	}
	trainRows, trainLabels, weights := Apply(strategy, trainRows, trainLabels, seed)
	if err := checkCancelled(ctx); err != nil {
		return model.Model{}, err
	}

	report(0.35, "fitting")
	algo, err := NewAlgorithm(req.Algorithm, len(columns))
	if err != nil {
		return model.Model{}, err
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = 50
	}
	if err := algo.Fit(trainRows, trainLabels, weights, maxIter); err != nil {
		return model.Model{}, apperr.Wrap(apperr.Internal, "fit failed", err)
	}
	if err := checkCancelled(ctx); err != nil {
		return model.Model{}, err
	}

	report(0.65, "evaluating")
	metrics := Evaluate(algo, testRows, testLabels, req.DecisionThreshold)
	importance := algo.Importance()
	featureImportance := make([]model.FeatureImportance, len(columns))
	for i, col := range columns {
		v := 0.0
		if i < len(importance) {
			v = importance[i]
		}
		featureImportance[i] = model.FeatureImportance{Feature: col, Importance: v}
	}
	if err := checkCancelled(ctx); err != nil {
		return model.Model{}, err
	}

	report(0.8, "serializing")
	explainer := NewExplainer(columns, importance, trainRows)
	explainerBytes, err := explainer.Serialize()
	if err != nil {
		return model.Model{}, apperr.NewInternal(err)
	}
	explainerRef, err := e.artifacts.Put(ctx, artifacts.KindReport, explainerBytes)
	if err != nil {
		return model.Model{}, err
	}

	nativeBytes, err := algo.Serialize()
	if err != nil {
		return model.Model{}, apperr.NewInternal(err)
	}
	nativeRef, err := e.artifacts.Put(ctx, artifacts.KindModelNative, nativeBytes)
	if err != nil {
		return model.Model{}, err
	}

	portableBytes := portableForm(req.Algorithm, nativeBytes)
	portableRef, err := e.artifacts.Put(ctx, artifacts.KindModelPortable, portableBytes)
	if err != nil {
		return model.Model{}, err
	}
	checksum := sha256.Sum256(portableBytes)

	report(1.0, "done")

	return model.Model{
		Name:                 req.ModelName,
		Version:              req.NextVersion,
		FeatureSetID:         req.FeatureSet.ID,
		SchemaHash:           req.FeatureSet.SchemaHash,
		FeatureNames:         columns,
		Algorithm:            req.Algorithm,
		Hyperparameters:      req.Hyperparameters,
		Metrics:              metrics,
		FeatureImportance:    featureImportance,
		NativeArtifactRef:    nativeRef.String(),
		PortableArtifactRef:  portableRef.String(),
		ExplainerRef:         explainerRef.String(),
		Checksum:             hex.EncodeToString(checksum[:]),
		Status:               model.StatusTrained,
	}, nil
}

// portableForm renders a portable (ONNX-equivalent) representation of a
// fitted algorithm. The retrieval pack carries no ONNX exporter, so the
// portable form here is the same JSON snapshot tagged with its algorithm,
// self-describing enough for a different runtime to reconstruct scoring
// without this package's internal types.
func portableForm(tag model.Algorithm, native []byte) []byte {
	out := make([]byte, 0, len(native)+32)
	out = append(out, []byte(`{"algorithm":"`+string(tag)+`","params":`)...)
	out = append(out, native...)
	out = append(out, '}')
	return out
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return apperr.NewCancelled("train")
	default:
		return nil
	}
}
