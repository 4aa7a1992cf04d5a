// Package inference implements synchronous fraud scoring against the
// current PRODUCTION model, hot-swapped on promotion without restarting the
// process.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/inference/predlog"
	"github.com/r3e-network/fraudctl/internal/app/metrics"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// DecisionThreshold is the score cutoff for the boolean label. Models do not
// carry a threshold of their own, so every prediction uses this value.
const DecisionThreshold = 0.5

// Service answers scoring requests against the hot PRODUCTION model.
type Service struct {
	holder        *ModelHolder
	cache         *FeatureCache
	predictionLog *predlog.Logger
	logger        *logger.Logger
}

// New builds the inference Service. modelName is the registered Model.Name
// this service instance scores for (each fraud model family runs its own
// Service). predictionLog may be nil, in which case predictions are scored
// but not persisted.
func New(modelName string, artifactStore *artifacts.Store, catalog storage.Catalog, cache *FeatureCache, predictionLog *predlog.Logger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("inference")
	}
	if cache == nil {
		cache = NewFeatureCache(30*time.Second, nil)
	}
	return &Service{
		holder:        NewModelHolder(modelName, artifactStore, catalog, log),
		cache:         cache,
		predictionLog: predictionLog,
		logger:        log,
	}
}

// Start loads the current production model and, if configured, starts the
// prediction logger.
func (s *Service) Start(ctx context.Context) error {
	if err := s.holder.Start(ctx); err != nil {
		return err
	}
	s.logger.WithField("model", s.holder.name).Info("inference service serving production model")
	if s.predictionLog != nil {
		return s.predictionLog.Start(ctx)
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.predictionLog != nil {
		return s.predictionLog.Stop(ctx)
	}
	return nil
}

func (s *Service) Name() string { return "inference" }

// Predict scores one feature vector against the hot model. explain runs the
// lightweight local explainer; its time is included in the recorded
// LatencyMS, so explained predictions report higher latency.
func (s *Service) Predict(ctx context.Context, requestID string, features map[string]float64, explain bool) (_ prediction.Prediction, err error) {
	start := time.Now()
	modelID := "unknown"
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordInference(modelID, status, time.Since(start))
	}()

	lm, err := s.holder.Current()
	if err != nil {
		return prediction.Prediction{}, err
	}
	modelID = lm.record.ID

	row, degraded, err := s.resolveRow(ctx, lm, features)
	if err != nil {
		return prediction.Prediction{}, err
	}

	score := lm.algorithm.Score(row)
	threshold := DecisionThreshold
	label := score >= threshold
	confidence := confidenceFrom(score, threshold)

	var explanation *prediction.Explanation
	if explain && lm.explainer != nil {
		e := lm.explainer.Explain(features, 5)
		explanation = &e
	}

	p := prediction.Prediction{
		ID:          uuid.NewString(),
		ModelID:     lm.record.ID,
		RequestID:   requestID,
		Features:    features,
		Score:       score,
		Label:       label,
		Confidence:  confidence,
		Explanation: explanation,
		LatencyMS:   float64(time.Since(start).Microseconds()) / 1000.0,
		Degraded:    degraded,
		CreatedAt:   time.Now().UTC(),
	}

	if s.predictionLog != nil {
		s.predictionLog.Enqueue(p)
	}

	return p, nil
}

// BatchPredict scores many feature vectors against the same hot model
// snapshot, avoiding a holder lookup per row.
func (s *Service) BatchPredict(ctx context.Context, requestIDPrefix string, rows []map[string]float64) ([]prediction.Prediction, error) {
	lm, err := s.holder.Current()
	if err != nil {
		return nil, err
	}

	out := make([]prediction.Prediction, len(rows))
	for i, features := range rows {
		start := time.Now()
		row, degraded, err := s.resolveRow(ctx, lm, features)
		if err != nil {
			metrics.RecordInference(lm.record.ID, "error", time.Since(start))
			return nil, err
		}
		score := lm.algorithm.Score(row)
		label := score >= DecisionThreshold
		p := prediction.Prediction{
			ID:         uuid.NewString(),
			ModelID:    lm.record.ID,
			RequestID:  fmt.Sprintf("%s-%d", requestIDPrefix, i),
			Features:   features,
			Score:      score,
			Label:      label,
			Confidence: confidenceFrom(score, DecisionThreshold),
			LatencyMS:  float64(time.Since(start).Microseconds()) / 1000.0,
			Degraded:   degraded,
			CreatedAt:  time.Now().UTC(),
		}
		if s.predictionLog != nil {
			s.predictionLog.Enqueue(p)
		}
		metrics.RecordInference(lm.record.ID, "ok", time.Since(start))
		out[i] = p
	}
	return out, nil
}

// resolveRow validates that every feature the hot model expects is present
// and returns it ordered as the model's FeatureNames, consulting the feature
// cache as a side channel for derived features that may have been
// precomputed by the feature pipeline for this entity.
func (s *Service) resolveRow(ctx context.Context, lm *loadedModel, features map[string]float64) ([]float64, bool, error) {
	degraded := false
	row := make([]float64, len(lm.record.FeatureNames))
	for i, name := range lm.record.FeatureNames {
		v, ok := features[name]
		if !ok {
			lookup := s.cache.Get(ctx, cacheKey(lm.record.ID, name, features))
			if lookup.Hit {
				v = lookup.Value[name]
			} else {
				return nil, false, apperr.NewValidation("missing required feature %q", name).
					WithDetails("reason", "FeatureMissing")
			}
			degraded = lookup.Degraded || degraded
		}
		row[i] = v
	}
	return row, degraded, nil
}

func cacheKey(modelID, feature string, features map[string]float64) string {
	return fmt.Sprintf("%s:%s:%v", modelID, feature, features["entity_id"])
}

// confidenceFrom maps a score's distance from the decision threshold into a
// [0,1] confidence, saturating at the extremes.
func confidenceFrom(score, threshold float64) float64 {
	var distance float64
	if score >= threshold {
		if threshold >= 1 {
			return 1
		}
		distance = (score - threshold) / (1 - threshold)
	} else {
		if threshold <= 0 {
			return 1
		}
		distance = (threshold - score) / threshold
	}
	confidence := 0.5 + 0.5*distance
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return confidence
}
