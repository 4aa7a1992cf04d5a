package memory

import (
	"context"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

func (s *Store) AppendPrediction(_ context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	s.predictions[p.ID] = p
	return p, nil
}

func (s *Store) ListPredictions(_ context.Context, modelID string, from, to time.Time, filter storage.ListFilter) ([]prediction.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]prediction.Prediction, 0)
	for _, p := range s.predictions {
		if modelID != "" && p.ModelID != modelID {
			continue
		}
		if !from.IsZero() && p.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && p.CreatedAt.After(to) {
			continue
		}
		out = append(out, p)
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) RecordActualLabel(_ context.Context, predictionID string, label bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[predictionID]
	if !ok {
		return apperr.NewNotFound("prediction", predictionID)
	}
	p.ActualLabel = &label
	s.predictions[predictionID] = p
	return nil
}

func (s *Store) RecordDrift(_ context.Context, d metric.Drift) (metric.Drift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	if d.ComputedAt.IsZero() {
		d.ComputedAt = now()
	}
	s.drift[d.ID] = d
	return d, nil
}

func (s *Store) ListDrift(_ context.Context, modelID, feature string, filter storage.ListFilter) ([]metric.Drift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metric.Drift, 0)
	for _, d := range s.drift {
		if modelID != "" && d.ModelID != modelID {
			continue
		}
		if feature != "" && d.Feature != feature {
			continue
		}
		out = append(out, d)
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) RecordBias(_ context.Context, b metric.Bias) (metric.Bias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = newID()
	}
	if b.ComputedAt.IsZero() {
		b.ComputedAt = now()
	}
	s.bias[b.ID] = b
	return b, nil
}

func (s *Store) ListBias(_ context.Context, modelID, attribute string, filter storage.ListFilter) ([]metric.Bias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metric.Bias, 0)
	for _, b := range s.bias {
		if modelID != "" && b.ModelID != modelID {
			continue
		}
		if attribute != "" && b.ProtectedAttribute != attribute {
			continue
		}
		out = append(out, b)
	}
	return applyListFilter(out, filter), nil
}
