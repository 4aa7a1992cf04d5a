package memory

import (
	"context"
	"fmt"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/abtest"
	"github.com/r3e-network/fraudctl/internal/app/domain/retrainjob"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

func (s *Store) CreateABTest(_ context.Context, t abtest.ABTest) (abtest.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = abtest.StatusDraft
	}
	t.StartedAt = now()
	s.abtests[t.ID] = t
	return t, nil
}

func (s *Store) GetABTest(_ context.Context, id string) (abtest.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.abtests[id]
	if !ok {
		return abtest.ABTest{}, apperr.NewNotFound("ab_test", id)
	}
	return t, nil
}

func (s *Store) GetABTestByName(_ context.Context, name string) (abtest.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.abtests {
		if t.Name == name {
			return t, nil
		}
	}
	return abtest.ABTest{}, apperr.NewNotFound("ab_test", name)
}

func (s *Store) ListABTests(_ context.Context, filter storage.ListFilter) ([]abtest.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]abtest.ABTest, 0, len(s.abtests))
	for _, t := range s.abtests {
		out = append(out, t)
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) UpdateABTest(_ context.Context, t abtest.ABTest) (abtest.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.abtests[t.ID]; !ok {
		return abtest.ABTest{}, apperr.NewNotFound("ab_test", t.ID)
	}
	s.abtests[t.ID] = t
	return t, nil
}

func (s *Store) IncrementSamples(_ context.Context, id string, championDelta, challengerDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.abtests[id]
	if !ok {
		return apperr.NewNotFound("ab_test", id)
	}
	t.ChampionSamples += championDelta
	t.ChallengerSamples += challengerDelta
	s.abtests[id] = t
	return nil
}

// RetrainJob ---------------------------------------------------------------

func (s *Store) CreateRetrainJob(_ context.Context, r retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	if r.State == "" {
		r.State = retrainjob.StatePending
	}
	r.CreatedAt = now()
	r.UpdatedAt = r.CreatedAt
	s.retrains[r.ID] = r
	return r, nil
}

func (s *Store) GetRetrainJob(_ context.Context, id string) (retrainjob.RetrainJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.retrains[id]
	if !ok {
		return retrainjob.RetrainJob{}, apperr.NewNotFound("retrain_job", id)
	}
	return r, nil
}

func (s *Store) ListRetrainJobs(_ context.Context, modelName string, filter storage.ListFilter) ([]retrainjob.RetrainJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]retrainjob.RetrainJob, 0)
	for _, r := range s.retrains {
		if modelName != "" && r.ModelName != modelName {
			continue
		}
		out = append(out, r)
	}
	return applyListFilter(out, filter), nil
}

func (s *Store) PatchRetrainState(_ context.Context, id string, from, to retrainjob.State, update func(*retrainjob.RetrainJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retrains[id]
	if !ok {
		return apperr.NewNotFound("retrain_job", id)
	}
	if r.State != from {
		return apperr.NewConflictingState(fmt.Sprintf("retrain job %s is %s, not %s", id, r.State, from))
	}
	r.State = to
	r.UpdatedAt = now()
	if update != nil {
		update(&r)
	}
	s.retrains[id] = r
	return nil
}
