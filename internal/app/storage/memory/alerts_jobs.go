package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/domain/job"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

// SubmitAlert implements the dedup-or-merge rule: an ACTIVE or ACKNOWLEDGED
// alert sharing DedupKey absorbs the submission instead of creating a new
// row.
func (s *Store) SubmitAlert(_ context.Context, a alert.Alert) (alert.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.alerts {
		if existing.DedupKey != a.DedupKey {
			continue
		}
		if existing.Status != alert.StatusActive && existing.Status != alert.StatusAcknowledged {
			continue
		}
		existing.Details = a.Details
		existing.OccurrenceCount++
		existing.LastSeenAt = now()
		s.alerts[id] = existing
		return existing, true, nil
	}

	if a.ID == "" {
		a.ID = newID()
	}
	a.Status = alert.StatusActive
	a.OccurrenceCount = 1
	a.RaisedAt = now()
	a.LastSeenAt = a.RaisedAt
	s.alerts[a.ID] = a

	event := storage.AlertRaisedEvent{AlertID: a.ID, ModelID: a.ModelID, AlertType: a.AlertType, Severity: a.Severity}
	for _, fn := range s.onAlertRaised {
		fn(event)
	}

	return a, false, nil
}

func (s *Store) GetAlert(_ context.Context, id string) (alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return alert.Alert{}, apperr.NewNotFound("alert", id)
	}
	return a, nil
}

func (s *Store) ListAlerts(_ context.Context, filter storage.ListFilter) ([]alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alert.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if status, ok := filter.Fields["status"]; ok && string(a.Status) != status {
			continue
		}
		if severity, ok := filter.Fields["severity"]; ok && string(a.Severity) != severity {
			continue
		}
		if modelID, ok := filter.Fields["model_id"]; ok && a.ModelID != modelID {
			continue
		}
		out = append(out, a)
	}
	return applyListFilter(out, filter), nil
}

// PatchAlertState performs the CAS, except acknowledging an already
// ACKNOWLEDGED alert is a no-op rather than a conflict: acknowledge(a) then
// acknowledge(a) must not fail.
func (s *Store) PatchAlertState(_ context.Context, id string, from, to alert.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return apperr.NewNotFound("alert", id)
	}
	if a.Status == to {
		return nil
	}
	if a.Status != from {
		return apperr.NewConflictingState(fmt.Sprintf("alert %s is %s, not %s", id, a.Status, from))
	}
	a.Status = to
	switch to {
	case alert.StatusAcknowledged:
		t := now()
		a.AcknowledgedAt = &t
	case alert.StatusResolved:
		t := now()
		a.ResolvedAt = &t
	}
	s.alerts[id] = a
	return nil
}

// Job ---------------------------------------------------------------

func (s *Store) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.IdempotencyKey != "" {
		for _, existing := range s.jobs {
			if existing.IdempotencyKey == j.IdempotencyKey {
				return existing, nil
			}
		}
	}

	if j.ID == "" {
		j.ID = newID()
	}
	if j.Status == "" {
		j.Status = job.StatusQueued
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.NextRunAt.IsZero() {
		j.NextRunAt = now()
	}
	j.CreatedAt = now()
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetJob(_ context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, apperr.NewNotFound("job", id)
	}
	return j, nil
}

func (s *Store) ListJobs(_ context.Context, kind job.Kind, filter storage.ListFilter) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]job.Job, 0)
	for _, j := range s.jobs {
		if kind != "" && j.Kind != kind {
			continue
		}
		out = append(out, j)
	}
	return applyListFilter(out, filter), nil
}

// ClaimDueJobs is the scheduler's CAS claim: only one caller wins each job,
// enforced here by holding the store's single mutex across the
// read-compare-write sequence.
func (s *Store) ClaimDueJobs(_ context.Context, kinds []job.Kind, owner string, leaseTTL time.Duration, limit int, at time.Time) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wantKind := func(k job.Kind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, want := range kinds {
			if want == k {
				return true
			}
		}
		return false
	}

	var claimed []job.Job
	for id, j := range s.jobs {
		if len(claimed) >= limit {
			break
		}
		if j.Status != job.StatusQueued || !wantKind(j.Kind) {
			continue
		}
		if j.NextRunAt.After(at) {
			continue
		}
		from := j.Status
		j.Status = job.StatusRunning
		j.LeaseOwner = owner
		lease := at.Add(leaseTTL)
		j.LeaseExpiresAt = &lease
		started := at
		j.StartedAt = &started
		s.jobs[id] = j
		claimed = append(claimed, j)
		s.fireJobStateChanged(j, from)
	}
	return claimed, nil
}

func (s *Store) fireJobStateChanged(j job.Job, from job.Status) {
	event := storage.JobStateChangedEvent{JobID: j.ID, Kind: j.Kind, From: from, To: j.Status}
	for _, fn := range s.onJobStateChanged {
		fn(event)
	}
}

func (s *Store) CompleteJob(_ context.Context, id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return apperr.NewNotFound("job", id)
	}
	from := j.Status
	j.Status = job.StatusCompleted
	j.Progress = progress
	t := now()
	j.CompletedAt = &t
	s.jobs[id] = j
	s.fireJobStateChanged(j, from)
	return nil
}

func (s *Store) FailJob(_ context.Context, id string, reason string, reschedule *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return apperr.NewNotFound("job", id)
	}
	from := j.Status
	j.LastError = reason
	j.Attempts++
	if reschedule != nil && j.Attempts < j.MaxAttempts {
		j.Status = job.StatusQueued
		j.NextRunAt = *reschedule
	} else {
		j.Status = job.StatusFailed
		t := now()
		j.CompletedAt = &t
	}
	s.jobs[id] = j
	s.fireJobStateChanged(j, from)
	return nil
}

func (s *Store) CancelJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return apperr.NewNotFound("job", id)
	}
	from := j.Status
	j.Status = job.StatusCancelled
	t := now()
	j.CompletedAt = &t
	s.jobs[id] = j
	s.fireJobStateChanged(j, from)
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return apperr.NewNotFound("job", id)
	}
	j.Progress = progress
	s.jobs[id] = j
	return nil
}

// SweepStaleLeases resets a RUNNING job whose lease has expired back to
// QUEUED with Attempts incremented, or FAILED once the incremented Attempts
// reaches MaxAttempts (default 3).
func (s *Store) SweepStaleLeases(_ context.Context, at time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset, failed := 0, 0
	for id, j := range s.jobs {
		if j.Status != job.StatusRunning || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(at) {
			continue
		}
		from := j.Status
		j.Attempts++
		j.LeaseOwner = ""
		j.LeaseExpiresAt = nil
		if j.Attempts >= j.MaxAttempts {
			j.Status = job.StatusFailed
			j.LastError = "stale lease: worker did not renew before expiry"
			t := at
			j.CompletedAt = &t
			failed++
		} else {
			j.Status = job.StatusQueued
			reset++
		}
		s.jobs[id] = j
		s.fireJobStateChanged(j, from)
	}
	return reset, failed, nil
}
