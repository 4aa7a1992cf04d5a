package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/domain/job"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

const alertColumns = `id, model_id, source_kind, source_ref, alert_type, severity, status, title,
	details, dedup_key, occurrence_count, window_bucket, raised_at, last_seen_at, acknowledged_at, resolved_at`

func scanAlert(row rowScanner) (alert.Alert, error) {
	var a alert.Alert
	var details []byte
	var acknowledgedAt, resolvedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.ModelID, &a.SourceKind, &a.SourceRef, &a.AlertType, &a.Severity, &a.Status, &a.Title,
		&details, &a.DedupKey, &a.OccurrenceCount, &a.WindowBucket, &a.RaisedAt, &a.LastSeenAt,
		&acknowledgedAt, &resolvedAt,
	)
	if err != nil {
		return alert.Alert{}, err
	}
	if err := unmarshalJSON(details, &a.Details); err != nil {
		return alert.Alert{}, err
	}
	a.RaisedAt = a.RaisedAt.UTC()
	a.LastSeenAt = a.LastSeenAt.UTC()
	a.AcknowledgedAt = fromNullTimePtr(acknowledgedAt)
	a.ResolvedAt = fromNullTimePtr(resolvedAt)
	return a, nil
}

// SubmitAlert implements dedup-or-merge: an ACTIVE or ACKNOWLEDGED alert
// sharing DedupKey absorbs the submission instead of creating a new row.
// The merge-or-insert race is closed by the unique partial index on
// dedup_key; a unique violation on insert retries as a merge.
func (s *Store) SubmitAlert(ctx context.Context, a alert.Alert) (alert.Alert, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE dedup_key = $1 AND status IN ($2, $3)`,
		a.DedupKey, alert.StatusActive, alert.StatusAcknowledged,
	)
	existing, err := scanAlert(row)
	if err == nil {
		details, marshalErr := marshalJSON(a.Details)
		if marshalErr != nil {
			return alert.Alert{}, false, marshalErr
		}
		existing.Details = a.Details
		existing.OccurrenceCount++
		existing.LastSeenAt = now()
		_, err = s.db.ExecContext(ctx, `
			UPDATE alerts SET details = $1, occurrence_count = $2, last_seen_at = $3 WHERE id = $4`,
			details, existing.OccurrenceCount, existing.LastSeenAt, existing.ID,
		)
		if err != nil {
			return alert.Alert{}, false, apperr.NewInternal(err)
		}
		return existing, true, nil
	}
	if err != sql.ErrNoRows {
		return alert.Alert{}, false, apperr.NewInternal(err)
	}

	if a.ID == "" {
		a.ID = newID()
	}
	a.Status = alert.StatusActive
	a.OccurrenceCount = 1
	a.RaisedAt = now()
	a.LastSeenAt = a.RaisedAt

	details, err := marshalJSON(a.Details)
	if err != nil {
		return alert.Alert{}, false, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.ModelID, a.SourceKind, a.SourceRef, a.AlertType, a.Severity, a.Status, a.Title,
		details, a.DedupKey, a.OccurrenceCount, a.WindowBucket, a.RaisedAt, a.LastSeenAt,
		toNullTimePtr(a.AcknowledgedAt), toNullTimePtr(a.ResolvedAt),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return s.SubmitAlert(ctx, a)
		}
		return alert.Alert{}, false, apperr.NewInternal(err)
	}

	if err := s.feed.PublishAlertRaised(ctx, storage.AlertRaisedEvent{
		AlertID: a.ID, ModelID: a.ModelID, AlertType: a.AlertType, Severity: a.Severity,
	}); err != nil {
		return alert.Alert{}, false, apperr.NewInternal(err)
	}

	return a, false, nil
}

// GetAlert fetches an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		return alert.Alert{}, wrapErr(err, "alert", id)
	}
	return a, nil
}

// ListAlerts returns alerts matching filter.Fields["status"/"severity"/"model_id"],
// newest first.
func (s *Store) ListAlerts(ctx context.Context, filter storage.ListFilter) ([]alert.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	argPos := 1
	if status, ok := filter.Fields["status"]; ok {
		query += " AND status = $" + itoaArg(argPos)
		args = append(args, status)
		argPos++
	}
	if severity, ok := filter.Fields["severity"]; ok {
		query += " AND severity = $" + itoaArg(argPos)
		args = append(args, severity)
		argPos++
	}
	if modelID, ok := filter.Fields["model_id"]; ok {
		query += " AND model_id = $" + itoaArg(argPos)
		args = append(args, modelID)
		argPos++
	}
	query += " ORDER BY raised_at DESC"
	clause, limitArgs := buildLimitOffset(filter, argPos)
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]alert.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// PatchAlertState performs the CAS, except acknowledging an already
// ACKNOWLEDGED alert is a no-op rather than a conflict.
func (s *Store) PatchAlertState(ctx context.Context, id string, from, to alert.Status) error {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == to {
		return nil
	}
	if a.Status != from {
		return apperr.NewConflictingState("alert %s is %s, not %s", id, a.Status, from)
	}

	var acknowledgedAt, resolvedAt sql.NullTime
	switch to {
	case alert.StatusAcknowledged:
		acknowledgedAt = toNullTime(now())
	case alert.StatusResolved:
		resolvedAt = toNullTime(now())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = $1,
			acknowledged_at = COALESCE($2, acknowledged_at),
			resolved_at = COALESCE($3, resolved_at)
		WHERE id = $4 AND status = $5`,
		to, acknowledgedAt, resolvedAt, id, from,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return apperr.NewConflictingState("alert %s changed concurrently", id)
	}
	return nil
}

// marshalPayload encodes a job.Payload as its JSON body; the Kind column
// carries the discriminator, so the payload JSON itself needs no tag.
func marshalPayload(p job.Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return marshalJSON(p)
}

// unmarshalPayload decodes data into the concrete Payload type for kind.
func unmarshalPayload(kind job.Kind, data []byte) (job.Payload, error) {
	switch kind {
	case job.KindFeatureCompute:
		var p job.FeatureComputePayload
		if err := unmarshalJSON(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case job.KindTrain:
		var p job.TrainPayload
		if err := unmarshalJSON(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case job.KindDrift:
		var p job.DriftPayload
		if err := unmarshalJSON(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case job.KindBias:
		var p job.BiasPayload
		if err := unmarshalJSON(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case job.KindRetrain:
		var p job.RetrainPayload
		if err := unmarshalJSON(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case job.KindABEvaluate:
		var p job.ABEvaluatePayload
		if err := unmarshalJSON(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, apperr.NewInternal(errUnknownJobKind(kind))
	}
}

type errUnknownJobKind job.Kind

func (k errUnknownJobKind) Error() string { return "postgres: unknown job kind " + string(k) }

const jobColumns = `id, kind, payload, schedule, idempotency_key, status, progress, priority,
	attempts, max_attempts, next_run_at, lease_owner, lease_expires_at, last_error,
	created_at, started_at, completed_at`

func scanJob(row rowScanner) (job.Job, error) {
	var j job.Job
	var payload, schedule []byte
	var idempotencyKey, leaseOwner, lastError sql.NullString
	var leaseExpiresAt, startedAt, completedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &payload, &schedule, &idempotencyKey, &j.Status, &j.Progress, &j.Priority,
		&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &leaseOwner, &leaseExpiresAt, &lastError,
		&j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return job.Job{}, err
	}
	j.Payload, err = unmarshalPayload(j.Kind, payload)
	if err != nil {
		return job.Job{}, err
	}
	if len(schedule) > 0 {
		var sched job.Schedule
		if err := unmarshalJSON(schedule, &sched); err != nil {
			return job.Job{}, err
		}
		j.Schedule = &sched
	}
	j.IdempotencyKey = fromNullString(idempotencyKey)
	j.LeaseOwner = fromNullString(leaseOwner)
	j.LastError = fromNullString(lastError)
	j.NextRunAt = j.NextRunAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.LeaseExpiresAt = fromNullTimePtr(leaseExpiresAt)
	j.StartedAt = fromNullTimePtr(startedAt)
	j.CompletedAt = fromNullTimePtr(completedAt)
	return j, nil
}

// CreateJob inserts j, or returns the existing row sharing IdempotencyKey.
func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.IdempotencyKey != "" {
		row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, j.IdempotencyKey)
		existing, err := scanJob(row)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return job.Job{}, apperr.NewInternal(err)
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

	payload, err := marshalPayload(j.Payload)
	if err != nil {
		return job.Job{}, err
	}
	var schedule []byte
	if j.Schedule != nil {
		schedule, err = marshalJSON(j.Schedule)
		if err != nil {
			return job.Job{}, err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID, j.Kind, payload, schedule, toNullString(j.IdempotencyKey), j.Status, j.Progress, j.Priority,
		j.Attempts, j.MaxAttempts, j.NextRunAt, toNullString(j.LeaseOwner), toNullTimePtr(j.LeaseExpiresAt),
		toNullString(j.LastError), j.CreatedAt, toNullTimePtr(j.StartedAt), toNullTimePtr(j.CompletedAt),
	)
	if err != nil {
		return job.Job{}, apperr.NewInternal(err)
	}
	return j, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		return job.Job{}, wrapErr(err, "job", id)
	}
	return j, nil
}

// ListJobs returns jobs for kind (or all, if empty).
func (s *Store) ListJobs(ctx context.Context, kind job.Kind, filter storage.ListFilter) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	argPos := 1
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
		argPos++
	}
	query += ` ORDER BY created_at DESC`
	clause, limitArgs := buildLimitOffset(filter, argPos)
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// ClaimDueJobs atomically transitions up to limit QUEUED jobs of the given
// kinds with next_run_at <= at to RUNNING, via a single UPDATE ... RETURNING
// driven by a FOR UPDATE SKIP LOCKED subquery so only one caller wins each row.
func (s *Store) ClaimDueJobs(ctx context.Context, kinds []job.Kind, owner string, leaseTTL time.Duration, limit int, at time.Time) ([]job.Job, error) {
	var kindStrs []string
	for _, k := range kinds {
		kindStrs = append(kindStrs, string(k))
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET status = $6, lease_owner = $2, lease_expires_at = $3, started_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $7 AND next_run_at <= $1 AND ($5::text[] IS NULL OR kind = ANY($5))
			ORDER BY priority DESC, next_run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		at, owner, at.Add(leaseTTL), limit, pq.Array(kindStrs), job.StatusRunning, job.StatusQueued,
	)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	var claimed []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		claimed = append(claimed, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}

	for _, j := range claimed {
		if err := s.feed.PublishJobStateChanged(ctx, storage.JobStateChangedEvent{
			JobID: j.ID, Kind: j.Kind, From: job.StatusQueued, To: job.StatusRunning,
		}); err != nil {
			return nil, apperr.NewInternal(err)
		}
	}
	return claimed, nil
}

// CompleteJob transitions a job to COMPLETED.
func (s *Store) CompleteJob(ctx context.Context, id string, progress float64) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	from := j.Status
	completedAt := now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, progress = $2, completed_at = $3, updated_at = $3 WHERE id = $4`,
		job.StatusCompleted, progress, completedAt, id,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	return s.publishJobStateChanged(ctx, j, from, job.StatusCompleted)
}

// FailJob records a failure, either rescheduling the job or terminating it
// with FAILED once reschedule is nil or MaxAttempts has been reached.
func (s *Store) FailJob(ctx context.Context, id string, reason string, reschedule *time.Time) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	from := j.Status
	attempts := j.Attempts + 1

	var to job.Status
	var nextRunAt time.Time
	var completedAt sql.NullTime
	if reschedule != nil && attempts < j.MaxAttempts {
		to = job.StatusQueued
		nextRunAt = *reschedule
	} else {
		to = job.StatusFailed
		nextRunAt = j.NextRunAt
		completedAt = toNullTime(now())
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, last_error = $2, attempts = $3, next_run_at = $4,
			completed_at = COALESCE($5, completed_at), updated_at = now()
		WHERE id = $6`,
		to, reason, attempts, nextRunAt, completedAt, id,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	return s.publishJobStateChanged(ctx, j, from, to)
}

// CancelJob transitions a job to CANCELLED.
func (s *Store) CancelJob(ctx context.Context, id string) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	from := j.Status
	completedAt := now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, completed_at = $2, updated_at = $2 WHERE id = $3`,
		job.StatusCancelled, completedAt, id,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	return s.publishJobStateChanged(ctx, j, from, job.StatusCancelled)
}

// UpdateProgress updates a running job's progress fraction without touching status.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress = $1, updated_at = now() WHERE id = $2`, progress, id)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return apperr.NewNotFound("job", id)
	}
	return nil
}

// SweepStaleLeases resets RUNNING jobs whose lease has expired back to
// QUEUED, incrementing Attempts; jobs whose Attempts reaches MaxAttempts go FAILED.
func (s *Store) SweepStaleLeases(ctx context.Context, at time.Time) (int, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND lease_expires_at IS NOT NULL AND lease_expires_at < $2
		FOR UPDATE`,
		job.StatusRunning, at,
	)
	if err != nil {
		return 0, 0, apperr.NewInternal(err)
	}
	var stale []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, 0, apperr.NewInternal(err)
		}
		stale = append(stale, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, apperr.NewInternal(err)
	}
	rows.Close()

	reset, failed := 0, 0
	for _, j := range stale {
		from := j.Status
		attempts := j.Attempts + 1
		var to job.Status
		var lastError string
		var completedAt sql.NullTime
		if attempts >= j.MaxAttempts {
			to = job.StatusFailed
			lastError = "stale lease: worker did not renew before expiry"
			completedAt = toNullTime(at)
			failed++
		} else {
			to = job.StatusQueued
			reset++
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, attempts = $2, lease_owner = NULL, lease_expires_at = NULL,
				last_error = COALESCE(NULLIF($3, ''), last_error), completed_at = COALESCE($4, completed_at), updated_at = now()
			WHERE id = $5`,
			to, attempts, lastError, completedAt, j.ID,
		)
		if err != nil {
			return 0, 0, apperr.NewInternal(err)
		}
		if err := s.publishJobStateChanged(ctx, j, from, to); err != nil {
			return 0, 0, err
		}
	}
	return reset, failed, nil
}

func (s *Store) publishJobStateChanged(ctx context.Context, j job.Job, from, to job.Status) error {
	if err := s.feed.PublishJobStateChanged(ctx, storage.JobStateChangedEvent{
		JobID: j.ID, Kind: j.Kind, From: from, To: to,
	}); err != nil {
		return apperr.NewInternal(err)
	}
	return nil
}
