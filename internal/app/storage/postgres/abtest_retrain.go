package postgres

import (
	"context"
	"database/sql"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/abtest"
	"github.com/r3e-network/fraudctl/internal/app/domain/retrainjob"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

const abTestColumns = `id, name, champion_model_id, challenger_model_id, traffic_split, min_samples,
	primary_metric, mirror_mode, champion_samples, challenger_samples, status, result,
	auto_promote, started_at, ended_at`

func scanABTest(row rowScanner) (abtest.ABTest, error) {
	var t abtest.ABTest
	var result []byte
	var endedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.Name, &t.ChampionModelID, &t.ChallengerModelID, &t.TrafficSplit, &t.MinSamples,
		&t.PrimaryMetric, &t.MirrorMode, &t.ChampionSamples, &t.ChallengerSamples, &t.Status, &result,
		&t.AutoPromote, &t.StartedAt, &endedAt,
	)
	if err != nil {
		return abtest.ABTest{}, err
	}
	if len(result) > 0 {
		var r abtest.Result
		if err := unmarshalJSON(result, &r); err != nil {
			return abtest.ABTest{}, err
		}
		t.Result = &r
	}
	t.StartedAt = t.StartedAt.UTC()
	t.EndedAt = fromNullTimePtr(endedAt)
	return t, nil
}

func abTestArgs(t abtest.ABTest) ([]any, error) {
	var result []byte
	if t.Result != nil {
		b, err := marshalJSON(t.Result)
		if err != nil {
			return nil, err
		}
		result = b
	}
	return []any{
		t.ID, t.Name, t.ChampionModelID, t.ChallengerModelID, t.TrafficSplit, t.MinSamples,
		t.PrimaryMetric, t.MirrorMode, t.ChampionSamples, t.ChallengerSamples, t.Status, result,
		t.AutoPromote, t.StartedAt, toNullTimePtr(t.EndedAt),
	}, nil
}

// CreateABTest inserts t, assigning an ID and StartedAt if unset.
func (s *Store) CreateABTest(ctx context.Context, t abtest.ABTest) (abtest.ABTest, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = abtest.StatusDraft
	}
	t.StartedAt = now()

	args, err := abTestArgs(t)
	if err != nil {
		return abtest.ABTest{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ab_tests (`+abTestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		args...,
	)
	if err != nil {
		return abtest.ABTest{}, apperr.NewInternal(err)
	}
	return t, nil
}

// GetABTest fetches an experiment by id.
func (s *Store) GetABTest(ctx context.Context, id string) (abtest.ABTest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE id = $1`, id)
	t, err := scanABTest(row)
	if err != nil {
		return abtest.ABTest{}, wrapErr(err, "ab_test", id)
	}
	return t, nil
}

// GetABTestByName fetches an experiment by its unique name.
func (s *Store) GetABTestByName(ctx context.Context, name string) (abtest.ABTest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE name = $1`, name)
	t, err := scanABTest(row)
	if err != nil {
		return abtest.ABTest{}, wrapErr(err, "ab_test", name)
	}
	return t, nil
}

// ListABTests returns every experiment, newest first.
func (s *Store) ListABTests(ctx context.Context, filter storage.ListFilter) ([]abtest.ABTest, error) {
	query := `SELECT ` + abTestColumns + ` FROM ab_tests ORDER BY started_at DESC`
	clause, args := buildLimitOffset(filter, 1)
	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]abtest.ABTest, 0)
	for rows.Next() {
		t, err := scanABTest(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// UpdateABTest overwrites every mutable column of an existing experiment.
func (s *Store) UpdateABTest(ctx context.Context, t abtest.ABTest) (abtest.ABTest, error) {
	existing, err := s.GetABTest(ctx, t.ID)
	if err != nil {
		return abtest.ABTest{}, err
	}
	t.StartedAt = existing.StartedAt

	args, err := abTestArgs(t)
	if err != nil {
		return abtest.ABTest{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ab_tests SET
			name = $2, champion_model_id = $3, challenger_model_id = $4, traffic_split = $5,
			min_samples = $6, primary_metric = $7, mirror_mode = $8, champion_samples = $9,
			challenger_samples = $10, status = $11, result = $12, auto_promote = $13, ended_at = $15
		WHERE id = $1`,
		args...,
	)
	if err != nil {
		return abtest.ABTest{}, apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return abtest.ABTest{}, apperr.NewInternal(err)
	}
	if n == 0 {
		return abtest.ABTest{}, apperr.NewNotFound("ab_test", t.ID)
	}
	return t, nil
}

// IncrementSamples bumps the per-arm sample counters.
func (s *Store) IncrementSamples(ctx context.Context, id string, championDelta, challengerDelta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ab_tests SET champion_samples = champion_samples + $1, challenger_samples = challenger_samples + $2
		WHERE id = $3`,
		championDelta, challengerDelta, id,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return apperr.NewNotFound("ab_test", id)
	}
	return nil
}

const retrainJobColumns = `id, model_name, trigger_reason, data_strategy, sliding_window_max_rows,
	new_data_weight, dataset_id, feature_set_id, incumbent_model_id, candidate_model_id, state,
	comparison_result, failure_reason, auto_promote, created_at, updated_at`

func scanRetrainJob(row rowScanner) (retrainjob.RetrainJob, error) {
	var r retrainjob.RetrainJob
	var datasetID, featureSetID, incumbentID, candidateID, failureReason sql.NullString
	var comparisonResult []byte
	err := row.Scan(
		&r.ID, &r.ModelName, &r.TriggerReason, &r.DataStrategy, &r.SlidingWindowMaxRows,
		&r.NewDataWeight, &datasetID, &featureSetID, &incumbentID, &candidateID, &r.State,
		&comparisonResult, &failureReason, &r.AutoPromote, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return retrainjob.RetrainJob{}, err
	}
	if len(comparisonResult) > 0 {
		var cr retrainjob.ComparisonResult
		if err := unmarshalJSON(comparisonResult, &cr); err != nil {
			return retrainjob.RetrainJob{}, err
		}
		r.ComparisonResult = &cr
	}
	r.DatasetID = fromNullString(datasetID)
	r.FeatureSetID = fromNullString(featureSetID)
	r.IncumbentModelID = fromNullString(incumbentID)
	r.CandidateModelID = fromNullString(candidateID)
	r.FailureReason = fromNullString(failureReason)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// CreateRetrainJob inserts r, assigning an ID and timestamps if unset.
func (s *Store) CreateRetrainJob(ctx context.Context, r retrainjob.RetrainJob) (retrainjob.RetrainJob, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.State == "" {
		r.State = retrainjob.StatePending
	}
	r.CreatedAt = now()
	r.UpdatedAt = r.CreatedAt

	var comparisonResult []byte
	if r.ComparisonResult != nil {
		b, err := marshalJSON(r.ComparisonResult)
		if err != nil {
			return retrainjob.RetrainJob{}, err
		}
		comparisonResult = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrain_jobs (`+retrainJobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.ModelName, r.TriggerReason, r.DataStrategy, r.SlidingWindowMaxRows,
		r.NewDataWeight, toNullString(r.DatasetID), toNullString(r.FeatureSetID),
		toNullString(r.IncumbentModelID), toNullString(r.CandidateModelID), r.State,
		comparisonResult, toNullString(r.FailureReason), r.AutoPromote, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return retrainjob.RetrainJob{}, apperr.NewInternal(err)
	}
	return r, nil
}

// GetRetrainJob fetches a retraining run by id.
func (s *Store) GetRetrainJob(ctx context.Context, id string) (retrainjob.RetrainJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+retrainJobColumns+` FROM retrain_jobs WHERE id = $1`, id)
	r, err := scanRetrainJob(row)
	if err != nil {
		return retrainjob.RetrainJob{}, wrapErr(err, "retrain_job", id)
	}
	return r, nil
}

// ListRetrainJobs returns runs for modelName (or all, if empty), newest first.
func (s *Store) ListRetrainJobs(ctx context.Context, modelName string, filter storage.ListFilter) ([]retrainjob.RetrainJob, error) {
	query := `SELECT ` + retrainJobColumns + ` FROM retrain_jobs`
	args := []any{}
	argPos := 1
	if modelName != "" {
		query += ` WHERE model_name = $1`
		args = append(args, modelName)
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

	out := make([]retrainjob.RetrainJob, 0)
	for rows.Next() {
		r, err := scanRetrainJob(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// PatchRetrainState performs an optimistic CAS on State; update, if non-nil,
// is applied to the in-memory row and its mutated fields are persisted
// alongside the state transition.
func (s *Store) PatchRetrainState(ctx context.Context, id string, from, to retrainjob.State, update func(*retrainjob.RetrainJob)) error {
	r, err := s.GetRetrainJob(ctx, id)
	if err != nil {
		return err
	}
	if r.State != from {
		return apperr.NewConflictingState("retrain job %s is %s, not %s", id, r.State, from)
	}
	r.State = to
	r.UpdatedAt = now()
	if update != nil {
		update(&r)
	}

	var comparisonResult []byte
	if r.ComparisonResult != nil {
		comparisonResult, err = marshalJSON(r.ComparisonResult)
		if err != nil {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE retrain_jobs SET
			state = $1, updated_at = $2, dataset_id = $3, feature_set_id = $4,
			incumbent_model_id = $5, candidate_model_id = $6, comparison_result = $7,
			failure_reason = $8, auto_promote = $9
		WHERE id = $10 AND state = $11`,
		r.State, r.UpdatedAt, toNullString(r.DatasetID), toNullString(r.FeatureSetID),
		toNullString(r.IncumbentModelID), toNullString(r.CandidateModelID), comparisonResult,
		toNullString(r.FailureReason), r.AutoPromote, id, from,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return apperr.NewConflictingState("retrain job %s changed concurrently", id)
	}
	return nil
}
