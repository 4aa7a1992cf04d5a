package postgres

import (
	"context"
	"database/sql"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/baseline"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

const modelColumns = `id, feature_set_id, name, version, schema_hash, feature_names, algorithm,
	hyperparameters, metrics, feature_importance, native_artifact_ref, portable_artifact_ref,
	explainer_ref, checksum, status, archived_reason, trained_at, promoted_at, archived_at`

func scanModel(row rowScanner) (model.Model, error) {
	var m model.Model
	var featureNames, hyperparameters, metrics, importance []byte
	var promotedAt, archivedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.FeatureSetID, &m.Name, &m.Version, &m.SchemaHash, &featureNames, &m.Algorithm,
		&hyperparameters, &metrics, &importance, &m.NativeArtifactRef, &m.PortableArtifactRef,
		&m.ExplainerRef, &m.Checksum, &m.Status, &m.ArchivedReason, &m.TrainedAt, &promotedAt, &archivedAt,
	)
	if err != nil {
		return model.Model{}, err
	}
	for _, pair := range []struct {
		data []byte
		dest any
	}{
		{featureNames, &m.FeatureNames},
		{hyperparameters, &m.Hyperparameters},
		{metrics, &m.Metrics},
		{importance, &m.FeatureImportance},
	} {
		if err := unmarshalJSON(pair.data, pair.dest); err != nil {
			return model.Model{}, err
		}
	}
	m.TrainedAt = m.TrainedAt.UTC()
	m.PromotedAt = fromNullTime(promotedAt)
	m.ArchivedAt = fromNullTime(archivedAt)
	return m, nil
}

func modelArgs(m model.Model) ([]any, error) {
	featureNames, err := marshalJSON(m.FeatureNames)
	if err != nil {
		return nil, err
	}
	hyperparameters, err := marshalJSON(m.Hyperparameters)
	if err != nil {
		return nil, err
	}
	metrics, err := marshalJSON(m.Metrics)
	if err != nil {
		return nil, err
	}
	importance, err := marshalJSON(m.FeatureImportance)
	if err != nil {
		return nil, err
	}
	return []any{
		m.ID, m.FeatureSetID, m.Name, m.Version, m.SchemaHash, featureNames, m.Algorithm,
		hyperparameters, metrics, importance, m.NativeArtifactRef, m.PortableArtifactRef,
		m.ExplainerRef, m.Checksum, m.Status, m.ArchivedReason, m.TrainedAt,
		toNullTime(m.PromotedAt), toNullTime(m.ArchivedAt),
	}, nil
}

// CreateModel inserts m, assigning an ID and TrainedAt if unset.
func (s *Store) CreateModel(ctx context.Context, m model.Model) (model.Model, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Status == "" {
		m.Status = model.StatusTrained
	}
	m.TrainedAt = now()

	args, err := modelArgs(m)
	if err != nil {
		return model.Model{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO models (`+modelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		args...,
	)
	if err != nil {
		return model.Model{}, apperr.NewInternal(err)
	}
	return m, nil
}

// GetModel fetches a model by id.
func (s *Store) GetModel(ctx context.Context, id string) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1`, id)
	m, err := scanModel(row)
	if err != nil {
		return model.Model{}, wrapErr(err, "model", id)
	}
	return m, nil
}

// GetModelByNameVersion fetches a model by its (name, version) unique key.
func (s *Store) GetModelByNameVersion(ctx context.Context, name string, version int) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE name = $1 AND version = $2`, name, version)
	m, err := scanModel(row)
	if err != nil {
		return model.Model{}, wrapErr(err, "model", name)
	}
	return m, nil
}

// GetProductionModel fetches the single PRODUCTION model for name, if any.
func (s *Store) GetProductionModel(ctx context.Context, name string) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE name = $1 AND status = $2`, name, model.StatusProduction)
	m, err := scanModel(row)
	if err != nil {
		return model.Model{}, wrapErr(err, "production model", name)
	}
	return m, nil
}

// ListModels returns models for name (or all, if empty), newest first.
func (s *Store) ListModels(ctx context.Context, name string, filter storage.ListFilter) ([]model.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models`
	args := []any{}
	argPos := 1
	if name != "" {
		query += ` WHERE name = $1`
		args = append(args, name)
		argPos++
	}
	query += ` ORDER BY trained_at DESC`
	clause, limitArgs := buildLimitOffset(filter, argPos)
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]model.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// PatchModelState performs an optimistic CAS on Status. Callers must use
// PromoteToProduction rather than this for TRAINED/STAGING->PRODUCTION.
func (s *Store) PatchModelState(ctx context.Context, id string, from, to model.Status) error {
	var promotedAt, archivedAt sql.NullTime
	switch to {
	case model.StatusArchived:
		archivedAt = toNullTime(now())
	case model.StatusProduction:
		promotedAt = toNullTime(now())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE models SET status = $1,
			promoted_at = COALESCE($2, promoted_at),
			archived_at = COALESCE($3, archived_at)
		WHERE id = $4 AND status = $5`,
		to, promotedAt, archivedAt, id, from,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		m, getErr := s.GetModel(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apperr.NewConflictingState("model %s is %s, not %s", id, m.Status, from)
	}
	return nil
}

// PromoteToProduction runs the promotion transaction inside a real SQL
// transaction: verify target is STAGING, demote the current PRODUCTION
// model (if any) to ARCHIVED, set target to PRODUCTION, stamp PromotedAt,
// and publish the ModelActivated event only after commit succeeds. The
// in-memory store achieves the same atomicity with its single mutex; here
// it takes an explicit transaction because multiple connections can
// interleave.
func (s *Store) PromoteToProduction(ctx context.Context, modelID string) (model.Model, *model.Model, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Model{}, nil, apperr.NewInternal(err)
	}
	defer tx.Rollback()

	var target model.Model
	row := tx.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1 FOR UPDATE`, modelID)
	target, err = scanModel(row)
	if err != nil {
		return model.Model{}, nil, wrapErr(err, "model", modelID)
	}
	if target.Status != model.StatusStaging {
		return model.Model{}, nil, apperr.NewConflictingState("model %s must be STAGING to promote, is %s", modelID, target.Status)
	}

	var demoted *model.Model
	row = tx.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE status = $1 FOR UPDATE`, model.StatusProduction)
	incumbent, err := scanModel(row)
	switch {
	case err == nil:
		incumbent.Status = model.StatusArchived
		incumbent.ArchivedReason = "superseded"
		incumbent.ArchivedAt = now()
		if _, err := tx.ExecContext(ctx, `UPDATE models SET status = $1, archived_reason = $2, archived_at = $3 WHERE id = $4`,
			incumbent.Status, incumbent.ArchivedReason, incumbent.ArchivedAt, incumbent.ID); err != nil {
			return model.Model{}, nil, apperr.NewInternal(err)
		}
		demoted = &incumbent
	case err == sql.ErrNoRows:
		// no incumbent to demote
	default:
		return model.Model{}, nil, apperr.NewInternal(err)
	}

	target.Status = model.StatusProduction
	target.PromotedAt = now()
	if _, err := tx.ExecContext(ctx, `UPDATE models SET status = $1, promoted_at = $2 WHERE id = $3`,
		target.Status, target.PromotedAt, target.ID); err != nil {
		return model.Model{}, nil, apperr.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return model.Model{}, nil, apperr.NewInternal(err)
	}

	if err := s.feed.PublishModelActivated(ctx, storage.ModelActivatedEvent{
		ModelID:             target.ID,
		ModelName:           target.Name,
		SchemaHash:          target.SchemaHash,
		PortableArtifactRef: target.PortableArtifactRef,
		PromotedAt:          target.PromotedAt,
	}); err != nil {
		return model.Model{}, nil, apperr.NewInternal(err)
	}

	return target, demoted, nil
}

// RetireModel archives a PRODUCTION model explicitly, outside of a promotion.
func (s *Store) RetireModel(ctx context.Context, modelID string, reason string) (model.Model, error) {
	archivedAt := now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE models SET status = $1, archived_reason = $2, archived_at = $3
		WHERE id = $4 AND status = $5`,
		model.StatusArchived, reason, archivedAt, modelID, model.StatusProduction,
	)
	if err != nil {
		return model.Model{}, apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Model{}, apperr.NewInternal(err)
	}
	if n == 0 {
		m, getErr := s.GetModel(ctx, modelID)
		if getErr != nil {
			return model.Model{}, getErr
		}
		return model.Model{}, apperr.NewConflictingState("model %s must be PRODUCTION to retire, is %s", modelID, m.Status)
	}
	return s.GetModel(ctx, modelID)
}

const baselineColumns = `id, model_id, metric_name, operator, threshold`

func scanBaseline(row rowScanner) (baseline.Baseline, error) {
	var b baseline.Baseline
	err := row.Scan(&b.ID, &b.ModelID, &b.MetricName, &b.Operator, &b.Threshold)
	return b, err
}

// SetBaseline inserts or updates the (ModelID, MetricName) baseline.
func (s *Store) SetBaseline(ctx context.Context, b baseline.Baseline) (baseline.Baseline, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO baselines (`+baselineColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_id, metric_name) DO UPDATE SET
			operator = EXCLUDED.operator, threshold = EXCLUDED.threshold
		RETURNING id`,
		b.ID, b.ModelID, b.MetricName, b.Operator, b.Threshold,
	).Scan(&b.ID)
	if err != nil {
		return baseline.Baseline{}, apperr.NewInternal(err)
	}
	return b, nil
}

// ListBaselines returns every baseline configured for modelID.
func (s *Store) ListBaselines(ctx context.Context, modelID string) ([]baseline.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+baselineColumns+` FROM baselines WHERE model_id = $1`, modelID)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]baseline.Baseline, 0)
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}
