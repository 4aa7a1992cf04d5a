package postgres

import (
	"context"
	"database/sql"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/dataset"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

func scanDataset(row rowScanner) (dataset.Dataset, error) {
	var d dataset.Dataset
	var schema []byte
	var parentID sql.NullString
	err := row.Scan(
		&d.ID, &d.Name, &d.Version, &parentID, &schema,
		&d.RowCount, &d.ColumnCount, &d.Checksum, &d.BlobRef, &d.LabelColumn,
		&d.Status, &d.CreatedAt,
	)
	if err != nil {
		return dataset.Dataset{}, err
	}
	d.ParentID = fromNullString(parentID)
	if err := unmarshalJSON(schema, &d.Schema); err != nil {
		return dataset.Dataset{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

const datasetColumns = `id, name, version, parent_id, schema, row_count, column_count, checksum, blob_ref, label_column, status, created_at`

// CreateDataset inserts d, assigning an ID and CreatedAt if unset.
func (s *Store) CreateDataset(ctx context.Context, d dataset.Dataset) (dataset.Dataset, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = dataset.StatusActive
	}
	d.CreatedAt = now()

	schema, err := marshalJSON(d.Schema)
	if err != nil {
		return dataset.Dataset{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.Name, d.Version, toNullString(d.ParentID), schema,
		d.RowCount, d.ColumnCount, d.Checksum, d.BlobRef, d.LabelColumn,
		d.Status, d.CreatedAt,
	)
	if err != nil {
		return dataset.Dataset{}, apperr.NewInternal(err)
	}
	return d, nil
}

// GetDataset fetches a dataset by id.
func (s *Store) GetDataset(ctx context.Context, id string) (dataset.Dataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id)
	d, err := scanDataset(row)
	if err != nil {
		return dataset.Dataset{}, wrapErr(err, "dataset", id)
	}
	return d, nil
}

// ListDatasets returns datasets ordered newest first, bounded by filter.
func (s *Store) ListDatasets(ctx context.Context, filter storage.ListFilter) ([]dataset.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets ORDER BY created_at DESC`
	clause, args := buildLimitOffset(filter, 1)
	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]dataset.Dataset, 0)
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// ArchiveDataset marks a dataset ARCHIVED.
func (s *Store) ArchiveDataset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET status = $1 WHERE id = $2`, dataset.StatusArchived, id)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return apperr.NewNotFound("dataset", id)
	}
	return nil
}

const featureSetColumns = `id, dataset_id, name, config, computed_features, selected_features,
	variance_scores, correlation_drops, mutual_info_scores, importance_scores, final_rank_scores,
	schema_hash, artifact_ref, status, failure_error, created_at, completed_at`

func scanFeatureSet(row rowScanner) (featureset.FeatureSet, error) {
	var fs featureset.FeatureSet
	var config, computed, selected, variance, correlation, mutualInfo, importance, finalRank []byte
	var completedAt sql.NullTime
	err := row.Scan(
		&fs.ID, &fs.DatasetID, &fs.Name, &config, &computed, &selected,
		&variance, &correlation, &mutualInfo, &importance, &finalRank,
		&fs.SchemaHash, &fs.ArtifactRef, &fs.Status, &fs.FailureError,
		&fs.CreatedAt, &completedAt,
	)
	if err != nil {
		return featureset.FeatureSet{}, err
	}
	for _, pair := range []struct {
		data []byte
		dest any
	}{
		{config, &fs.Config},
		{computed, &fs.ComputedFeatures},
		{selected, &fs.SelectedFeatures},
		{variance, &fs.VarianceScores},
		{correlation, &fs.CorrelationDrops},
		{mutualInfo, &fs.MutualInfoScores},
		{importance, &fs.ImportanceScores},
		{finalRank, &fs.FinalRankScores},
	} {
		if err := unmarshalJSON(pair.data, pair.dest); err != nil {
			return featureset.FeatureSet{}, err
		}
	}
	fs.CreatedAt = fs.CreatedAt.UTC()
	fs.CompletedAt = fromNullTime(completedAt)
	return fs, nil
}

func featureSetArgs(fs featureset.FeatureSet) ([]any, error) {
	blobs := make(map[string][]byte, 8)
	fields := []struct {
		name string
		v    any
	}{
		{"config", fs.Config},
		{"computed_features", fs.ComputedFeatures},
		{"selected_features", fs.SelectedFeatures},
		{"variance_scores", fs.VarianceScores},
		{"correlation_drops", fs.CorrelationDrops},
		{"mutual_info_scores", fs.MutualInfoScores},
		{"importance_scores", fs.ImportanceScores},
		{"final_rank_scores", fs.FinalRankScores},
	}
	for _, f := range fields {
		b, err := marshalJSON(f.v)
		if err != nil {
			return nil, err
		}
		blobs[f.name] = b
	}
	return []any{
		fs.ID, fs.DatasetID, fs.Name, blobs["config"], blobs["computed_features"], blobs["selected_features"],
		blobs["variance_scores"], blobs["correlation_drops"], blobs["mutual_info_scores"], blobs["importance_scores"], blobs["final_rank_scores"],
		fs.SchemaHash, fs.ArtifactRef, fs.Status, fs.FailureError, fs.CreatedAt, toNullTime(fs.CompletedAt),
	}, nil
}

// CreateFeatureSet inserts fs, assigning an ID and CreatedAt if unset.
func (s *Store) CreateFeatureSet(ctx context.Context, fs featureset.FeatureSet) (featureset.FeatureSet, error) {
	if fs.ID == "" {
		fs.ID = newID()
	}
	if fs.Status == "" {
		fs.Status = featureset.StatusPending
	}
	fs.CreatedAt = now()

	args, err := featureSetArgs(fs)
	if err != nil {
		return featureset.FeatureSet{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feature_sets (`+featureSetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		args...,
	)
	if err != nil {
		return featureset.FeatureSet{}, apperr.NewInternal(err)
	}
	return fs, nil
}

// UpdateFeatureSet overwrites every mutable column of an existing feature set.
func (s *Store) UpdateFeatureSet(ctx context.Context, fs featureset.FeatureSet) (featureset.FeatureSet, error) {
	existing, err := s.GetFeatureSet(ctx, fs.ID)
	if err != nil {
		return featureset.FeatureSet{}, err
	}
	fs.DatasetID = existing.DatasetID
	fs.CreatedAt = existing.CreatedAt

	args, err := featureSetArgs(fs)
	if err != nil {
		return featureset.FeatureSet{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE feature_sets SET
			name = $3, config = $4, computed_features = $5, selected_features = $6,
			variance_scores = $7, correlation_drops = $8, mutual_info_scores = $9,
			importance_scores = $10, final_rank_scores = $11, schema_hash = $12,
			artifact_ref = $13, status = $14, failure_error = $15, completed_at = $17
		WHERE id = $1`,
		args...,
	)
	if err != nil {
		return featureset.FeatureSet{}, apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return featureset.FeatureSet{}, apperr.NewInternal(err)
	}
	if n == 0 {
		return featureset.FeatureSet{}, apperr.NewNotFound("feature_set", fs.ID)
	}
	return fs, nil
}

// GetFeatureSet fetches a feature set by id.
func (s *Store) GetFeatureSet(ctx context.Context, id string) (featureset.FeatureSet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+featureSetColumns+` FROM feature_sets WHERE id = $1`, id)
	fs, err := scanFeatureSet(row)
	if err != nil {
		return featureset.FeatureSet{}, wrapErr(err, "feature_set", id)
	}
	return fs, nil
}

// GetFeatureSetBySchemaHash looks up a feature set by its computed schema hash.
func (s *Store) GetFeatureSetBySchemaHash(ctx context.Context, schemaHash string) (featureset.FeatureSet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+featureSetColumns+` FROM feature_sets WHERE schema_hash = $1`, schemaHash)
	fs, err := scanFeatureSet(row)
	if err != nil {
		return featureset.FeatureSet{}, wrapErr(err, "feature_set", schemaHash)
	}
	return fs, nil
}

// ListFeatureSets returns feature sets for datasetID (or all, if empty),
// newest first and bounded by filter.
func (s *Store) ListFeatureSets(ctx context.Context, datasetID string, filter storage.ListFilter) ([]featureset.FeatureSet, error) {
	query := `SELECT ` + featureSetColumns + ` FROM feature_sets`
	args := []any{}
	argPos := 1
	if datasetID != "" {
		query += ` WHERE dataset_id = $1`
		args = append(args, datasetID)
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

	out := make([]featureset.FeatureSet, 0)
	for rows.Next() {
		fs, err := scanFeatureSet(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// PatchFeatureSetState performs an optimistic CAS on Status, stamping
// CompletedAt when the new status is terminal.
func (s *Store) PatchFeatureSetState(ctx context.Context, id string, from, to featureset.Status) error {
	var completedAt sql.NullTime
	if to == featureset.StatusCompleted || to == featureset.StatusFailed {
		completedAt = toNullTime(now())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE feature_sets SET status = $1, completed_at = COALESCE($2, completed_at)
		WHERE id = $3 AND status = $4`,
		to, completedAt, id, from,
	)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return s.conflictOrNotFound(ctx, id, from)
	}
	return nil
}

func (s *Store) conflictOrNotFound(ctx context.Context, id string, from featureset.Status) error {
	fs, err := s.GetFeatureSet(ctx, id)
	if err != nil {
		return err
	}
	return apperr.NewConflictingState("feature set %s is %s, not %s", id, fs.Status, from)
}
