package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

const predictionColumns = `id, model_id, request_id, features, score, label, confidence,
	explanation, latency_ms, degraded, actual_label, created_at`

func scanPrediction(row rowScanner) (prediction.Prediction, error) {
	var p prediction.Prediction
	var features, explanation []byte
	var actualLabel sql.NullBool
	err := row.Scan(
		&p.ID, &p.ModelID, &p.RequestID, &features, &p.Score, &p.Label, &p.Confidence,
		&explanation, &p.LatencyMS, &p.Degraded, &actualLabel, &p.CreatedAt,
	)
	if err != nil {
		return prediction.Prediction{}, err
	}
	if err := unmarshalJSON(features, &p.Features); err != nil {
		return prediction.Prediction{}, err
	}
	if len(explanation) > 0 {
		var exp prediction.Explanation
		if err := unmarshalJSON(explanation, &exp); err != nil {
			return prediction.Prediction{}, err
		}
		p.Explanation = &exp
	}
	p.ActualLabel = fromNullBoolPtr(actualLabel)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// AppendPrediction inserts p into the append-only prediction log.
func (s *Store) AppendPrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}

	features, err := marshalJSON(p.Features)
	if err != nil {
		return prediction.Prediction{}, err
	}
	var explanation []byte
	if p.Explanation != nil {
		explanation, err = marshalJSON(p.Explanation)
		if err != nil {
			return prediction.Prediction{}, err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (`+predictionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.ModelID, p.RequestID, features, p.Score, p.Label, p.Confidence,
		explanation, p.LatencyMS, p.Degraded, toNullBoolPtr(p.ActualLabel), p.CreatedAt,
	)
	if err != nil {
		return prediction.Prediction{}, apperr.NewInternal(err)
	}
	return p, nil
}

// ListPredictions returns predictions for modelID (or all, if empty) whose
// CreatedAt falls in [from, to) (either bound may be zero), newest first.
func (s *Store) ListPredictions(ctx context.Context, modelID string, from, to time.Time, filter storage.ListFilter) ([]prediction.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE 1=1`
	var args []any
	argPos := 1
	if modelID != "" {
		query += " AND model_id = $" + itoaArg(argPos)
		args = append(args, modelID)
		argPos++
	}
	if !from.IsZero() {
		query += " AND created_at >= $" + itoaArg(argPos)
		args = append(args, from.UTC())
		argPos++
	}
	if !to.IsZero() {
		query += " AND created_at < $" + itoaArg(argPos)
		args = append(args, to.UTC())
		argPos++
	}
	query += " ORDER BY created_at DESC"
	clause, limitArgs := buildLimitOffset(filter, argPos)
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]prediction.Prediction, 0)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, apperr.NewInternal(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return out, nil
}

// RecordActualLabel backfills ground truth onto an existing prediction.
func (s *Store) RecordActualLabel(ctx context.Context, predictionID string, label bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE predictions SET actual_label = $1 WHERE id = $2`, label, predictionID)
	if err != nil {
		return apperr.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewInternal(err)
	}
	if n == 0 {
		return apperr.NewNotFound("prediction", predictionID)
	}
	return nil
}

const driftColumns = `id, model_id, feature, metric_name, value, p_value, threshold, status, window_start, window_end, computed_at`

func scanDrift(row rowScanner) (metric.Drift, error) {
	var d metric.Drift
	err := row.Scan(
		&d.ID, &d.ModelID, &d.Feature, &d.MetricName, &d.Value, &d.PValue, &d.Threshold,
		&d.Status, &d.Window.Start, &d.Window.End, &d.ComputedAt,
	)
	if err != nil {
		return metric.Drift{}, err
	}
	d.Window.Start = d.Window.Start.UTC()
	d.Window.End = d.Window.End.UTC()
	d.ComputedAt = d.ComputedAt.UTC()
	return d, nil
}

// RecordDrift inserts d, assigning an ID and ComputedAt if unset.
func (s *Store) RecordDrift(ctx context.Context, d metric.Drift) (metric.Drift, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.ComputedAt.IsZero() {
		d.ComputedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drift_metrics (`+driftColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.ModelID, d.Feature, d.MetricName, d.Value, d.PValue, d.Threshold,
		d.Status, d.Window.Start, d.Window.End, d.ComputedAt,
	)
	if err != nil {
		return metric.Drift{}, apperr.NewInternal(err)
	}
	return d, nil
}

// ListDrift returns drift rows for modelID/feature (either may be empty),
// newest first.
func (s *Store) ListDrift(ctx context.Context, modelID string, feature string, filter storage.ListFilter) ([]metric.Drift, error) {
	query := `SELECT ` + driftColumns + ` FROM drift_metrics WHERE 1=1`
	var args []any
	argPos := 1
	if modelID != "" {
		query += " AND model_id = $" + itoaArg(argPos)
		args = append(args, modelID)
		argPos++
	}
	if feature != "" {
		query += " AND feature = $" + itoaArg(argPos)
		args = append(args, feature)
		argPos++
	}
	query += " ORDER BY computed_at DESC"
	clause, limitArgs := buildLimitOffset(filter, argPos)
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]metric.Drift, 0)
	for rows.Next() {
		d, err := scanDrift(rows)
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

const biasColumns = `id, model_id, protected_attribute, metric_name, value, threshold, status, window_start, window_end, computed_at`

func scanBias(row rowScanner) (metric.Bias, error) {
	var b metric.Bias
	err := row.Scan(
		&b.ID, &b.ModelID, &b.ProtectedAttribute, &b.MetricName, &b.Value, &b.Threshold,
		&b.Status, &b.Window.Start, &b.Window.End, &b.ComputedAt,
	)
	if err != nil {
		return metric.Bias{}, err
	}
	b.Window.Start = b.Window.Start.UTC()
	b.Window.End = b.Window.End.UTC()
	b.ComputedAt = b.ComputedAt.UTC()
	return b, nil
}

// RecordBias inserts b, assigning an ID and ComputedAt if unset.
func (s *Store) RecordBias(ctx context.Context, b metric.Bias) (metric.Bias, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.ComputedAt.IsZero() {
		b.ComputedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bias_metrics (`+biasColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.ModelID, b.ProtectedAttribute, b.MetricName, b.Value, b.Threshold,
		b.Status, b.Window.Start, b.Window.End, b.ComputedAt,
	)
	if err != nil {
		return metric.Bias{}, apperr.NewInternal(err)
	}
	return b, nil
}

// ListBias returns bias rows for modelID/attribute (either may be empty),
// newest first.
func (s *Store) ListBias(ctx context.Context, modelID string, attribute string, filter storage.ListFilter) ([]metric.Bias, error) {
	query := `SELECT ` + biasColumns + ` FROM bias_metrics WHERE 1=1`
	var args []any
	argPos := 1
	if modelID != "" {
		query += " AND model_id = $" + itoaArg(argPos)
		args = append(args, modelID)
		argPos++
	}
	if attribute != "" {
		query += " AND protected_attribute = $" + itoaArg(argPos)
		args = append(args, attribute)
		argPos++
	}
	query += " ORDER BY computed_at DESC"
	clause, limitArgs := buildLimitOffset(filter, argPos)
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query+clause, args...)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	defer rows.Close()

	out := make([]metric.Bias, 0)
	for rows.Next() {
		b, err := scanBias(rows)
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
