// Package postgres is the PostgreSQL-backed storage.Catalog implementation,
// wired in place of storage/memory whenever a database DSN is configured. It
// mirrors the in-memory store's CAS and transactional semantics with real SQL
// transactions where ordering matters, and publishes change-feed events over
// a dedicated internal/app/catalogbus.Feed so subscribers in a different
// process see the same events a same-process caller would.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/catalogbus"
	"github.com/r3e-network/fraudctl/internal/app/core/service"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

// Store implements storage.Catalog backed by PostgreSQL.
type Store struct {
	db   *sql.DB
	feed *catalogbus.Feed
}

var _ storage.Catalog = (*Store)(nil)

// New wires a Store against db, opening a dedicated LISTEN/NOTIFY connection
// to dsn for its change feed. db and dsn must point at the same database.
func New(db *sql.DB, dsn string) (*Store, error) {
	feed, err := catalogbus.New(dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, feed: feed}, nil
}

// Close releases the change feed's dedicated listener connection. It does
// not close db, which the caller owns.
func (s *Store) Close() error { return s.feed.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func newID() string { return uuid.NewString() }

func now() time.Time { return time.Now().UTC() }

func wrapErr(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NewNotFound(entity, id)
	}
	return apperr.NewInternal(err)
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	return b, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.NewInternal(err)
	}
	return nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time.UTC()
	}
	return time.Time{}
}

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func toNullBoolPtr(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func fromNullBoolPtr(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	b := nb.Bool
	return &b
}

// buildLimitOffset renders a "LIMIT $n OFFSET $m" suffix for filter, starting
// parameter numbering at argPos. It returns the clause and the values to
// append to the query's argument list.
func buildLimitOffset(filter storage.ListFilter, argPos int) (string, []any) {
	clause := " LIMIT $" + strconv.Itoa(argPos)
	args := []any{service.ClampLimit(filter.Limit, service.DefaultListLimit, service.MaxListLimit)}
	argPos++
	if filter.Offset > 0 {
		clause += " OFFSET $" + strconv.Itoa(argPos)
		args = append(args, filter.Offset)
	}
	return clause, args
}

// itoaArg renders a positional parameter index for queries that build their
// WHERE clause conditionally, where strconv.Itoa inline would be noisy.
func itoaArg(n int) string { return strconv.Itoa(n) }
