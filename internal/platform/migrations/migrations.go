// Package migrations applies the control plane's embedded SQL schema.
//
// golang-migrate/migrate's full iofs+postgres driver pairing tracks its own
// schema_migrations bookkeeping table and issues advisory locks around every
// step; that machinery is the right tool for an operator-facing migrate CLI,
// but the control plane itself only ever runs forward on a fresh or
// already-current database, so Apply stays a minimal, dependency-light exec
// loop over the embedded files instead.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql
var embedded embed.FS

// files is rooted at the migrations directory itself, so ReadDir(".") lists
// the individual .sql files rather than the "sql" directory entry.
var files fs.FS

func init() {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(fmt.Sprintf("migrations: invalid embed: %v", err))
	}
	files = sub
}

// Apply executes every embedded migration file against db in filename order.
// It is idempotent as long as the migration files themselves are
// (CREATE TABLE IF NOT EXISTS, CREATE INDEX IF NOT EXISTS, ...), which is the
// convention every file under sql/ follows.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("migrations: read embedded files: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("migrations: read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("migrations: apply %s: %w", name, err)
		}
	}

	return nil
}
