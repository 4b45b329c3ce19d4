// Package etl provides incremental synchronization of DC moving-violation and
// weather data into Postgres.
package etl

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes schema changes across overlapping deploys.
const migrationLockID = 7202409

// bootstrapSQL runs outside the migration files because the tracking table
// has to exist before the applied set can be read.
const bootstrapSQL = `
CREATE SCHEMA IF NOT EXISTS etl;
CREATE TABLE IF NOT EXISTS etl.schema_migrations (
	id         SERIAL PRIMARY KEY,
	filename   TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Migrate brings the etl schema up to date: any embedded .sql file not yet
// recorded in etl.schema_migrations is applied, in lexicographic order, under
// a session advisory lock.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "etl.migrate"))

	if _, err := pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_lock(%d)", migrationLockID)); err != nil {
		return eris.Wrap(err, "etl: acquire migration lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_unlock(%d)", migrationLockID)); err != nil {
			log.Warn("migration lock not released", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, bootstrapSQL); err != nil {
		return eris.Wrap(err, "etl: bootstrap migration tracking")
	}

	pending, err := pendingMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, file := range pending {
		log.Info("applying migration", zap.String("file", path.Base(file)))
		if err := applyMigration(ctx, pool, file); err != nil {
			return err
		}
	}
	return nil
}

// pendingMigrations lists the embedded migration files not yet recorded, in
// apply order.
func pendingMigrations(ctx context.Context, pool db.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM etl.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "etl: read applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "etl: scan applied migration")
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "etl: read applied migrations")
	}

	// Glob results come back sorted, which is apply order for the
	// zero-padded filenames.
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, eris.Wrap(err, "etl: list migration files")
	}

	pending := make([]string, 0, len(files))
	for _, file := range files {
		if !applied[path.Base(file)] {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

// applyMigration executes one migration file and records it as applied.
func applyMigration(ctx context.Context, pool db.Pool, file string) error {
	name := path.Base(file)

	sql, err := migrationFS.ReadFile(file)
	if err != nil {
		return eris.Wrapf(err, "etl: read migration %s", name)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return eris.Wrapf(err, "etl: apply migration %s", name)
	}
	if _, err := pool.Exec(ctx,
		"INSERT INTO etl.schema_migrations (filename, applied_at) VALUES ($1, now())", name,
	); err != nil {
		return eris.Wrapf(err, "etl: record migration %s", name)
	}
	return nil
}
