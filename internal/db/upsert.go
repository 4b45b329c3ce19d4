package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ConflictPolicy controls what happens when an inserted row collides with an
// existing primary key.
type ConflictPolicy int

const (
	// ConflictIgnore leaves the existing row unchanged (INSERT ... DO NOTHING).
	ConflictIgnore ConflictPolicy = iota
	// ConflictOverwrite replaces all non-key columns (INSERT ... DO UPDATE).
	ConflictOverwrite
)

// String returns the policy name for logging.
func (p ConflictPolicy) String() string {
	switch p {
	case ConflictIgnore:
		return "ignore"
	case ConflictOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string         // target table (e.g., "etl.violations")
	Columns      []string       // all columns being inserted
	ConflictKeys []string       // columns forming the unique constraint
	Policy       ConflictPolicy // what to do when a key already exists
}

// BulkUpsert performs a bulk upsert via a temp table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the same columns
// 2. COPY rows into the temp table
// 3. Dedupes the temp table on the conflict keys (last row wins)
// 4. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO NOTHING / DO UPDATE
// The whole batch commits in one transaction; any failure rolls back all rows.
// The returned count is the number of rows submitted, which with ConflictIgnore
// may exceed the number of rows that changed state.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	// Create temp table with same structure as target
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	// COPY rows into temp table
	copySource := pgx.CopyFromRows(rows)
	n, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, copySource)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	// A batch can legitimately carry the same key twice (overlapping pages).
	// ON CONFLICT DO UPDATE refuses to touch a row twice in one statement, so
	// dedupe in the temp table first, keeping the last occurrence.
	keyEq := make([]string, len(cfg.ConflictKeys))
	for i, k := range cfg.ConflictKeys {
		keyEq[i] = fmt.Sprintf("a.%s = b.%s", pgx.Identifier{k}.Sanitize(), pgx.Identifier{k}.Sanitize())
	}
	dedupeSQL := fmt.Sprintf(
		"DELETE FROM %s a USING %s b WHERE a.ctid < b.ctid AND %s",
		pgx.Identifier{tempTable}.Sanitize(),
		pgx.Identifier{tempTable}.Sanitize(),
		strings.Join(keyEq, " AND "),
	)
	if _, err := tx.Exec(ctx, dedupeSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: dedupe temp table for %s", cfg.Table)
	}

	// Build INSERT ... ON CONFLICT per policy
	colList := quoteAndJoin(cfg.Columns)
	conflictList := quoteAndJoin(cfg.ConflictKeys)

	var conflictClause string
	switch cfg.Policy {
	case ConflictIgnore:
		conflictClause = fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", conflictList)
	case ConflictOverwrite:
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		var setClauses []string
		for _, col := range cfg.Columns {
			if conflictSet[col] {
				continue
			}
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize()))
		}
		if len(setClauses) == 0 {
			return 0, eris.Errorf("db: upsert: overwrite policy on %s has no non-key columns", cfg.Table)
		}
		conflictClause = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", conflictList, strings.Join(setClauses, ", "))
	default:
		return 0, eris.Errorf("db: upsert: unknown conflict policy %d", cfg.Policy)
	}

	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		conflictClause,
	)

	if _, err := tx.Exec(ctx, upsertSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return n, nil
}

// sanitizeTable handles schema-qualified table names like "etl.violations".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
