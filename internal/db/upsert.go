package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Upsert describes a keyed load into Schema.Table.
type Upsert struct {
	Schema  string
	Table   string
	Columns []string
	// Key is the unique column incoming rows are matched on. It must be one
	// of Columns.
	Key string
	// Touch lists columns set to now() when a row is inserted or replaced.
	Touch []string
	// BatchSize is the COPY batch size into the staging table
	// (0 = DefaultBatchSize).
	BatchSize int
}

func (u Upsert) validate() error {
	if u.Table == "" {
		return eris.New("db: upsert: no table")
	}
	if len(u.Columns) == 0 {
		return eris.Errorf("db: upsert %s: no columns", u.qualified())
	}
	if u.Key == "" {
		return eris.Errorf("db: upsert %s: no key column", u.qualified())
	}
	if !slices.Contains(u.Columns, u.Key) {
		return eris.Errorf("db: upsert %s: key %q not among columns", u.qualified(), u.Key)
	}
	return nil
}

func (u Upsert) qualified() string {
	if u.Schema == "" {
		return u.Table
	}
	return u.Schema + "." + u.Table
}

func (u Upsert) ident() pgx.Identifier {
	if u.Schema == "" {
		return pgx.Identifier{u.Table}
	}
	return pgx.Identifier{u.Schema, u.Table}
}

// stagingTable names the transaction-scoped temp table for u.
func (u Upsert) stagingTable() string {
	return "stage_" + strings.ReplaceAll(u.qualified(), ".", "_")
}

// mergeSQL builds the INSERT ... ON CONFLICT statement that moves staged
// rows into the target. Every non-key column is replaced on conflict.
func (u Upsert) mergeSQL() string {
	cols := quoteAndJoin(u.Columns)
	key := pgx.Identifier{u.Key}.Sanitize()

	var set []string
	for _, c := range u.Columns {
		if c == u.Key {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		set = append(set, q+" = EXCLUDED."+q)
	}
	for _, c := range u.Touch {
		set = append(set, pgx.Identifier{c}.Sanitize()+" = now()")
	}

	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		u.ident().Sanitize(), cols, cols, pgx.Identifier{u.stagingTable()}.Sanitize(), key, action)
}

// UpsertRows stages rows in a temp table with batched COPY, then merges them
// into the target in the same transaction. It returns the rows inserted or
// replaced. Nothing is written unless every batch and the merge succeed.
func UpsertRows(ctx context.Context, pool Pool, u Upsert, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := u.validate(); err != nil {
		return 0, err
	}
	batch := u.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	log := zap.L().With(zap.String("component", "db.upsert"), zap.String("table", u.qualified()))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", u.qualified())
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := pgx.Identifier{u.stagingTable()}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Sanitize(), u.ident().Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", u.qualified())
	}

	for i := 0; i < len(rows); i += batch {
		end := min(i+batch, len(rows))
		if _, err := tx.CopyFrom(ctx, stage, u.Columns, pgx.CopyFromRows(rows[i:end])); err != nil {
			return 0, eris.Wrapf(err, "db: upsert %s: stage rows %d-%d", u.qualified(), i, end)
		}
	}

	tag, err := tx.Exec(ctx, u.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", u.qualified())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", u.qualified())
	}

	log.Debug("rows merged", zap.Int("staged", len(rows)), zap.Int64("affected", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
