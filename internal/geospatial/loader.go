// Package geospatial loads feature collections into PostGIS.
package geospatial

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/db"
	"github.com/sells-group/tractkit/internal/tiger"
)

// advisoryLockID serializes schema changes across concurrent loads.
const advisoryLockID = 8675311

// Columns written for every feature.
var loadColumns = []string{"feature_key", "properties", "geom"}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Target names the table a collection is loaded into.
type Target struct {
	Schema string
	Table  string
}

// Validate checks that schema and table are plain lower-case identifiers.
func (t Target) Validate() error {
	if !identRe.MatchString(t.Schema) {
		return eris.Errorf("geo: invalid schema name %q", t.Schema)
	}
	if !identRe.MatchString(t.Table) {
		return eris.Errorf("geo: invalid table name %q", t.Table)
	}
	return nil
}

func (t Target) String() string { return t.Schema + "." + t.Table }

// EnsureTable creates the PostGIS extension, schema and feature table when
// missing.
func EnsureTable(ctx context.Context, pool db.Pool, t Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	log := zap.L().With(zap.String("component", "geo.ensure"), zap.String("table", t.String()))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		return eris.Wrap(err, "geo: acquire advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			log.Warn("geo: failed to release advisory lock", zap.Error(err))
		}
	}()

	schema := pgx.Identifier{t.Schema}.Sanitize()
	table := pgx.Identifier{t.Schema, t.Table}.Sanitize()
	index := pgx.Identifier{t.Table + "_geom_idx"}.Sanitize()
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS postgis;
		CREATE SCHEMA IF NOT EXISTS %s;
		CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			feature_key TEXT UNIQUE,
			properties  JSONB NOT NULL DEFAULT '{}'::jsonb,
			geom        geometry(Geometry, %d),
			loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom);
	`, schema, table, tiger.SRID, index, table)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return eris.Wrapf(err, "geo: ensure table %s", t)
	}
	log.Debug("table ready")
	return nil
}

// LoadOptions controls LoadCollection.
type LoadOptions struct {
	// KeyField is the property whose value identifies a feature. When set,
	// rows are upserted on it; otherwise they are appended.
	KeyField string
	// Truncate empties the table before an append load.
	Truncate bool
	// BatchSize is the COPY batch size (0 = db.DefaultBatchSize).
	BatchSize int
}

// LoadCollection writes fc into the target table as (feature_key,
// properties jsonb, geom EWKB). Features without geometry load with a NULL
// geom.
func LoadCollection(ctx context.Context, pool db.Pool, t Target, fc *geojson.FeatureCollection, opts LoadOptions) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	rows, err := Rows(fc, opts.KeyField)
	if err != nil {
		return 0, err
	}
	log := zap.L().With(zap.String("component", "geo.load"), zap.String("table", t.String()))

	if opts.KeyField != "" {
		n, err := db.UpsertRows(ctx, pool, db.Upsert{
			Schema:    t.Schema,
			Table:     t.Table,
			Columns:   loadColumns,
			Key:       "feature_key",
			Touch:     []string{"loaded_at"},
			BatchSize: opts.BatchSize,
		}, rows)
		if err != nil {
			return 0, eris.Wrapf(err, "geo: upsert into %s", t)
		}
		log.Info("features upserted", zap.Int64("rows", n), zap.String("key", opts.KeyField))
		return n, nil
	}

	if opts.Truncate {
		sql := fmt.Sprintf("TRUNCATE %s", pgx.Identifier{t.Schema, t.Table}.Sanitize())
		if _, err := pool.Exec(ctx, sql); err != nil {
			return 0, eris.Wrapf(err, "geo: truncate %s", t)
		}
	}
	n, err := db.CopyInBatches(ctx, pool, t.Schema, t.Table, loadColumns, rows, opts.BatchSize)
	if err != nil {
		return n, err
	}
	log.Info("features loaded", zap.Int64("rows", n))
	return n, nil
}

// Rows converts features to COPY rows. With a keyField every feature must
// carry a non-empty, unique value for it.
func Rows(fc *geojson.FeatureCollection, keyField string) ([][]any, error) {
	if fc == nil {
		return nil, nil
	}
	rows := make([][]any, 0, len(fc.Features))
	seen := make(map[string]int)
	for i, f := range fc.Features {
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		propsJSON, err := json.Marshal(props)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: marshal properties of feature %d", i)
		}
		ewkb, err := tiger.EncodeEWKB(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: encode geometry of feature %d", i)
		}

		var key any
		if keyField != "" {
			k := fmt.Sprint(props[keyField])
			if props[keyField] == nil || k == "" {
				return nil, eris.Errorf("geo: feature %d has no %s", i, keyField)
			}
			if prev, dup := seen[k]; dup {
				return nil, eris.Errorf("geo: features %d and %d share %s %q", prev, i, keyField, k)
			}
			seen[k] = i
			key = k
		}
		var g any
		if ewkb != nil {
			g = ewkb
		}
		rows = append(rows, []any{key, propsJSON, g})
	}
	return rows, nil
}
