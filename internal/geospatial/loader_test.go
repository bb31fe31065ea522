package geospatial

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var tracts = Target{Schema: "geo", Table: "az_tracts"}

func collection() *geojson.FeatureCollection {
	return &geojson.FeatureCollection{Features: []*geojson.Feature{
		{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{-112.07, 33.45}),
			Properties: map[string]any{"geoid": "04013010101", "broadband_fixed": 82.5},
		},
		{
			Properties: map[string]any{"geoid": "04019000100"},
		},
	}}
}

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		target  Target
		wantErr string
	}{
		{Target{"geo", "az_tracts"}, ""},
		{Target{"geo", "AZ"}, "invalid table name"},
		{Target{"geo; drop", "t"}, "invalid schema name"},
		{Target{"", "t"}, "invalid schema name"},
	}
	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(advisoryLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS postgis;\s+CREATE SCHEMA IF NOT EXISTS "geo";\s+CREATE TABLE IF NOT EXISTS "geo"."az_tracts"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(advisoryLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, EnsureTable(context.Background(), mock, tracts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_DDLError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(advisoryLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE EXTENSION").WillReturnError(fmt.Errorf("extension \"postgis\" is not available"))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(advisoryLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err = EnsureTable(context.Background(), mock, tracts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure table geo.az_tracts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_InvalidTarget(t *testing.T) {
	err := EnsureTable(context.Background(), nil, Target{Schema: "geo", Table: "x-y"})
	require.Error(t, err)
}

func TestRows(t *testing.T) {
	rows, err := Rows(collection(), "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Nil(t, rows[0][0])
	var props map[string]any
	require.NoError(t, json.Unmarshal(rows[0][1].([]byte), &props))
	assert.Equal(t, "04013010101", props["geoid"])

	ewkb, ok := rows[0][2].([]byte)
	require.True(t, ok)
	assert.Equal(t, byte(1), ewkb[0])

	assert.JSONEq(t, `{"geoid":"04019000100"}`, string(rows[1][1].([]byte)))
	assert.Nil(t, rows[1][2])

	bare, err := Rows(&geojson.FeatureCollection{Features: []*geojson.Feature{{}}}, "")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(bare[0][1].([]byte)))
}

func TestRows_Keyed(t *testing.T) {
	rows, err := Rows(collection(), "geoid")
	require.NoError(t, err)
	assert.Equal(t, "04013010101", rows[0][0])
	assert.Equal(t, "04019000100", rows[1][0])

	fc := collection()
	fc.Features[1].Properties["geoid"] = "04013010101"
	_, err = Rows(fc, "geoid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share geoid")

	fc = collection()
	delete(fc.Features[1].Properties, "geoid")
	_, err = Rows(fc, "geoid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature 1 has no geoid")
}

func TestLoadCollection_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`TRUNCATE "geo"."az_tracts"`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"geo", "az_tracts"}, loadColumns).WillReturnResult(2)

	n, err := LoadCollection(context.Background(), mock, tracts, collection(), LoadOptions{Truncate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCollection_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"stage_geo_az_tracts"}, loadColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "geo"."az_tracts" .* "loaded_at" = now\(\)`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := LoadCollection(context.Background(), mock, tracts, collection(), LoadOptions{KeyField: "geoid"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCollection_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"geo", "az_tracts"}, loadColumns).WillReturnError(fmt.Errorf("relation does not exist"))

	_, err = LoadCollection(context.Background(), mock, tracts, collection(), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO geo.az_tracts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
