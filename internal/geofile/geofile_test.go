package geofile

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func testCollection() *geojson.FeatureCollection {
	return &geojson.FeatureCollection{
		Features: []*geojson.Feature{
			{
				Geometry:   geom.NewPointFlat(geom.XY, []float64{-111.9, 33.4}),
				Properties: map[string]any{"geoid": "04013010101", "broadband_fixed": 82.5},
			},
			{
				Geometry: geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8}),
				Properties: map[string]any{
					"geoid":  "04019000100",
					"county": "Pima",
					"notes":  nil,
				},
			},
			{Properties: map[string]any{}},
			{Geometry: geom.NewPointFlat(geom.XY, []float64{1, 2})},
		},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, indent := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "tracts.geojson")
		fc := testCollection()

		require.NoError(t, Write(path, fc, WriteOptions{Indent: indent}))

		got, err := Read(path)
		require.NoError(t, err)
		require.Len(t, got.Features, len(fc.Features))

		for i := range fc.Features {
			assert.Equal(t, keys(fc.Features[i].Properties), keys(got.Features[i].Properties), "feature %d", i)
		}
		assert.Nil(t, got.Features[2].Geometry)
		assert.Equal(t, []float64{-111.9, 33.4}, got.Features[0].Geometry.FlatCoords())
	}
}

func TestWrite_NullPropertiesBecomeEmptyObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{{}}}

	require.NoError(t, Write(path, fc, WriteOptions{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{}}]}`, string(data))
}

func TestWrite_Indent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	require.NoError(t, Write(path, testCollection(), WriteOptions{Indent: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"features\"")
}

func TestWrite_Errors(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "x.geojson"), nil, WriteOptions{})
	require.Error(t, err)

	err = Write(filepath.Join(t.TempDir(), "missing", "x.geojson"), testCollection(), WriteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp file")
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "absent.geojson"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"Feature"`), 0o644))
	_, err = Read(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestMetadata_RoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tracts.geojson")
	fetched := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Metadata{
		RunID:     "run-1",
		Source:    "https://services.arcgis.com/x/FeatureServer/0",
		Where:     "1=1",
		PageSize:  1000,
		Pages:     3,
		Records:   2500,
		Features:  2498,
		Skipped:   2,
		FetchedAt: fetched,
	}

	require.NoError(t, WriteMetadata(out, m))
	assert.FileExists(t, out+".meta.yaml")

	got, err := ReadMetadata(out)
	require.NoError(t, err)
	assert.Equal(t, m.Source, got.Source)
	assert.Equal(t, 2498, got.Features)
	assert.True(t, fetched.Equal(got.FetchedAt))
}
