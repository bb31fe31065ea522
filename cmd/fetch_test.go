package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/config"
	"github.com/sells-group/tractkit/internal/fault"
	"github.com/sells-group/tractkit/internal/geofile"
	"github.com/sells-group/tractkit/internal/store"
)

const testLayerPath = "/arcgis/rest/services/AZ_Tracts/FeatureServer/0"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newTractServer serves a three-tract layer whose maxRecordCount is 2.
func newTractServer(t *testing.T, selfStatus int) *httptest.Server {
	t.Helper()
	return newTractServerPaged(t, selfStatus, 0)
}

// newTractServerPaged is newTractServer with every page past the first
// answering pageStatus when it is non-zero.
func newTractServerPaged(t *testing.T, selfStatus, pageStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/portals/self", func(w http.ResponseWriter, _ *http.Request) {
		if selfStatus != 0 {
			w.WriteHeader(selfStatus)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Test Portal"}`))
	})
	mux.HandleFunc("/sharing/rest/content/items/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Item does not exist or is inaccessible."}}`))
	})
	mux.HandleFunc(testLayerPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":0,"name":"AZ Tracts","geometryType":"esriGeometryPoint","maxRecordCount":2}`))
	})
	mux.HandleFunc(testLayerPath+"/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("returnCountOnly") == "true" {
			_, _ = w.Write([]byte(`{"count":3}`))
			return
		}
		offset, _ := strconv.Atoi(r.PostForm.Get("resultOffset"))
		count, _ := strconv.Atoi(r.PostForm.Get("resultRecordCount"))
		assert.LessOrEqual(t, count, 2)
		if offset > 0 && pageStatus != 0 {
			w.WriteHeader(pageStatus)
			return
		}

		var feats []string
		for i := offset; i < min(offset+count, 3); i++ {
			feats = append(feats, fmt.Sprintf(
				`{"attributes":{"geoid":"0401300%04d","broadband_fixed":%d},"geometry":{"x":-112.%d,"y":33.4}}`, i, 70+i, i))
		}
		_, _ = fmt.Fprintf(w, `{"features":[%s]}`, strings.Join(feats, ","))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setupFetch points the global config at srv and a temp dir, and opens a
// run log there.
func setupFetch(t *testing.T, portalURL string) store.Store {
	t.Helper()
	dir := t.TempDir()

	c, err := config.Load("")
	require.NoError(t, err)
	c.ArcGIS.URL = portalURL
	c.ArcGIS.RatePerSec = 1000
	c.Conversion.OutputFile = filepath.Join(dir, "tracts.geojson")
	c.Store.DatabaseURL = filepath.Join(dir, "runs.db")
	cfg = c

	st, err := initStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func onlyRun(t *testing.T, st store.Store) store.FetchRun {
	t.Helper()
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestRunFetch_LayerURL(t *testing.T) {
	srv := newTractServer(t, 0)
	st := setupFetch(t, srv.URL)
	cfg.Conversion.LayerURL = srv.URL + testLayerPath

	var out bytes.Buffer
	require.NoError(t, runFetch(context.Background(), st, &out))
	assert.Contains(t, out.String(), "Wrote 3 features")

	fc, err := geofile.Read(cfg.Conversion.OutputFile)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "04013000000", fc.Features[0].Properties["geoid"])

	meta, err := geofile.ReadMetadata(cfg.Conversion.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+testLayerPath, meta.Source)
	assert.Equal(t, 2, meta.PageSize)
	assert.Equal(t, 2, meta.Pages)
	assert.Equal(t, 3, meta.Features)
	assert.False(t, meta.Sample)

	run := onlyRun(t, st)
	assert.Equal(t, store.RunStatusSucceeded, run.Status)
	assert.Equal(t, srv.URL+testLayerPath, run.Source)
	assert.Equal(t, 3, run.Features)
	assert.Equal(t, meta.RunID, run.ID)
}

func TestRunFetch_MaxFeatures(t *testing.T) {
	srv := newTractServer(t, 0)
	st := setupFetch(t, srv.URL)
	cfg.Conversion.LayerURL = srv.URL + testLayerPath
	cfg.Conversion.MaxFeatures = 1
	cfg.Conversion.IncludeMetadata = false

	require.NoError(t, runFetch(context.Background(), st, &bytes.Buffer{}))

	fc, err := geofile.Read(cfg.Conversion.OutputFile)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	_, err = geofile.ReadMetadata(cfg.Conversion.OutputFile)
	assert.Error(t, err)
}

func TestRunFetch_NotFoundFallsBackToSample(t *testing.T) {
	srv := newTractServer(t, 0)
	st := setupFetch(t, srv.URL)
	cfg.Conversion.ItemIDs = []string{"missing-item"}

	var out bytes.Buffer
	require.NoError(t, runFetch(context.Background(), st, &out))
	assert.Contains(t, out.String(), "sample collection (4 features)")

	fc, err := geofile.Read(cfg.Conversion.OutputFile)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 4)

	meta, err := geofile.ReadMetadata(cfg.Conversion.OutputFile)
	require.NoError(t, err)
	assert.True(t, meta.Sample)

	run := onlyRun(t, st)
	assert.Equal(t, store.RunStatusSample, run.Status)
	assert.Equal(t, "sample", run.Source)
}

func TestRunFetch_ConnectionFailureRecorded(t *testing.T) {
	srv := newTractServer(t, http.StatusServiceUnavailable)
	st := setupFetch(t, srv.URL)
	cfg.Conversion.LayerURL = srv.URL + testLayerPath

	err := runFetch(context.Background(), st, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Connection))

	run := onlyRun(t, st)
	assert.Equal(t, store.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	_, err = geofile.Read(cfg.Conversion.OutputFile)
	assert.Error(t, err)
}

func TestRunFetch_PageConnectionFailure(t *testing.T) {
	srv := newTractServerPaged(t, 0, http.StatusServiceUnavailable)
	st := setupFetch(t, srv.URL)
	cfg.Conversion.LayerURL = srv.URL + testLayerPath

	err := runFetch(context.Background(), st, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Connection))
	assert.Contains(t, err.Error(), "page 2")

	run := onlyRun(t, st)
	assert.Equal(t, store.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	_, err = geofile.Read(cfg.Conversion.OutputFile)
	assert.Error(t, err)
}

func TestRunFetch_MissingShapefile(t *testing.T) {
	st := setupFetch(t, "https://www.arcgis.com")
	cfg.Conversion.Shapefile = filepath.Join(t.TempDir(), "nope.shp")

	require.NoError(t, runFetch(context.Background(), st, &bytes.Buffer{}))
	assert.Equal(t, store.RunStatusSample, onlyRun(t, st).Status)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, 1000, clampPageSize(1000, 0))
	assert.Equal(t, 2000, clampPageSize(2000, 2000))
	assert.Equal(t, 500, clampPageSize(1000, 500))
	assert.Equal(t, 100, clampPageSize(100, 2000))
}

func TestExplain(t *testing.T) {
	assert.NoError(t, explain(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, explain(plain))

	err := explain(fault.New(fault.Connection, "portal.connect", "refused"))
	assert.Contains(t, err.Error(), "could not reach the ArcGIS portal")
	assert.Contains(t, err.Error(), "refused")

	err = explain(fault.New(fault.EmptyResult, "convert", "no features"))
	assert.Contains(t, err.Error(), "no usable features")
}
