package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tractkit/internal/geofile"
)

func rows(cols []string, vals ...[]any) *Frame {
	out := make([]map[string]any, 0, len(vals))
	for _, v := range vals {
		r := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(v) {
				r[c] = v[i]
			}
		}
		out = append(out, r)
	}
	return NewFrame(out)
}

func TestQuantile(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, quantile(xs, 0.25), 1e-12)
	assert.InDelta(t, 2.5, quantile(xs, 0.5), 1e-12)
	assert.InDelta(t, 3.25, quantile(xs, 0.75), 1e-12)
	assert.Equal(t, 1.0, quantile(xs, 0))
	assert.Equal(t, 4.0, quantile(xs, 1))
	assert.Equal(t, 7.0, quantile([]float64{7}, 0.25))
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{float64(1.5), 1.5},
		{int64(3), 3},
		{7, 7},
		{" 42.5 ", 42.5},
		{"n/a", math.NaN()},
		{"", math.NaN()},
		{nil, math.NaN()},
		{true, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			got := toNumber(tt.in)
			if math.IsNaN(tt.want) {
				assert.True(t, math.IsNaN(got))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrame_Columns(t *testing.T) {
	f := NewFrame([]map[string]any{
		{"b": 1, "a": 2},
		{"c": 3, "a": 4},
	})
	assert.Equal(t, []string{"a", "b", "c"}, f.Columns())
	assert.True(t, f.Has("c"))
	assert.False(t, f.Has("d"))
	assert.True(t, math.IsNaN(f.Float(0, "c")))
	assert.Equal(t, "4", f.Text(1, "a"))
	assert.Equal(t, "", f.Text(1, "b"))
}

func TestLoad_CSVAndGeoJSON(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "tracts.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("geoid,broadband_fixed\n04013,81.5\n04019,\n"), 0o644))

	f, err := Load(context.Background(), csvPath)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"geoid", "broadband_fixed"}, f.Columns())
	assert.Equal(t, 81.5, f.Float(0, FieldFixed))
	assert.True(t, math.IsNaN(f.Float(1, FieldFixed)))

	gjPath := filepath.Join(dir, "tracts.geojson")
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{Geometry: geom.NewPointFlat(geom.XY, []float64{-112, 33}), Properties: map[string]any{"geoid": "04013", "broadband_fixed": 70.0}},
		{Properties: map[string]any{"geoid": "04019"}},
	}}
	require.NoError(t, geofile.Write(gjPath, fc, geofile.WriteOptions{}))

	f, err = Load(context.Background(), gjPath)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 70.0, f.Float(0, FieldFixed))
	assert.Equal(t, "04019", f.Text(1, FieldGEOID))

	_, err = Load(context.Background(), filepath.Join(dir, "missing.geojson"))
	require.Error(t, err)
}

func describeFrame() *Frame {
	return rows([]string{FieldGEOID, FieldFixed, "name"},
		[]any{"t1", "50", "a"},
		[]any{"t2", 51.0, "b"},
		[]any{"t3", 52.0, "c"},
		[]any{"t4", 53.0, "d"},
		[]any{"t5", 54.0, "e"},
		[]any{"t6", 100.0, "f"},
		[]any{"t7", "n/a", "g"},
	)
}

func TestDescribeField(t *testing.T) {
	fs, ok := DescribeField(describeFrame(), FieldFixed)
	require.True(t, ok)

	assert.Equal(t, 6, fs.Count)
	assert.InDelta(t, 60.0, float64(fs.Mean), 1e-9)
	assert.Equal(t, Num(50), fs.Min)
	assert.Equal(t, Num(100), fs.Max)
	assert.InDelta(t, 51.25, float64(fs.Q1), 1e-9)
	assert.InDelta(t, 52.5, float64(fs.Median), 1e-9)
	assert.InDelta(t, 53.75, float64(fs.Q3), 1e-9)
	assert.Equal(t, 1, fs.Outliers)
	assert.Equal(t, []string{"t6"}, fs.OutlierIDs)
	assert.Equal(t, 5, fs.Below80)
	assert.Equal(t, 5, fs.Below90)
	assert.InDelta(t, 83.33, fs.PctBelow80(), 0.01)
	assert.Equal(t, "right-skewed", fs.Shape)
	assert.Greater(t, float64(fs.Skew), 0.5)

	_, ok = DescribeField(describeFrame(), "name")
	assert.False(t, ok)
}

func TestDescribe_SkipsAbsentFields(t *testing.T) {
	d := Describe(describeFrame())
	assert.Equal(t, 7, d.Tracts)
	require.Len(t, d.Fields, 1)
	assert.Equal(t, FieldFixed, d.Fields[0].Field)

	var buf bytes.Buffer
	require.NoError(t, d.WriteText(&buf))
	assert.Contains(t, buf.String(), "Broadband Fixed")
	assert.Contains(t, buf.String(), "outlier tracts: t6")

	empty := Describe(NewFrame(nil))
	buf.Reset()
	require.NoError(t, empty.WriteText(&buf))
	assert.Contains(t, buf.String(), "No numeric key variables")
}

func TestShape(t *testing.T) {
	assert.Equal(t, "right-skewed", shape(0.51))
	assert.Equal(t, "left-skewed", shape(-0.51))
	assert.Equal(t, "normal", shape(0.5))
	assert.Equal(t, "normal", shape(-0.5))
	assert.Equal(t, "undefined", shape(math.NaN()))
}

func TestCorrelate(t *testing.T) {
	var vals [][]any
	for i := 0; i < 12; i++ {
		bb := float64(40 + i*5)
		vals = append(vals, []any{bb, 2*bb + 1, 100 - bb})
	}
	vals = append(vals, []any{nil, 10.0, 5.0})
	f := rows([]string{FieldFixed, FieldDevice, FieldSmartphone}, vals...)

	c := Correlate(f)
	assert.Equal(t, []string{FieldDevice, FieldFixed, FieldSmartphone}, c.Fields)
	assert.InDelta(t, 1.0, c.R(FieldFixed, FieldDevice), 1e-9)
	assert.InDelta(t, -1.0, c.R(FieldSmartphone, FieldFixed), 1e-9)
	assert.True(t, math.IsNaN(c.R(FieldFixed, FieldInternet)))
	assert.InDelta(t, -0.355, c.R(FieldDevice, FieldSmartphone), 1e-3)
	assert.Len(t, c.Strong, 2)

	require.Len(t, c.Notable, 2)
	assert.Equal(t, FieldFixed, c.Notable[0].A)
	assert.Equal(t, FieldDevice, c.Notable[0].B)
	assert.Equal(t, "negative", c.Notable[1].Direction())

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	assert.Contains(t, buf.String(), "broadband_fixed <-> pct_smartphone_only: r = -1.000 negative")
}

func TestPearson_Degenerate(t *testing.T) {
	assert.True(t, math.IsNaN(pearson([]float64{1}, []float64{2})))
	assert.True(t, math.IsNaN(pearson([]float64{1, 1, 1}, []float64{1, 2, 3})))
	assert.InDelta(t, 1.0, pearson([]float64{1, math.NaN(), 2, 3}, []float64{2, 9, 4, 6}), 1e-9)
}

func clusterFrame() *Frame {
	cols := []string{FieldGEOID, FieldDevice, FieldFixed, FieldSmartphone}
	var vals [][]any
	for i := 0; i < 10; i++ {
		d := float64(i % 3)
		vals = append(vals, []any{fmt.Sprintf("hi%02d", i), 95 + d, 90 + d, 5 + d})
	}
	for i := 0; i < 10; i++ {
		d := float64(i % 3)
		vals = append(vals, []any{fmt.Sprintf("lo%02d", i), 70 + d, 40 + d, 30 + d})
	}
	vals = append(vals, []any{"partial", 80.0, nil, 10.0})
	return rows(cols, vals...)
}

func TestCluster(t *testing.T) {
	c, err := Cluster(clusterFrame())
	require.NoError(t, err)

	assert.Equal(t, 20, c.Rows)
	assert.Equal(t, 2, c.K)
	assert.Equal(t, ClusterVariables, c.Variables)
	require.Len(t, c.Profiles, 2)
	require.Len(t, c.Labels, 20)

	cats := map[string]ClusterProfile{}
	for _, p := range c.Profiles {
		assert.Equal(t, 10, p.Count)
		assert.Len(t, p.TractIDs, 5)
		cats[p.Category] = p
	}
	require.Contains(t, cats, "High Digital Access")
	require.Contains(t, cats, "Low Digital Access")
	assert.InDelta(t, 90.9, float64(cats["High Digital Access"].Means[FieldFixed]), 1e-9)
	assert.True(t, strings.HasPrefix(cats["Low Digital Access"].TractIDs[0], "lo"))

	for i := 1; i < 10; i++ {
		assert.Equal(t, c.Labels[0], c.Labels[i])
		assert.Equal(t, c.Labels[10], c.Labels[10+i])
	}
	assert.NotEqual(t, c.Labels[0], c.Labels[10])
}

func TestCluster_Deterministic(t *testing.T) {
	a, err := Cluster(clusterFrame())
	require.NoError(t, err)
	b, err := Cluster(clusterFrame())
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Inertia, b.Inertia)
}

func TestCluster_Insufficient(t *testing.T) {
	var vals [][]any
	for i := 0; i < 9; i++ {
		vals = append(vals, []any{float64(i), float64(i)})
	}
	_, err := Cluster(rows([]string{FieldDevice, FieldFixed}, vals...))
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = Cluster(rows([]string{FieldFixed}, []any{1.0}))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestStandardize(t *testing.T) {
	out := standardize([][]float64{{1, 5}, {3, 5}})
	assert.Equal(t, [][]float64{{-1, 0}, {1, 0}}, out)
}

func TestAccessCategory(t *testing.T) {
	assert.Equal(t, "High Digital Access", accessCategory(80.1))
	assert.Equal(t, "Moderate Digital Access", accessCategory(80))
	assert.Equal(t, "Moderate Digital Access", accessCategory(60.1))
	assert.Equal(t, "Low Digital Access", accessCategory(60))
}

func TestCountySummary(t *testing.T) {
	f := rows([]string{FieldCounty, FieldFixed, FieldDevice, FieldSmartphone},
		[]any{"Maricopa County", 90.0, 95.0, 5.0},
		[]any{"Maricopa County", 86.0, 93.0, 7.0},
		[]any{"Apache County", 30.0, 60.0, 20.0},
		[]any{"Apache County", 70.0, 80.0, 10.0},
		[]any{"Apache County", nil, 70.0, 15.0},
		[]any{nil, 10.0, 10.0, 10.0},
	)

	r := CountySummary(f)
	require.Len(t, r.Counties, 2)

	apache := r.Counties[0]
	assert.Equal(t, "Apache County", apache.Name)
	assert.Equal(t, 2, apache.Tracts)
	assert.InDelta(t, 50.0, float64(apache.BroadbandMean), 1e-9)
	assert.InDelta(t, math.Sqrt(800), float64(apache.BroadbandStd), 1e-9)
	assert.Equal(t, "high variance", apache.Variance())
	assert.InDelta(t, 70.0, float64(apache.DeviceMean), 1e-9)

	maricopa := r.Counties[1]
	assert.Equal(t, "low variance", maricopa.Variance())
	assert.InDelta(t, 6.0, float64(maricopa.SmartMean), 1e-9)

	assert.Empty(t, CountySummary(rows([]string{FieldFixed}, []any{1.0})).Counties)
}

func TestPriority(t *testing.T) {
	f := rows([]string{FieldGEOID, FieldCounty, FieldFixed, FieldDevice, FieldSmartphone},
		[]any{"a", "X", 90.0, 95.0, 5.0},
		[]any{"b", "X", 40.0, 70.0, 30.0},
		[]any{"c", "Y", nil, nil, nil},
		[]any{"d", "Y", 40.0, 70.0, 30.0},
	)

	r, err := Priority(f, 3)
	require.NoError(t, err)
	require.Len(t, r.Tracts, 3)

	// (100-40)*0.4 + (100-70)*0.3 + 30*0.3
	assert.InDelta(t, 42.0, float64(r.Tracts[0].Score), 1e-9)
	assert.Equal(t, "b", r.Tracts[0].GEOID)
	assert.Equal(t, "d", r.Tracts[1].GEOID)
	assert.Equal(t, 2, r.Tracts[1].Rank)

	// missing values fill to 50, 50, 10
	assert.Equal(t, "c", r.Tracts[2].GEOID)
	assert.InDelta(t, 38.0, float64(r.Tracts[2].Score), 1e-9)
	assert.False(t, r.Tracts[2].Broadband.Valid())

	def, err := Priority(f, 0)
	require.NoError(t, err)
	assert.Len(t, def.Tracts, 4)

	_, err = Priority(rows([]string{FieldFixed}, []any{1.0}), 10)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestPriorityScore_AbsentField(t *testing.T) {
	has := func(col string) bool { return col != FieldSmartphone }
	assert.InDelta(t, 20+9, PriorityScore(50, 70, 99, has), 1e-9)
}

func TestHouseholds(t *testing.T) {
	f := rows([]string{FieldGEOID, FieldCounty, FieldHouseholds, FieldFixed, FieldDevice},
		[]any{"a", "Pima County", 1000.0, 80.0, 90.0},
		[]any{"b", "Pima County", 3000.0, 60.0, 70.0},
		[]any{"c", "Maricopa County", 6000.0, 90.0, 95.0},
		[]any{"d", "Maricopa County", 0.0, 10.0, 10.0},
		[]any{"e", "Maricopa County", nil, 50.0, 50.0},
	)

	r, err := Households(f, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), r.Total)
	assert.Equal(t, 5, r.Tracts)
	assert.Equal(t, 4, r.ValidTracts)
	assert.InDelta(t, 2500.0, float64(r.Mean), 1e-9)
	assert.InDelta(t, 2000.0, float64(r.Median), 1e-9)
	assert.Equal(t, Num(0), r.Min)
	assert.Equal(t, Num(6000), r.Max)

	require.Len(t, r.Fields, 2)
	var bb HouseholdField
	for _, hf := range r.Fields {
		if hf.Field == FieldFixed {
			bb = hf
		}
	}
	// (1000*80 + 3000*60 + 6000*90) / 10000; zero-household tract excluded
	assert.InDelta(t, 80.0, float64(bb.Weighted), 1e-9)
	assert.InDelta(t, 230.0/3, float64(bb.TractMean), 1e-9)
	assert.Equal(t, 3, bb.ValidTracts)
	assert.Equal(t, int64(8000), bb.With)
	assert.Equal(t, int64(2000), bb.Without)

	require.Len(t, r.Counties, 2)
	assert.Equal(t, "Maricopa County", r.Counties[0].Name)
	assert.Equal(t, int64(6000), r.Counties[0].Households)
	assert.Equal(t, 2, r.Counties[0].Tracts)

	// b: 3000*0.4*0.6 + 3000*0.3*0.4 = 1080; c: 6000*0.1*0.6 + 6000*0.05*0.4 = 480
	require.Len(t, r.Impact, 2)
	assert.Equal(t, "b", r.Impact[0].GEOID)
	assert.InDelta(t, 1080.0, float64(r.Impact[0].Score), 1e-9)
	assert.Equal(t, "c", r.Impact[1].GEOID)
	assert.InDelta(t, 480.0, float64(r.Impact[1].Score), 1e-9)

	_, err = Households(rows([]string{FieldFixed}, []any{1.0}), 0)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestTTest(t *testing.T) {
	tt, p := tTest([]float64{1, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10})
	assert.InDelta(t, -5.0, tt, 1e-9)
	assert.InDelta(t, 0.00105, p, 1e-4)

	tt, p = tTest([]float64{1}, []float64{2, 3})
	assert.True(t, math.IsNaN(tt))
	assert.True(t, math.IsNaN(p))
}

func TestAccessGap(t *testing.T) {
	var vals [][]any
	for i := 0; i < 20; i++ {
		bb := float64(40 + i*3)
		vals = append(vals, []any{bb, bb + 5})
	}
	f := rows([]string{FieldFixed, FieldDevice}, vals...)

	r, err := AccessGap(f)
	require.NoError(t, err)
	// 20 values: q1 at rank 4.75, q3 at rank 14.25
	assert.InDelta(t, 54.25, float64(r.LowThreshold), 1e-9)
	assert.InDelta(t, 82.75, float64(r.HighThreshold), 1e-9)
	assert.Equal(t, 5, r.High.Tracts)
	assert.Equal(t, 5, r.Low.Tracts)
	assert.InDelta(t, 91.0, float64(r.High.Broadband), 1e-9)
	assert.InDelta(t, 96.0, float64(r.High.Device), 1e-9)
	assert.InDelta(t, 46.0, float64(r.Low.Broadband), 1e-9)
	assert.True(t, r.Significant())

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "(significant)")

	_, err = AccessGap(rows([]string{FieldDevice}, []any{1.0}))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestEquity(t *testing.T) {
	f := rows([]string{FieldGEOID, FieldDevice, FieldInternet, FieldFixed, FieldSmartphone},
		[]any{"a", 95.0, 95.0, 92.0, 5.0},
		[]any{"b", 85.0, 80.0, 72.0, 22.0},
		[]any{"c", 60.0, 55.0, 50.0, 30.0},
		[]any{"d", nil, nil, nil, nil},
	)

	r, err := Equity(f)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Tracts)
	assert.Equal(t, 3, r.Scored)
	assert.Equal(t, 1, r.High)
	assert.Equal(t, 1, r.Medium)
	assert.Equal(t, 1, r.Low)
	assert.InDelta(t, 94.0, float64(r.Best), 1e-9)
	assert.InDelta(t, 55.0, float64(r.Worst), 1e-9)
	assert.Equal(t, "c", r.WorstDeviceTract)
	assert.Equal(t, 1, r.LowDevice)
	assert.Equal(t, 1, r.LowBroadband)
	assert.Equal(t, 1, r.NeedIntervention)
	assert.Equal(t, 2, r.SmartDependent)
	assert.Equal(t, 1, r.SmartHigh)
	assert.InDelta(t, 80.0, float64(r.Completeness), 1e-9)

	_, err = Equity(rows([]string{FieldDevice}, []any{1.0}))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestNum_Encoding(t *testing.T) {
	b, err := json.Marshal(struct {
		A Num `json:"a"`
		B Num `json:"b"`
	}{Num(1.5), Num(math.NaN())})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(b))

	y, err := yaml.Marshal(map[string]Num{"inf": Num(math.Inf(1)), "x": 2})
	require.NoError(t, err)
	assert.Equal(t, "inf: null\nx: 2\n", string(y))

	assert.Equal(t, "n/a", Num(math.NaN()).String())
	assert.Equal(t, "3.14", Num(math.Pi).Format(2))
}

func TestRender(t *testing.T) {
	d := Describe(describeFrame())

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, d))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 7.0, decoded["tracts"])

	buf.Reset()
	require.NoError(t, Render(&buf, FormatYAML, d))
	assert.Contains(t, buf.String(), "field: broadband_fixed")

	buf.Reset()
	require.NoError(t, Render(&buf, FormatText, d))
	assert.Contains(t, buf.String(), "Distribution of 7 tracts")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Pct Smartphone Only", Label(FieldSmartphone))
	assert.Equal(t, "Broadband Fixed", Label(FieldFixed))
}

func TestExportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	d := Describe(describeFrame())
	p, err := Priority(clusterFrame(), 3)
	require.NoError(t, err)

	require.NoError(t, ExportXLSX(path, d, p, d))

	wb, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 3)
	assert.Equal(t, "Distribution", wb.Sheets[0].Name)
	assert.Equal(t, "Priority Tracts", wb.Sheets[1].Name)
	assert.Equal(t, "Distribution 2", wb.Sheets[2].Name)

	sheet := wb.Sheets[0]
	assert.Equal(t, "field", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, FieldFixed, sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "6", sheet.Rows[1].Cells[1].String())

	require.Error(t, ExportXLSX(filepath.Join(t.TempDir(), "empty.xlsx")))
}
