// Package analysis computes descriptive digital-equity statistics over
// census-tract attribute tables.
package analysis

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/tractkit/internal/fetcher"
	"github.com/sells-group/tractkit/internal/geofile"
)

// Well-known tract attribute names.
const (
	FieldGEOID      = "geoid"
	FieldCounty     = "namelsadco"
	FieldHouseholds = "total_households"

	FieldDevice     = "any_computing_device"
	FieldDesktop    = "desktop_or_laptop"
	FieldInternet   = "internet_subscription"
	FieldBroadband  = "broadband_any"
	FieldFixed      = "broadband_fixed"
	FieldSmartphone = "pct_smartphone_only"
	FieldNoComputer = "pct_no_computer"
	FieldNoInternet = "pct_households_no_internet"
)

// KeyVariables are the digital-equity measures analyzed by default.
var KeyVariables = []string{
	FieldDevice, FieldDesktop, FieldInternet, FieldBroadband,
	FieldFixed, FieldSmartphone, FieldNoComputer, FieldNoInternet,
}

// ClusterVariables are the standardized inputs to Cluster.
var ClusterVariables = []string{FieldDevice, FieldFixed, FieldSmartphone}

// Frame is a row-oriented attribute table. Values are whatever the source
// decoded (numbers, strings, nil); numeric access coerces on read.
type Frame struct {
	rows []map[string]any
	cols []string
	has  map[string]bool
}

// NewFrame builds a frame over rows. Columns are ordered by first
// appearance, alphabetically within a row.
func NewFrame(rows []map[string]any) *Frame {
	f := &Frame{rows: rows, has: make(map[string]bool)}
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			if !f.has[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			f.has[k] = true
			f.cols = append(f.cols, k)
		}
	}
	return f
}

// FromCollection uses each feature's properties as a row.
func FromCollection(fc *geojson.FeatureCollection) *Frame {
	rows := make([]map[string]any, 0, len(fc.Features))
	for _, feat := range fc.Features {
		props := feat.Properties
		if props == nil {
			props = map[string]any{}
		}
		rows = append(rows, props)
	}
	return NewFrame(rows)
}

// FromTable converts a header+rows table. Blank cells become nil and
// header order is preserved.
func FromTable(t *fetcher.Table) *Frame {
	rows := make([]map[string]any, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make(map[string]any, len(t.Header))
		for i, name := range t.Header {
			if i < len(r) && r[i] != "" {
				row[name] = r[i]
			} else {
				row[name] = nil
			}
		}
		rows = append(rows, row)
	}
	f := &Frame{rows: rows, has: make(map[string]bool)}
	for _, name := range t.Header {
		if !f.has[name] {
			f.has[name] = true
			f.cols = append(f.cols, name)
		}
	}
	return f
}

// Load reads a frame from a GeoJSON, CSV or XLSX file, chosen by extension.
func Load(ctx context.Context, path string) (*Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		t, err := fetcher.ReadTable(ctx, path)
		if err != nil {
			return nil, eris.Wrap(err, "analysis: load table")
		}
		return FromTable(t), nil
	default:
		fc, err := geofile.Read(path)
		if err != nil {
			return nil, eris.Wrap(err, "analysis: load features")
		}
		return FromCollection(fc), nil
	}
}

// Len returns the row count.
func (f *Frame) Len() int { return len(f.rows) }

// Columns returns column names in first-seen order.
func (f *Frame) Columns() []string { return f.cols }

// Has reports whether any row carries col.
func (f *Frame) Has(col string) bool { return f.has[col] }

// Float returns row i's col as a number, or NaN when missing or not numeric.
func (f *Frame) Float(i int, col string) float64 {
	return toNumber(f.rows[i][col])
}

// Floats returns the whole column as numbers with NaN for missing values.
func (f *Frame) Floats(col string) []float64 {
	out := make([]float64, len(f.rows))
	for i := range f.rows {
		out[i] = f.Float(i, col)
	}
	return out
}

// Text returns row i's col formatted as a string, or "" when missing.
func (f *Frame) Text(i int, col string) string {
	switch v := f.rows[i][col].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// present returns the column names from want that exist and have at least
// one numeric value.
func (f *Frame) present(want []string) []string {
	var out []string
	for _, col := range want {
		if !f.Has(col) {
			continue
		}
		if len(dropNaN(f.Floats(col))) > 0 {
			out = append(out, col)
		}
	}
	return out
}

// toNumber coerces a decoded value: numbers pass, numeric strings parse,
// everything else is NaN.
func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return math.NaN()
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return x
	}
	return math.NaN()
}

func dropNaN(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}
