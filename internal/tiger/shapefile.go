package tiger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/fetcher"
)

// ShapefileSource serves the records of a local shapefile as pages. The
// whole file is read on open.
type ShapefileSource struct {
	path    string
	fields  []string
	records []fetcher.Record
	tmpDir  string
}

// OpenShapefile reads a .shp (with its .dbf sidecar) or a .zip bundle.
func OpenShapefile(path string) (*ShapefileSource, error) {
	src := &ShapefileSource{path: path}

	shpPath := path
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "tractkit-shp-*")
		if err != nil {
			return nil, eris.Wrap(err, "tiger: create temp dir")
		}
		src.tmpDir = dir
		shpPath, err = fetcher.ExtractShapefile(path, dir)
		if err != nil {
			_ = src.Close()
			return nil, eris.Wrap(err, "tiger: open bundle")
		}
	}

	if err := src.load(shpPath); err != nil {
		_ = src.Close()
		return nil, err
	}
	return src, nil
}

func (s *ShapefileSource) load(shpPath string) error {
	// go-shp reports a missing .dbf as zero fields, so check it up front.
	dbf := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".dbf"
	if _, err := os.Stat(dbf); err != nil {
		return eris.Wrapf(err, "tiger: attribute file for %s", shpPath)
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	s.fields = make([]string, len(fields))
	for i, f := range fields {
		s.fields[i] = strings.TrimRight(f.String(), "\x00")
	}

	var dropped int
	for reader.Next() {
		_, shape := reader.Shape()

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[s.fields[i]] = attributeValue(raw, f)
		}

		geometry, err := EsriJSON(shape)
		if err != nil {
			dropped++
			geometry = nil
		}
		s.records = append(s.records, fetcher.Record{Attributes: attrs, Geometry: geometry})
	}

	if dropped > 0 {
		zap.L().Debug("tiger: shapes without usable geometry",
			zap.String("path", shpPath),
			zap.Int("count", dropped),
		)
	}
	return nil
}

// attributeValue types a dBase value: numeric fields become int64 or
// float64, blanks become nil, everything else stays a string.
func attributeValue(raw string, f shp.Field) any {
	if raw == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		if f.Precision == 0 {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return n
			}
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

// Path returns the path the source was opened from.
func (s *ShapefileSource) Path() string { return s.path }

// Fields returns the dBase field names in file order.
func (s *ShapefileSource) Fields() []string { return s.fields }

// Len returns the number of records in the file.
func (s *ShapefileSource) Len() int { return len(s.records) }

// Close removes any extraction directory.
func (s *ShapefileSource) Close() error {
	if s.tmpDir == "" {
		return nil
	}
	err := os.RemoveAll(s.tmpDir)
	s.tmpDir = ""
	return err
}

var equalityClause = regexp.MustCompile(`^\s*(\w+)\s*=\s*'([^']*)'\s*$`)

// Page implements fetcher.PageSource. The where clause may be empty, "1=1",
// or a single field = 'value' comparison; field names match
// case-insensitively.
func (s *ShapefileSource) Page(ctx context.Context, where string, offset, count int) ([]fetcher.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	match, err := s.filter(where)
	if err != nil {
		return nil, err
	}

	var out []fetcher.Record
	seen := 0
	for _, rec := range s.records {
		if !match(rec) {
			continue
		}
		if seen >= offset {
			out = append(out, rec)
			if len(out) == count {
				break
			}
		}
		seen++
	}
	return out, nil
}

func (s *ShapefileSource) filter(where string) (func(fetcher.Record) bool, error) {
	w := strings.TrimSpace(where)
	if w == "" || w == "1=1" {
		return func(fetcher.Record) bool { return true }, nil
	}

	m := equalityClause.FindStringSubmatch(w)
	if m == nil {
		return nil, eris.Errorf("tiger: unsupported where clause %q", where)
	}
	field := ""
	for _, f := range s.fields {
		if strings.EqualFold(f, m[1]) {
			field = f
			break
		}
	}
	if field == "" {
		return nil, eris.Errorf("tiger: unknown field %q", m[1])
	}

	want := m[2]
	return func(rec fetcher.Record) bool {
		v, ok := rec.Attributes[field]
		if !ok || v == nil {
			return false
		}
		switch x := v.(type) {
		case string:
			return x == want
		case int64:
			return strconv.FormatInt(x, 10) == want
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64) == want
		}
		return false
	}, nil
}

type esriShape struct {
	X      *float64      `json:"x,omitempty"`
	Y      *float64      `json:"y,omitempty"`
	Points [][]float64   `json:"points,omitempty"`
	Paths  [][][]float64 `json:"paths,omitempty"`
	Rings  [][][]float64 `json:"rings,omitempty"`
}

// EsriJSON renders a shapefile shape as Esri JSON geometry. Shapefile rings
// already follow the Esri winding rule (outer rings clockwise), so parts map
// to rings unchanged. Null shapes return nil.
func EsriJSON(shape shp.Shape) (json.RawMessage, error) {
	var es esriShape
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		es.X, es.Y = &s.X, &s.Y
	case *shp.PointZ:
		es.X, es.Y = &s.X, &s.Y
	case *shp.MultiPoint:
		es.Points = pointList(s.Points)
	case *shp.PolyLine:
		es.Paths = splitParts(s.Parts, s.Points)
	case *shp.PolyLineZ:
		es.Paths = splitParts(s.Parts, s.Points)
	case *shp.Polygon:
		es.Rings = splitParts(s.Parts, s.Points)
	case *shp.PolygonZ:
		es.Rings = splitParts(s.Parts, s.Points)
	default:
		return nil, eris.Errorf("tiger: unsupported shape type %T", shape)
	}
	if es.X == nil && len(es.Points) == 0 && len(es.Paths) == 0 && len(es.Rings) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(es)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode esri geometry")
	}
	return data, nil
}

func pointList(pts []shp.Point) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = []float64{p.X, p.Y}
	}
	return out
}

func splitParts(parts []int32, pts []shp.Point) [][][]float64 {
	out := make([][][]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(pts)) {
			continue
		}
		out = append(out, pointList(pts[start:end]))
	}
	return out
}
