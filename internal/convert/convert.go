// Package convert normalizes raw layer records into GeoJSON features.
package convert

import (
	"maps"

	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/fault"
	"github.com/sells-group/tractkit/internal/fetcher"
)

// Stats summarizes one conversion run.
type Stats struct {
	Records      int `json:"records" yaml:"records"`
	Converted    int `json:"converted" yaml:"converted"`
	Skipped      int `json:"skipped" yaml:"skipped"`
	NullGeometry int `json:"null_geometry" yaml:"null_geometry"`
}

// Normalize maps one record to a Feature. Missing geometry yields a null
// geometry and missing attributes yield an empty property map. A geometry
// that cannot be decoded returns a fault.Conversion error.
func Normalize(rec fetcher.Record) (*geojson.Feature, error) {
	g, err := decodeGeometry(rec.Geometry)
	if err != nil {
		return nil, fault.Wrap(err, fault.Conversion, "convert")
	}

	props := make(map[string]any, len(rec.Attributes))
	maps.Copy(props, rec.Attributes)

	return &geojson.Feature{
		Geometry:   g,
		Properties: props,
	}, nil
}

// Collection normalizes every record, skipping the ones that fail. It
// returns a fault.EmptyResult error when no record survives.
func Collection(records []fetcher.Record) (*geojson.FeatureCollection, Stats, error) {
	log := zap.L().With(zap.String("component", "convert"))

	stats := Stats{Records: len(records)}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(records))}
	for i, rec := range records {
		f, err := Normalize(rec)
		if err != nil {
			stats.Skipped++
			log.Warn("skipping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		if f.Geometry == nil {
			stats.NullGeometry++
		}
		fc.Features = append(fc.Features, f)
	}
	stats.Converted = len(fc.Features)

	if stats.Converted == 0 {
		return nil, stats, fault.New(fault.EmptyResult, "convert",
			"no features could be converted")
	}
	return fc, stats, nil
}
