// Package geofile persists feature collections as GeoJSON documents.
package geofile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"
)

// WriteOptions controls GeoJSON output.
type WriteOptions struct {
	// Indent pretty-prints the document with two-space indentation.
	Indent bool
}

// Write serializes fc to path. The file is written to a temp file in the
// same directory and renamed into place, so a failed write never leaves a
// truncated document behind.
func Write(path string, fc *geojson.FeatureCollection, opts WriteOptions) error {
	if fc == nil {
		return eris.New("geofile: nil feature collection")
	}
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = map[string]any{}
		}
	}
	if fc.Features == nil {
		fc.Features = []*geojson.Feature{}
	}

	var (
		data []byte
		err  error
	)
	if opts.Indent {
		data, err = json.MarshalIndent(fc, "", "  ")
	} else {
		data, err = json.Marshal(fc)
	}
	if err != nil {
		return eris.Wrap(err, "geofile: encode")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrap(err, "geofile: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "geofile: write")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "geofile: close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "geofile: rename to %s", path)
	}
	return nil
}

// Read loads a GeoJSON FeatureCollection. Null property maps are replaced
// with empty ones.
func Read(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, eris.Wrapf(err, "geofile: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "geofile: decode %s", path)
	}
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = map[string]any{}
		}
	}
	return &fc, nil
}

// Metadata describes how a GeoJSON file was produced.
type Metadata struct {
	RunID        string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Source       string    `json:"source" yaml:"source"`
	Where        string    `json:"where,omitempty" yaml:"where,omitempty"`
	PageSize     int       `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	Pages        int       `json:"pages" yaml:"pages"`
	Records      int       `json:"records" yaml:"records"`
	Features     int       `json:"features" yaml:"features"`
	Skipped      int       `json:"skipped" yaml:"skipped"`
	NullGeometry int       `json:"null_geometry" yaml:"null_geometry"`
	Sample       bool      `json:"sample,omitempty" yaml:"sample,omitempty"`
	FetchedAt    time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// MetadataPath returns the sidecar path for a GeoJSON output file.
func MetadataPath(output string) string {
	return output + ".meta.yaml"
}

// WriteMetadata writes m as YAML next to the output file.
func WriteMetadata(output string, m Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "geofile: encode metadata")
	}
	if err := os.WriteFile(MetadataPath(output), data, 0o644); err != nil { //nolint:gosec // not secret
		return eris.Wrap(err, "geofile: write metadata")
	}
	return nil
}

// ReadMetadata loads the sidecar written by WriteMetadata.
func ReadMetadata(output string) (*Metadata, error) {
	data, err := os.ReadFile(MetadataPath(output)) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, eris.Wrap(err, "geofile: read metadata")
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "geofile: decode metadata")
	}
	return &m, nil
}
