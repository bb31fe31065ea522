package fetcher

import (
	"context"

	"github.com/sells-group/tractkit/internal/fault"
	"github.com/sells-group/tractkit/pkg/arcgis"
)

// wgs84 is the spatial reference requested for all layer geometries.
const wgs84 = 4326

// LayerSource pages through a remote feature layer.
type LayerSource struct {
	client    arcgis.Client
	url       string
	outFields string
}

// NewLayerSource returns a PageSource backed by the layer at layerURL.
// An empty outFields requests every field.
func NewLayerSource(client arcgis.Client, layerURL, outFields string) *LayerSource {
	return &LayerSource{client: client, url: layerURL, outFields: outFields}
}

// URL returns the layer URL.
func (s *LayerSource) URL() string { return s.url }

// Page implements PageSource.
func (s *LayerSource) Page(ctx context.Context, where string, offset, count int) ([]Record, error) {
	fs, err := s.client.Query(ctx, s.url, arcgis.QueryParams{
		Where:             where,
		OutFields:         s.outFields,
		ReturnGeometry:    true,
		ResultOffset:      offset,
		ResultRecordCount: count,
		OutSR:             wgs84,
	})
	if err != nil {
		if fault.IsConnection(err) {
			return nil, fault.Wrap(err, fault.Connection, "fetcher.layer")
		}
		return nil, err
	}

	records := make([]Record, 0, len(fs.Features))
	for _, f := range fs.Features {
		rec := Record{Attributes: f.Attributes}
		if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
			rec.Geometry = f.Geometry
		}
		records = append(records, rec)
	}
	return records, nil
}
