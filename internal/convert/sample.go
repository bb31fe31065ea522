package convert

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Sample returns the fixed four-feature collection written when no remote
// layer can be located: three city points and one rectangular area.
func Sample() *geojson.FeatureCollection {
	city := func(name, state string, population int, x, y float64) *geojson.Feature {
		return &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{x, y}),
			Properties: map[string]any{
				"name":       name,
				"population": population,
				"state":      state,
				"category":   "city",
			},
		}
	}

	area := geom.NewPolygonFlat(geom.XY, []float64{
		-122.5, 37.7,
		-122.3, 37.7,
		-122.3, 37.8,
		-122.5, 37.8,
		-122.5, 37.7,
	}, []int{10})

	return &geojson.FeatureCollection{
		Features: []*geojson.Feature{
			city("San Francisco", "California", 884363, -122.4194, 37.7749),
			city("New York", "New York", 8336817, -74.0059, 40.7128),
			city("Chicago", "Illinois", 2693976, -87.6298, 41.8781),
			{
				Geometry: area,
				Properties: map[string]any{
					"name":       "Sample Area",
					"area_type":  "zone",
					"area_sq_km": 25.5,
					"category":   "area",
				},
			},
		},
	}
}
