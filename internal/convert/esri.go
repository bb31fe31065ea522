package convert

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// esriGeometry covers the four Esri JSON geometry shapes. Only one of the
// groups is populated for a given record.
type esriGeometry struct {
	X      any           `json:"x"`
	Y      any           `json:"y"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
}

// decodeGeometry turns raw geometry JSON into a go-geom value. GeoJSON
// input (anything carrying a "type" member) is decoded as-is; otherwise the
// payload is read as Esri JSON. Empty geometries decode to nil.
func decodeGeometry(raw json.RawMessage) (geom.T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var head map[string]json.RawMessage
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, eris.Wrap(err, "geometry is not a JSON object")
	}
	if _, ok := head["type"]; ok {
		var g geom.T
		if err := geojson.Unmarshal(raw, &g); err != nil {
			return nil, eris.Wrap(err, "decode geojson geometry")
		}
		return g, nil
	}

	var eg esriGeometry
	if err := json.Unmarshal(raw, &eg); err != nil {
		return nil, eris.Wrap(err, "decode esri geometry")
	}

	switch {
	case eg.X != nil || eg.Y != nil:
		return esriPoint(eg.X, eg.Y)
	case eg.Points != nil:
		if len(eg.Points) == 0 {
			return nil, nil
		}
		coords, err := toCoords(eg.Points)
		if err != nil {
			return nil, err
		}
		return geom.NewMultiPoint(geom.XY).SetCoords(coords)
	case eg.Paths != nil:
		return esriPaths(eg.Paths)
	case eg.Rings != nil:
		return esriRings(eg.Rings)
	}
	return nil, nil
}

func esriPoint(x, y any) (geom.T, error) {
	xf, xok := x.(float64)
	yf, yok := y.(float64)
	if !xok || !yok {
		// Esri encodes an empty point as {"x":null} or {"x":"NaN"}.
		return nil, nil
	}
	return geom.NewPointFlat(geom.XY, []float64{xf, yf}), nil
}

func esriPaths(paths [][][]float64) (geom.T, error) {
	lines := make([][]geom.Coord, 0, len(paths))
	for _, p := range paths {
		coords, err := toCoords(p)
		if err != nil {
			return nil, err
		}
		lines = append(lines, coords)
	}
	switch len(lines) {
	case 0:
		return nil, nil
	case 1:
		return geom.NewLineString(geom.XY).SetCoords(lines[0])
	default:
		return geom.NewMultiLineString(geom.XY).SetCoords(lines)
	}
}

// esriRings groups rings into polygons. Clockwise rings start a new polygon;
// counter-clockwise rings are holes of the most recent outer ring. A leading
// hole with no outer ring is promoted to an outer ring.
func esriRings(rings [][][]float64) (geom.T, error) {
	var polys [][][]geom.Coord
	for _, r := range rings {
		coords, err := toCoords(r)
		if err != nil {
			return nil, err
		}
		if len(coords) == 0 {
			continue
		}
		if clockwise(coords) || len(polys) == 0 {
			polys = append(polys, [][]geom.Coord{coords})
			continue
		}
		last := len(polys) - 1
		polys[last] = append(polys[last], coords)
	}

	switch len(polys) {
	case 0:
		return nil, nil
	case 1:
		return geom.NewPolygon(geom.XY).SetCoords(polys[0])
	default:
		return geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	}
}

// clockwise reports whether the ring winds clockwise with y pointing up.
func clockwise(ring []geom.Coord) bool {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += (ring[i+1][0] - ring[i][0]) * (ring[i+1][1] + ring[i][1])
	}
	if n := len(ring); n > 1 && !ring[0].Equal(geom.XY, ring[n-1]) {
		sum += (ring[0][0] - ring[n-1][0]) * (ring[0][1] + ring[n-1][1])
	}
	return sum > 0
}

// toCoords keeps x and y of each vertex and drops z/m.
func toCoords(pts [][]float64) ([]geom.Coord, error) {
	coords := make([]geom.Coord, 0, len(pts))
	for i, p := range pts {
		if len(p) < 2 {
			return nil, eris.Errorf("vertex %d has %d ordinates", i, len(p))
		}
		coords = append(coords, geom.Coord{p[0], p[1]})
	}
	return coords, nil
}
