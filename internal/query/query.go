// Package query answers fixed keyword questions about a feature collection.
package query

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Fallback is returned for questions no intent recognizes.
const Fallback = "I can answer questions about: feature count, attributes, area, bounds, or geometry types."

// Responder answers questions about one collection.
type Responder struct {
	fc *geojson.FeatureCollection
}

// NewResponder wraps fc. A nil collection is treated as empty.
func NewResponder(fc *geojson.FeatureCollection) *Responder {
	if fc == nil {
		fc = &geojson.FeatureCollection{}
	}
	return &Responder{fc: fc}
}

type intent struct {
	match  func(q string) bool
	answer func(r *Responder) string
}

func containsAny(words ...string) func(string) bool {
	return func(q string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}
}

// intents are tried in order; the first match answers.
var intents = []intent{
	{containsAny("how many"), (*Responder).countAnswer},
	{containsAny("what attributes", "what columns"), (*Responder).attributesAnswer},
	{containsAny("area"), (*Responder).areaAnswer},
	{containsAny("bounds", "extent"), (*Responder).boundsAnswer},
	{
		func(q string) bool { return strings.Contains(q, "geometry") && strings.Contains(q, "type") },
		(*Responder).typesAnswer,
	},
}

// Answer matches the lower-cased question against the intents.
func (r *Responder) Answer(question string) string {
	q := strings.ToLower(question)
	for _, in := range intents {
		if in.match(q) {
			return in.answer(r)
		}
	}
	return Fallback
}

func (r *Responder) countAnswer() string {
	return fmt.Sprintf("There are %d features in this dataset.", r.Count())
}

func (r *Responder) attributesAnswer() string {
	return fmt.Sprintf("The dataset contains these attributes: %s.", strings.Join(r.Attributes(), ", "))
}

func (r *Responder) areaAnswer() string {
	if !r.hasGeometry() {
		return "No geometry found to calculate area."
	}
	return fmt.Sprintf("The total area is approximately %.2f square meters.", r.TotalArea())
}

func (r *Responder) boundsAnswer() string {
	b, ok := r.Bounds()
	if !ok {
		return "No geometry found to compute bounds."
	}
	return fmt.Sprintf("Dataset bounds: minX=%.6f, minY=%.6f, maxX=%.6f, maxY=%.6f",
		b.MinX, b.MinY, b.MaxX, b.MaxY)
}

func (r *Responder) typesAnswer() string {
	counts := r.GeometryTypes()
	if len(counts) == 0 {
		return "Geometry types: none"
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s: %d", n, counts[n])
	}
	return "Geometry types: " + strings.Join(parts, ", ")
}

// Count returns the number of features.
func (r *Responder) Count() int { return len(r.fc.Features) }

// Attributes returns every property name in first-seen order. Names within
// one feature are visited alphabetically.
func (r *Responder) Attributes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range r.fc.Features {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func (r *Responder) hasGeometry() bool {
	for _, f := range r.fc.Features {
		if f.Geometry != nil {
			return true
		}
	}
	return false
}

// Extent is an XY bounding box.
type Extent struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Bounds returns the XY extent of all non-null geometries. ok is false when
// there are none.
func (r *Responder) Bounds() (e Extent, ok bool) {
	e = Extent{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, f := range r.fc.Features {
		if extend(&e, f.Geometry) {
			ok = true
		}
	}
	return e, ok
}

func extend(e *Extent, g geom.T) bool {
	if g == nil {
		return false
	}
	if gc, isColl := g.(*geom.GeometryCollection); isColl {
		found := false
		for _, child := range gc.Geoms() {
			if extend(e, child) {
				found = true
			}
		}
		return found
	}
	flat, stride := g.FlatCoords(), g.Stride()
	if len(flat) < 2 || stride < 2 {
		return false
	}
	for i := 0; i+1 < len(flat); i += stride {
		e.MinX = math.Min(e.MinX, flat[i])
		e.MaxX = math.Max(e.MaxX, flat[i])
		e.MinY = math.Min(e.MinY, flat[i+1])
		e.MaxY = math.Max(e.MaxY, flat[i+1])
	}
	return true
}

// GeometryTypes counts features by geometry type name. Null geometries are
// not counted.
func (r *Responder) GeometryTypes() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.fc.Features {
		if name := typeName(f.Geometry); name != "" {
			counts[name]++
		}
	}
	return counts
}

func typeName(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "Point"
	case *geom.MultiPoint:
		return "MultiPoint"
	case *geom.LineString:
		return "LineString"
	case *geom.MultiLineString:
		return "MultiLineString"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	case *geom.GeometryCollection:
		return "GeometryCollection"
	}
	return ""
}

// TotalArea sums polygon areas in square meters after projecting the
// coordinates to Web Mercator (EPSG:3857). Points and lines contribute 0.
func (r *Responder) TotalArea() float64 {
	var total float64
	for _, f := range r.fc.Features {
		total += mercatorArea(f.Geometry)
	}
	return total
}

func mercatorArea(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return planar.Area(project.Geometry(orbPolygon(t), project.WGS84.ToMercator))
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, t.NumPolygons())
		for i := range t.NumPolygons() {
			mp = append(mp, orbPolygon(t.Polygon(i)))
		}
		return planar.Area(project.Geometry(mp, project.WGS84.ToMercator))
	case *geom.GeometryCollection:
		var sum float64
		for _, child := range t.Geoms() {
			sum += mercatorArea(child)
		}
		return sum
	}
	return 0
}

// orbPolygon copies p into a new orb polygon so projection never touches
// the source geometry.
func orbPolygon(p *geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, p.NumLinearRings())
	for i := range p.NumLinearRings() {
		lr := p.LinearRing(i)
		ring := make(orb.Ring, 0, lr.NumCoords())
		for _, c := range lr.Coords() {
			ring = append(ring, orb.Point{c[0], c[1]})
		}
		out = append(out, ring)
	}
	return out
}
