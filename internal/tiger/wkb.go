package tiger

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is the spatial reference stored with every encoded geometry.
const SRID = 4326

// EncodeEWKB encodes g as little-endian EWKB tagged with SRID 4326.
// A nil geometry encodes to nil so it can be loaded as SQL NULL.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}

	tagged, err := withSRID(g)
	if err != nil {
		return nil, err
	}

	data, err := ewkb.Marshal(tagged, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode WKB")
	}
	return data, nil
}

// withSRID returns a copy of g tagged with SRID.
func withSRID(g geom.T) (geom.T, error) {
	c, err := clone(g)
	if err != nil {
		return nil, err
	}
	switch t := c.(type) {
	case *geom.Point:
		return t.SetSRID(SRID), nil
	case *geom.MultiPoint:
		return t.SetSRID(SRID), nil
	case *geom.LineString:
		return t.SetSRID(SRID), nil
	case *geom.MultiLineString:
		return t.SetSRID(SRID), nil
	case *geom.Polygon:
		return t.SetSRID(SRID), nil
	case *geom.MultiPolygon:
		return t.SetSRID(SRID), nil
	default:
		return c.(*geom.GeometryCollection).SetSRID(SRID), nil
	}
}

// clone deep-copies g. go-geom has no Clone for collections, so those are
// rebuilt member by member.
func clone(g geom.T) (geom.T, error) {
	switch t := g.(type) {
	case *geom.Point:
		return t.Clone(), nil
	case *geom.MultiPoint:
		return t.Clone(), nil
	case *geom.LineString:
		return t.Clone(), nil
	case *geom.MultiLineString:
		return t.Clone(), nil
	case *geom.Polygon:
		return t.Clone(), nil
	case *geom.MultiPolygon:
		return t.Clone(), nil
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, member := range t.Geoms() {
			c, err := clone(member)
			if err != nil {
				return nil, err
			}
			if err := gc.Push(c); err != nil {
				return nil, eris.Wrap(err, "tiger: copy collection member")
			}
		}
		return gc, nil
	default:
		return nil, eris.Errorf("tiger: unsupported geometry %T", g)
	}
}
