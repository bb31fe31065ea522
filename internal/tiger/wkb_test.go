package tiger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func TestEncodeEWKB_Point(t *testing.T) {
	p := geom.NewPointFlat(geom.XY, []float64{-111.93, 33.42})
	data, err := EncodeEWKB(p)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, SRID, g.SRID())
	assert.Equal(t, []float64{-111.93, 33.42}, g.FlatCoords())

	assert.Equal(t, 0, p.SRID(), "input geometry must not be modified")
}

func TestEncodeEWKB_Polygon(t *testing.T) {
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		-112, 33, -112, 34, -111, 34, -111, 33, -112, 33,
	}, []int{10})

	data, err := EncodeEWKB(poly)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	_, ok := g.(*geom.Polygon)
	assert.True(t, ok)
	assert.Equal(t, byte(1), data[0], "little endian")
}

func TestEncodeEWKB_MultiTypes(t *testing.T) {
	mls := geom.NewMultiLineStringFlat(geom.XY, []float64{0, 0, 1, 1, 2, 2, 3, 3}, []int{4, 8})
	mp := geom.NewMultiPolygonFlat(geom.XY, []float64{0, 0, 0, 1, 1, 1, 0, 0}, [][]int{{8}})

	for _, g := range []geom.T{mls, mp} {
		data, err := EncodeEWKB(g)
		require.NoError(t, err)
		decoded, err := ewkb.Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, SRID, decoded.SRID())
	}
}

func TestEncodeEWKB_GeometryCollection(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{-111.93, 33.42})
	ls := geom.NewLineStringFlat(geom.XY, []float64{-112, 33, -111, 34})
	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(pt, ls))

	data, err := EncodeEWKB(gc)
	require.NoError(t, err)

	decoded, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, SRID, decoded.SRID())
	out, ok := decoded.(*geom.GeometryCollection)
	require.True(t, ok)
	require.Equal(t, 2, out.NumGeoms())
	assert.Equal(t, []float64{-111.93, 33.42}, out.Geom(0).FlatCoords())
	assert.Equal(t, []float64{-112, 33, -111, 34}, out.Geom(1).FlatCoords())

	assert.Equal(t, 0, gc.SRID(), "input geometry must not be modified")
}

func TestEncodeEWKB_Unsupported(t *testing.T) {
	_, err := EncodeEWKB(geom.NewLinearRingFlat(geom.XY, []float64{0, 0, 1, 1, 0, 0}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported geometry")
}

func TestEncodeEWKB_Nil(t *testing.T) {
	data, err := EncodeEWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}
