package footprint

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/unsquare/internal/eligibility"
	"github.com/banshee-data/unsquare/internal/fix"
	"github.com/banshee-data/unsquare/internal/squareness"
)

// side is roughly 11m at the equator.
const side = 1e-4

func skewed(x0, offDeg float64) string {
	d := side * math.Tan(offDeg*math.Pi/180)
	return fmt.Sprintf("[[[%g,0],[%g,0],[%g,%g],[%g,%g],[%g,0]]]",
		x0, x0+side, x0+side+d, side, x0, side, x0)
}

func feature(id, geometryType, coords, props string) string {
	return fmt.Sprintf(`{"type":"Feature","id":%q,"geometry":{"type":%q,"coordinates":%s},"properties":%s}`,
		id, geometryType, coords, props)
}

func collection(features ...string) []byte {
	out := `{"type":"FeatureCollection","features":[`
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return []byte(out + "]}")
}

func mustParse(t *testing.T, data []byte) *Dataset {
	t.Helper()
	d, err := Parse(data)
	require.NoError(t, err)
	return d
}

func check(d *Dataset, id string) eligibility.Reason {
	f := eligibility.NewFilter(eligibility.DefaultNodeThreshold)
	for _, c := range d.Candidates() {
		if c.ID == id {
			return f.Check(c, d.Context())
		}
	}
	return eligibility.NotBuilding
}

func TestCandidates(t *testing.T) {
	d := mustParse(t, collection(
		feature("way/1", "Polygon", skewed(0, 8), `{"building":"yes"}`),
		feature("way/2", "Polygon", skewed(1, 0), `{"landuse":"grass"}`),
		feature("way/3", "LineString", "[[5,5],[6,6]]", `{"barrier":"fence"}`),
		feature("way/4", "Polygon", skewed(2, 0), `{"building":"no","levels":2}`),
	))
	assert.Equal(t, 4, d.Len())

	cs := d.Candidates()
	require.Len(t, cs, 2)
	assert.Equal(t, "way/1", cs[0].ID)
	assert.Equal(t, "way/4", cs[1].ID)
	assert.Equal(t, "2", cs[1].Tags["levels"])

	c := cs[0]
	require.Len(t, c.Ring, 5)
	require.Len(t, c.Keys, 5)
	assert.Equal(t, c.Keys[0], c.Keys[4])
	assert.Greater(t, c.Ring[1][0], 10.0, "rings are projected to metres")

	v := squareness.Analyze(c.Ring, squareness.DefaultEpsilon, squareness.DefaultDegreeThreshold)
	assert.True(t, v.IsUnsquare)
	assert.InDelta(t, 8, v.MaxOffsetDegrees, 0.01)

	assert.Equal(t, eligibility.NotBuilding, check(d, "way/4"))
}

func TestFeatureIDs(t *testing.T) {
	d := mustParse(t, []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":`+skewed(0, 0)+`},"properties":{"building":"yes","@id":"way/7"}},
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":`+skewed(1, 0)+`},"properties":{"building":"yes"}},
		{"type":"Feature","id":"way/7","geometry":{"type":"Polygon","coordinates":`+skewed(2, 0)+`},"properties":{"building":"yes"}}
	]}`))

	var ids []string
	for _, c := range d.Candidates() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"way/7", "feature/1", "way/7#2"}, ids)
}

func TestConnectedBuildings(t *testing.T) {
	tests := []struct {
		name  string
		other string
		want  eligibility.Reason
	}{
		{
			name:  "alone",
			other: feature("way/9", "LineString", "[[5,5],[6,6]]", `{}`),
			want:  eligibility.Eligible,
		},
		{
			name:  "shares with a fence",
			other: feature("way/9", "LineString", fmt.Sprintf("[[%g,0],[%g,-1]]", side, side), `{"barrier":"fence"}`),
			want:  eligibility.Eligible,
		},
		{
			name:  "shares with a building",
			other: feature("way/9", "Polygon", fmt.Sprintf("[[[%g,0],[%g,-1],[%g,-1],[%g,0]]]", side, side, 1.0, side), `{"building":"yes"}`),
			want:  eligibility.ConnectedBuilding,
		},
		{
			name:  "shares with a building relation",
			other: feature("rel/9", "MultiPolygon", fmt.Sprintf("[[[[%g,0],[%g,-1],[%g,-1],[%g,0]]]]", side, side, 1.0, side), `{"building":"yes"}`),
			want:  eligibility.ConnectedBuilding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustParse(t, collection(
				feature("way/1", "Polygon", skewed(0, 8), `{"building":"yes"}`),
				tt.other,
			))
			assert.Equal(t, tt.want, check(d, "way/1"))
		})
	}
}

func TestLoadedBound(t *testing.T) {
	d := mustParse(t, collection(feature("way/1", "Polygon", skewed(0, 8), `{"building":"yes"}`)))
	assert.Equal(t, eligibility.Eligible, check(d, "way/1"))

	d.SetLoadedBound(orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}})
	assert.Equal(t, eligibility.Eligible, check(d, "way/1"))

	d.SetLoadedBound(orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{side / 2, 1}})
	assert.Equal(t, eligibility.DataNotLoaded, check(d, "way/1"))

	_, err := d.Loaded("not-a-vertex")
	assert.True(t, errors.Is(err, ErrUnknownEntity))
}

func TestApplySquaresRingAndSharedVertices(t *testing.T) {
	d := mustParse(t, collection(
		feature("way/1", "Polygon", skewed(0, 4), `{"building":"yes"}`),
		feature("way/2", "LineString", fmt.Sprintf("[[%g,0],[%g,-1]]", side, side), `{"barrier":"fence"}`),
	))
	require.Equal(t, eligibility.Eligible, check(d, "way/1"))

	err := d.Apply(fix.ApplyOrthogonalizeFix{EntityID: "way/1", Options: fix.DefaultPolicy().Correction})
	require.NoError(t, err)

	ring, err := d.Ring("way/1")
	require.NoError(t, err)
	v := squareness.Analyze(ring, squareness.DefaultEpsilon, squareness.DefaultDegreeThreshold)
	assert.False(t, v.IsUnsquare)
	assert.Less(t, v.MaxOffsetDegrees, 1.0)

	poly := d.FeatureCollection().Features[0].Geometry.(orb.Polygon)
	fence := d.FeatureCollection().Features[1].Geometry.(orb.LineString)
	assert.Equal(t, poly[0][1], fence[0], "the shared vertex moves with the building")
	assert.Equal(t, orb.Point{side, -1}, fence[1])
	assert.Equal(t, poly[0][0], poly[0][len(poly[0])-1])
}

func TestApplyTag(t *testing.T) {
	d := mustParse(t, collection(feature("way/1", "Polygon", skewed(0, 8), `{"building":"yes"}`)))

	err := d.Apply(fix.TagAsNonSquareFix{EntityID: "way/1", Key: fix.NonSquareTag, Value: fix.NonSquareValue})
	require.NoError(t, err)
	assert.Equal(t, "yes", d.FeatureCollection().Features[0].Properties["nonsquare"])
	assert.Equal(t, eligibility.TaggedNonSquare, check(d, "way/1"))
}

func TestApplyErrors(t *testing.T) {
	d := mustParse(t, collection(
		feature("way/1", "Polygon", skewed(0, 8), `{"building":"yes"}`),
		feature("way/2", "LineString", "[[5,5],[6,6]]", `{}`),
	))

	err := d.Apply(fix.TagAsNonSquareFix{EntityID: "way/404"})
	assert.True(t, errors.Is(err, ErrUnknownEntity))

	err = d.Apply(fix.ApplyOrthogonalizeFix{EntityID: "way/404"})
	assert.True(t, errors.Is(err, ErrUnknownEntity))

	err = d.Apply(fix.ApplyOrthogonalizeFix{EntityID: "way/2"})
	assert.Error(t, err)

	assert.Error(t, d.Apply(nil))
}

func TestWriteFileRoundTrip(t *testing.T) {
	d := mustParse(t, collection(feature("way/1", "Polygon", skewed(0, 8), `{"building":"yes"}`)))
	require.NoError(t, d.Apply(fix.TagAsNonSquareFix{EntityID: "way/1", Key: "nonsquare", Value: "yes"}))

	path := filepath.Join(t.TempDir(), "out.geojson")
	require.NoError(t, d.WriteFile(path))

	back, err := LoadFile(path)
	require.NoError(t, err)
	cs := back.Candidates()
	require.Len(t, cs, 1)
	assert.Equal(t, "way/1", cs[0].ID)
	assert.Equal(t, "yes", cs[0].Tags["nonsquare"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestVertexKey(t *testing.T) {
	assert.Equal(t, VertexKey(orb.Point{1.00000001, 2}), VertexKey(orb.Point{1, 2}))
	assert.NotEqual(t, VertexKey(orb.Point{1.0000001, 2}), VertexKey(orb.Point{1, 2}))
	assert.Equal(t, "-12345678,0", VertexKey(orb.Point{-1.2345678, 0}))
}
