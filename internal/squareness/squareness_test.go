package squareness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/unsquare/internal/geom"
	"github.com/banshee-data/unsquare/internal/testutil"
)

func rotate(r geom.Ring, deg float64) geom.Ring {
	s, c := math.Sincos(geom.Radians(deg))
	out := make(geom.Ring, len(r))
	for i, p := range r {
		out[i] = geom.Point{p[0]*c - p[1]*s + 1000, p[0]*s + p[1]*c - 250}
	}
	return out
}

func parallelogram(offDeg float64) geom.Ring {
	d := 10 * math.Tan(geom.Radians(offDeg))
	return geom.Ring{{0, 0}, {10, 0}, {10 + d, 10}, {d, 10}, {0, 0}}
}

func TestAnalyze_Square(t *testing.T) {
	v := Analyze(testutil.Square(), DefaultEpsilon, DefaultDegreeThreshold)

	assert.False(t, v.IsUnsquare)
	assert.InDelta(t, 0, v.MaxOffsetDegrees, 1e-9)
	assert.InDelta(t, 0, v.Deviation, 1e-9)
}

func TestAnalyze_RectilinearRingsAtAnyRotation(t *testing.T) {
	shapes := map[string]geom.Ring{
		"square":      testutil.Square(),
		"l-shape":     testutil.Rectilinear(),
		"rectangle":   {{0, 0}, {30, 0}, {30, 5}, {0, 5}, {0, 0}},
		"with-collin": {{0, 0}, {5, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 5}, {0, 0}},
	}

	for name, shape := range shapes {
		for _, deg := range []float64{0, 7.5, 33, 90, 211.25} {
			v := Analyze(rotate(shape, deg), DefaultEpsilon, DefaultDegreeThreshold)
			assert.False(t, v.IsUnsquare, "%s rotated %.2f°", name, deg)
			assert.InDelta(t, 0, v.MaxOffsetDegrees, 1e-4, "%s rotated %.2f°", name, deg)
		}
	}
}

func TestAnalyze_SkewedCorner(t *testing.T) {
	tests := []struct {
		name    string
		offDeg  float64
		wantMax float64
	}{
		{"eight degrees", 8, 8},
		{"four degrees", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Analyze(testutil.SkewedSquare(tt.offDeg), DefaultEpsilon, DefaultDegreeThreshold)

			assert.True(t, v.IsUnsquare)
			assert.InDelta(t, tt.wantMax, v.MaxOffsetDegrees, 1e-6)
			// Two corners carry the offset, the other two stay square.
			assert.InDelta(t, math.Sqrt2*math.Sin(geom.Radians(tt.offDeg)), v.Deviation, 1e-9)
		})
	}
}

func TestAnalyze_UniformlySlightlyOff(t *testing.T) {
	ring := parallelogram(2)

	v := Analyze(ring, DefaultEpsilon, DefaultDegreeThreshold)
	require.True(t, v.IsUnsquare, "aggregate signal should catch four 2° corners")
	assert.InDelta(t, 2, v.MaxOffsetDegrees, 1e-6)
	assert.Less(t, v.MaxOffsetDegrees, DefaultDegreeThreshold)
	assert.Greater(t, v.Deviation, DefaultEpsilon)

	// A much smaller uniform skew stays below both signals.
	v = Analyze(parallelogram(0.5), DefaultEpsilon, DefaultDegreeThreshold)
	assert.False(t, v.IsUnsquare)
}

func TestAnalyze_SingleOutlierSignal(t *testing.T) {
	// With the aggregate effectively disabled only the per-corner threshold fires.
	hexagon := testutil.RegularPolygon(6, 10)
	v := Analyze(hexagon, 100, DefaultDegreeThreshold)
	assert.True(t, v.IsUnsquare)
	assert.InDelta(t, 30, v.MaxOffsetDegrees, 1e-6)

	v = Analyze(testutil.SkewedSquare(8), 100, DefaultDegreeThreshold)
	assert.False(t, v.IsUnsquare)
	assert.InDelta(t, 8, v.MaxOffsetDegrees, 1e-6)
}

func TestAnalyze_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		ring geom.Ring
	}{
		{"nil", nil},
		{"open", geom.Ring{{0, 0}, {10, 0}, {12, 10}, {0, 10}}},
		{"two points closed", geom.Ring{{0, 0}, {10, 0}, {0, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Analyze(tt.ring, DefaultEpsilon, DefaultDegreeThreshold)
			assert.Equal(t, Verdict{}, v)
			assert.Nil(t, Offsets(tt.ring))
		})
	}
}

func TestAnalyze_DoesNotMutateInput(t *testing.T) {
	ring := testutil.SkewedSquare(5)
	before := ring.Clone()

	Analyze(ring, DefaultEpsilon, DefaultDegreeThreshold)
	assert.Equal(t, before, ring)
}
