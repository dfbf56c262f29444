// Package squareness decides whether a closed ring is close enough to
// rectilinear to leave alone.
//
// Two signals are combined. A single corner more than the degree threshold
// away from 90°/180°/270° flags the ring, and so does an aggregate deviation
// above epsilon, which catches rings that are uniformly a little off without
// any single outlier. The aggregate is the L2 norm of sin(offset) over all
// distinct vertices: zero for a rectilinear ring, scale free, and
// non-decreasing in every corner offset.
package squareness

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/unsquare/internal/geom"
)

const (
	// DefaultEpsilon is the loose aggregate deviation used for detection.
	DefaultEpsilon = 0.05
	// DefaultDegreeThreshold flags any single corner offset above it.
	DefaultDegreeThreshold = 13.0
)

// Verdict is the outcome of Analyze.
type Verdict struct {
	IsUnsquare       bool
	MaxOffsetDegrees float64
	// Deviation is the aggregate deviation that was compared against epsilon.
	Deviation float64
}

// Offsets returns the per-vertex corner offsets of a closed ring in radians,
// one per distinct vertex. Degenerate rings return nil.
func Offsets(ring geom.Ring) []float64 {
	if !analyzable(ring) {
		return nil
	}
	pts := geom.Vertices(ring)
	offsets := make([]float64, len(pts))
	for i, p := range pts {
		a, b := geom.Neighbors(pts, i)
		offsets[i] = geom.CornerOffset(a, p, b)
	}
	return offsets
}

// Analyze reports whether ring deviates from a rectilinear shape.
// Rings that are open or have fewer than four points are never flagged.
func Analyze(ring geom.Ring, epsilon, degreeThreshold float64) Verdict {
	offsets := Offsets(ring)
	if len(offsets) == 0 {
		return Verdict{}
	}

	sines := make([]float64, len(offsets))
	for i, o := range offsets {
		sines[i] = math.Sin(o)
	}

	v := Verdict{
		MaxOffsetDegrees: geom.Degrees(floats.Max(offsets)),
		Deviation:        floats.Norm(sines, 2),
	}
	v.IsUnsquare = v.MaxOffsetDegrees > degreeThreshold || v.Deviation > epsilon
	return v
}

func analyzable(ring geom.Ring) bool {
	return len(ring) >= 4 && geom.IsClosed(ring)
}
