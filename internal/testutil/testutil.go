// Package testutil provides shared test fixtures for ring geometry.
//
// This package centralises the footprints used across the analyzer,
// orthogonalizer and validation tests so every package talks about the
// same shapes.
package testutil

import (
	"math"

	"github.com/banshee-data/unsquare/internal/geom"
)

// Square returns the closed 10x10 square (0,0),(10,0),(10,10),(0,10).
func Square() geom.Ring {
	return geom.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
}

// SkewedSquare returns Square with the (10,10) corner pushed along +x so the
// corners at (10,0) and the moved vertex are offDeg away from 90°.
func SkewedSquare(offDeg float64) geom.Ring {
	d := 10 * math.Tan(offDeg*math.Pi/180)
	return geom.Ring{{0, 0}, {10, 0}, {10 + d, 10}, {0, 10}, {0, 0}}
}

// Rectilinear returns an L-shaped closed ring with six right-angled corners
// and a collinear vertex on its long edge.
func Rectilinear() geom.Ring {
	return geom.Ring{
		{0, 0}, {10, 0}, {20, 0}, {20, 10}, {10, 10}, {10, 20}, {0, 20}, {0, 0},
	}
}

// RegularPolygon returns a closed regular polygon with n distinct vertices
// on a circle of the given radius.
func RegularPolygon(n int, radius float64) geom.Ring {
	pts := make([]geom.Point, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = geom.Point{radius * math.Cos(a), radius * math.Sin(a)}
	}
	return geom.Close(pts)
}

// Jitter returns a copy of r with every distinct vertex displaced by the
// matching (dx, dy) in offsets, keeping the closing point in sync.
func Jitter(r geom.Ring, offsets []geom.Point) geom.Ring {
	pts := geom.Vertices(r)
	for i := range pts {
		if i < len(offsets) {
			pts[i] = geom.Add(pts[i], offsets[i])
		}
	}
	return geom.Close(pts)
}
