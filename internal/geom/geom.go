// Package geom holds the planar vector and angle helpers shared by the
// squareness analyzer and the orthogonalizer.
//
// Rings use the explicit closing point convention: the first and last points
// are equal, so a quadrilateral has five points and four distinct vertices.
// Nothing here touches geographic coordinates; callers project first.
package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Point is a planar coordinate.
type Point = orb.Point

// Ring is a closed sequence of points with an explicit closing point.
type Ring = orb.Ring

// Add returns a + b.
func Add(a, b Point) Point {
	return Point{a[0] + b[0], a[1] + b[1]}
}

// Sub returns a - b.
func Sub(a, b Point) Point {
	return Point{a[0] - b[0], a[1] - b[1]}
}

// Scale returns p scaled by factor.
func Scale(p Point, factor float64) Point {
	return Point{p[0] * factor, p[1] * factor}
}

// Dot returns the dot product of a and b.
func Dot(a, b Point) float64 {
	return a[0]*b[0] + a[1]*b[1]
}

// Length returns the Euclidean length of p.
func Length(p Point) float64 {
	return math.Hypot(p[0], p[1])
}

// Normalize returns p scaled to unit length. The zero vector is returned unchanged.
func Normalize(p Point) Point {
	l := Length(p)
	if l == 0 {
		return Point{}
	}
	return Scale(p, 1/l)
}

// Interp returns the point a fraction t of the way from a to b.
func Interp(a, b Point, t float64) Point {
	return Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
}

// Equal reports exact coordinate equality.
func Equal(a, b Point) bool {
	return a[0] == b[0] && a[1] == b[1]
}

// IsClosed reports whether r has at least two points and ends where it starts.
func IsClosed(r Ring) bool {
	return len(r) >= 2 && Equal(r[0], r[len(r)-1])
}

// Vertices returns a copy of the distinct vertices of a closed ring, i.e.
// without the closing point. An open ring is copied as is.
func Vertices(r Ring) []Point {
	n := len(r)
	if IsClosed(r) {
		n--
	}
	out := make([]Point, n)
	copy(out, r[:n])
	return out
}

// Close returns a new ring made of pts followed by a copy of pts[0].
func Close(pts []Point) Ring {
	if len(pts) == 0 {
		return Ring{}
	}
	r := make(Ring, 0, len(pts)+1)
	r = append(r, pts...)
	return append(r, pts[0])
}

// Centroid returns the mean of pts.
func Centroid(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range pts {
		sx += p[0]
		sy += p[1]
	}
	n := float64(len(pts))
	return Point{sx / n, sy / n}
}

// SquaredPerimeter returns the sum of squared edge lengths of the cyclic
// sequence pts, including the edge from the last point back to the first.
func SquaredPerimeter(pts []Point) float64 {
	var total float64
	for i := range pts {
		d := Sub(pts[(i+1)%len(pts)], pts[i])
		total += Dot(d, d)
	}
	return total
}

// NormalizedDotProduct returns the cosine of the corner at origin formed by
// the edges towards a and b. A zero-length edge reports 1 (straight).
func NormalizedDotProduct(a, b, origin Point) float64 {
	if Equal(origin, a) || Equal(origin, b) {
		return 1
	}
	p := Normalize(Sub(a, origin))
	q := Normalize(Sub(b, origin))
	return Dot(p, q)
}

// CornerAngle returns the unsigned corner angle at origin folded into
// [0, π/2]: 0 for straight runs and spikes, π/2 for right angles.
func CornerAngle(a, origin, b Point) float64 {
	c := math.Abs(NormalizedDotProduct(a, b, origin))
	if c > 1 {
		c = 1
	}
	return math.Acos(c)
}

// CornerOffset returns, in radians, how far the corner at origin is from the
// nearest of 90°, 180° or 270°. The result lies in [0, π/4].
func CornerOffset(a, origin, b Point) float64 {
	theta := CornerAngle(a, origin, b)
	return math.Min(theta, math.Pi/2-theta)
}

// Neighbors returns the cyclic predecessor and successor of pts[i].
func Neighbors(pts []Point, i int) (prev, next Point) {
	n := len(pts)
	return pts[(i-1+n)%n], pts[(i+1)%n]
}

// ProjectOntoPath returns the point on the polyline path closest to p.
// ok is false when path has fewer than two points.
func ProjectOntoPath(p Point, path []Point) (target Point, ok bool) {
	if len(path) < 2 {
		return Point{}, false
	}
	best := math.Inf(1)
	for i := 0; i < len(path)-1; i++ {
		a, b := path[i], path[i+1]
		ab := Sub(b, a)
		var t float64
		if l2 := Dot(ab, ab); l2 > 0 {
			t = Dot(Sub(p, a), ab) / l2
		}
		t = math.Max(0, math.Min(1, t))
		cand := Interp(a, b, t)
		d := Sub(p, cand)
		if dist := Dot(d, d); dist < best {
			best = dist
			target = cand
		}
	}
	return target, true
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}
