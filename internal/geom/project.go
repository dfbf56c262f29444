package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection maps a geographic coordinate (lon, lat) to a planar Point or back.
type Projection = orb.Projection

var (
	// Mercator projects WGS84 lon/lat into spherical mercator metres.
	Mercator Projection = project.WGS84.ToMercator
	// InverseMercator undoes Mercator.
	InverseMercator Projection = project.Mercator.ToWGS84
)

// ProjectRing applies proj to every point of r and returns a new ring.
// r is left untouched.
func ProjectRing(r orb.Ring, proj Projection) Ring {
	out := make(Ring, len(r))
	for i, p := range r {
		out[i] = proj(p)
	}
	return out
}
