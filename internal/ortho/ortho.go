// Package ortho squares a closed ring: it nudges vertices until every corner
// within a threshold of 90° becomes a right angle, while straight runs stay
// straight and corners far from square are left alone.
//
// The solver is an iterative relaxation. Each pass computes a displacement
// for every movable corner from the current positions and applies them all
// at once. A pass that would make the worst corner worse is retried with a
// smaller step, so the max error never increases from one iteration to the
// next and the last state is the most square one found. The result is
// translated and scaled back onto the input's vertex centroid and squared
// perimeter, which makes the correction a pure shape change.
package ortho

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/unsquare/internal/geom"
)

// ErrPreconditionFailed is returned for rings the solver refuses to touch.
// It is distinct from non-convergence, which is reported on Result.
var ErrPreconditionFailed = errors.New("ring cannot be orthogonalized")

const (
	// DefaultTolerance is the convergence tolerance in radians.
	DefaultTolerance = 1e-4
	// DefaultMaxIterations bounds the relaxation loop.
	DefaultMaxIterations = 1000
	// DefaultThreshold is how close to square (or straight), in degrees, a
	// corner must be for the solver to treat it as one.
	DefaultThreshold = 13.0

	damping = 0.1
	// minStepFraction is the smallest share of a pass's motion tried before
	// the solver gives up on improving the ring.
	minStepFraction = 1.0 / 1024
)

// Options configures Orthogonalize. Zero fields take the defaults.
type Options struct {
	Tolerance     float64 // radians
	MaxIterations int
	Threshold     float64 // degrees
}

// DefaultOptions returns the strict options used for automatic fixes.
func DefaultOptions() Options {
	return Options{
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		Threshold:     DefaultThreshold,
	}
}

// WithDefaults returns o with zero fields replaced by the defaults.
func (o Options) WithDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// Result is a corrected ring. Ring has the same number of points, in the
// same order, as the input.
type Result struct {
	Ring       geom.Ring
	Converged  bool
	Iterations int
	// MaxErrorDegrees is the worst remaining offset over every corner,
	// including the ones too far from square for the solver to move. A
	// triangle counts only its movable corner.
	MaxErrorDegrees float64
	// History is the max error (degrees) after each iteration. It never
	// increases.
	History []float64
}

// Check reports whether ring satisfies the solver's preconditions without
// running it.
func Check(ring geom.Ring, opts Options) error {
	_, err := newPlan(ring, opts.WithDefaults())
	return err
}

// Orthogonalize returns a squared copy of ring. ring itself is not modified.
// A ring that does not converge within the iteration budget, or that stops
// improving, is still returned with Converged false.
func Orthogonalize(ring geom.Ring, opts Options) (Result, error) {
	opts = opts.WithDefaults()
	p, err := newPlan(ring, opts)
	if err != nil {
		return Result{}, err
	}

	work := p.cornerPoints()
	cur := p.measure(work)
	res := Result{Converged: cur.max < opts.Tolerance}

	motions := make([]geom.Point, len(work))
	next := make([]geom.Point, len(work))
	for res.Iterations < opts.MaxIterations && !res.Converged {
		for k := range work {
			motions[k] = p.motion(work, k)
		}
		// Halve the step until it improves the ring; a pass that cannot
		// improve ends the solve.
		accepted := false
		for f := 1.0; f >= minStepFraction; f /= 2 {
			for k := range work {
				next[k] = geom.Add(work[k], geom.Scale(motions[k], f))
			}
			if s := p.measure(next); s.improves(cur) {
				work, next = next, work
				cur = s
				accepted = true
				break
			}
		}
		if !accepted {
			break
		}
		res.Iterations++
		res.History = append(res.History, geom.Degrees(cur.max))
		res.Converged = cur.max < opts.Tolerance
	}

	res.MaxErrorDegrees = geom.Degrees(cur.max)
	res.Ring = geom.Close(p.reanchor(p.assemble(work)))
	return res, nil
}

// plan holds the classification of a ring's vertices.
type plan struct {
	pts       []geom.Point
	corners   []int // indices into pts the solver moves
	straights []int // indices into pts projected back onto the result
	repeated  []bool

	// lower: |cos| below it is a corner close enough to square to move.
	// upper: |cos| above it is a straight run.
	lower, upper float64
	threshold    float64 // radians

	// triangle is the only movable corner of a three-vertex ring, or -1.
	triangle int
}

func newPlan(ring geom.Ring, opts Options) (*plan, error) {
	if !geom.IsClosed(ring) {
		return nil, fmt.Errorf("%w: ring is not closed", ErrPreconditionFailed)
	}
	if len(ring) < 4 {
		return nil, fmt.Errorf("%w: ring has %d points, need at least 4", ErrPreconditionFailed, len(ring))
	}

	thr := geom.Radians(opts.Threshold)
	p := &plan{
		pts:       geom.Vertices(ring),
		lower:     math.Sin(thr),
		upper:     math.Cos(thr),
		threshold: thr,
		triangle:  -1,
	}
	p.repeated = markRepeated(p.pts)

	n := len(p.pts)
	for i, pt := range p.pts {
		a, b := geom.Neighbors(p.pts, i)
		if n > 3 && math.Abs(geom.NormalizedDotProduct(a, b, pt)) > p.upper {
			p.straights = append(p.straights, i)
			continue
		}
		p.corners = append(p.corners, i)
	}
	if len(p.corners) < 3 {
		return nil, fmt.Errorf("%w: only %d corners left after removing straight runs", ErrPreconditionFailed, len(p.corners))
	}

	squarish := false
	bestCos := math.Inf(1)
	cp := p.cornerPoints()
	for k := range cp {
		a, b := geom.Neighbors(cp, k)
		c := math.Abs(geom.NormalizedDotProduct(a, b, cp[k]))
		if c < p.lower {
			squarish = true
			if n == 3 && c < bestCos {
				bestCos = c
				p.triangle = k
			}
		}
	}
	if !squarish {
		return nil, fmt.Errorf("%w: no corner within %.1f° of square", ErrPreconditionFailed, opts.Threshold)
	}
	return p, nil
}

func (p *plan) cornerPoints() []geom.Point {
	out := make([]geom.Point, len(p.corners))
	for k, idx := range p.corners {
		out[k] = p.pts[idx]
	}
	return out
}

// motion is the displacement of corner k: along the corner bisector,
// proportional to the cosine of the corner and to the shorter adjacent edge.
func (p *plan) motion(work []geom.Point, k int) geom.Point {
	if p.repeated[p.corners[k]] || (p.triangle >= 0 && k != p.triangle) {
		return geom.Point{}
	}

	a, b := geom.Neighbors(work, k)
	pv := geom.Sub(a, work[k])
	qv := geom.Sub(b, work[k])
	scale := 2 * math.Min(geom.Length(pv), geom.Length(qv))
	pv = geom.Normalize(pv)
	qv = geom.Normalize(qv)

	dotp := geom.Dot(pv, qv)
	if math.Abs(dotp) >= p.lower {
		return geom.Point{}
	}
	return geom.Scale(geom.Normalize(geom.Add(pv, qv)), damping*dotp*scale)
}

// score is a measured corner state. max is the largest corner offset over
// every corner; energy sums the squared offsets of the corners the solver
// moves. A triangle is scored on its single movable corner.
type score struct {
	max, energy float64
}

// improves reports whether s is a step forward from cur: the worst corner
// does not get worse and the movable corners get closer to square.
func (s score) improves(cur score) bool {
	return s.max <= cur.max && s.energy < cur.energy
}

func (p *plan) measure(work []geom.Point) score {
	if p.triangle >= 0 {
		a, b := geom.Neighbors(work, p.triangle)
		o := geom.CornerOffset(a, work[p.triangle], b)
		return score{max: o, energy: o * o}
	}
	var s score
	for k := range work {
		a, b := geom.Neighbors(work, k)
		o := geom.CornerOffset(a, work[k], b)
		s.max = math.Max(s.max, o)
		if o < p.threshold {
			s.energy += o * o
		}
	}
	return s
}

// assemble places the squared corners back among the original vertices and
// projects every straight-run vertex onto the nearest edge of the new shape.
func (p *plan) assemble(corners []geom.Point) []geom.Point {
	out := clonePoints(p.pts)
	for k, idx := range p.corners {
		out[idx] = corners[k]
	}
	path := append(clonePoints(corners), corners[0])
	for _, idx := range p.straights {
		if p.repeated[idx] {
			continue
		}
		if target, ok := geom.ProjectOntoPath(p.pts[idx], path); ok {
			out[idx] = target
		}
	}
	return out
}

// reanchor maps out onto the input's centroid and squared perimeter with a
// uniform similarity, which leaves every angle unchanged.
func (p *plan) reanchor(out []geom.Point) []geom.Point {
	c0, c1 := geom.Centroid(p.pts), geom.Centroid(out)
	l0, l1 := geom.SquaredPerimeter(p.pts), geom.SquaredPerimeter(out)
	s := 1.0
	if l1 > 0 {
		s = math.Sqrt(l0 / l1)
	}
	for i, pt := range out {
		out[i] = geom.Add(c0, geom.Scale(geom.Sub(pt, c1), s))
	}
	return out
}

// markRepeated flags vertices that occur more than once; moving one copy
// would tear the ring apart where it touches itself.
func markRepeated(pts []geom.Point) []bool {
	count := make(map[geom.Point]int, len(pts))
	for _, pt := range pts {
		count[pt]++
	}
	out := make([]bool, len(pts))
	for i, pt := range pts {
		out[i] = count[pt] > 1
	}
	return out
}

func clonePoints(pts []geom.Point) []geom.Point {
	out := make([]geom.Point, len(pts))
	copy(out, pts)
	return out
}
