// Package eligibility runs the cheap structural checks that decide whether a
// building ring is analysed at all.
//
// A ring that fails any check is skipped without raising an issue. Caller
// supplied predicates that fail, panic or are missing make the ring
// ineligible; they never abort a batch.
package eligibility

import (
	"fmt"

	"github.com/banshee-data/unsquare/internal/geom"
)

// DefaultNodeThreshold is the largest number of distinct vertices analysed.
// Rings with more are assumed to be detail-mapped by hand.
const DefaultNodeThreshold = 10

// Candidate is a building ring offered for analysis.
type Candidate struct {
	ID   string
	Tags map[string]string
	// Ring is the projected ring, closing point included.
	Ring geom.Ring
	// Keys identifies the source vertex behind every point of Ring.
	Keys []string
}

// Neighbor is another ring that shares a vertex with the candidate.
type Neighbor struct {
	ID string
	// Building is set when the ring is itself a squarable building.
	Building bool
	// BuildingRelation is set when the ring belongs to a multipolygon
	// relation tagged as a building.
	BuildingRelation bool
}

// Squarable reports whether the neighbour could raise its own squareness issue.
func (n Neighbor) Squarable() bool {
	return n.Building || n.BuildingRelation
}

// LoadedFunc reports whether the data behind a vertex is fully loaded.
type LoadedFunc func(key string) (bool, error)

// NeighborLookup finds the other rings that use a vertex.
type NeighborLookup interface {
	RingsSharing(key string) ([]Neighbor, error)
}

// Context carries the caller supplied collaborators.
type Context struct {
	Loaded    LoadedFunc
	Neighbors NeighborLookup
}

// Reason explains the outcome of Check.
type Reason int

const (
	Eligible Reason = iota
	NotBuilding
	TaggedNonSquare
	MalformedKeys
	NotClosed
	TooManyNodes
	DataNotLoaded
	ConnectedBuilding
)

var reasonNames = [...]string{
	Eligible:          "eligible",
	NotBuilding:       "not a building",
	TaggedNonSquare:   "tagged nonsquare",
	MalformedKeys:     "vertex keys do not match ring",
	NotClosed:         "ring not closed",
	TooManyNodes:      "too many nodes",
	DataNotLoaded:     "data not fully loaded",
	ConnectedBuilding: "shares a vertex with another building",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("Reason(%d)", int(r))
	}
	return reasonNames[r]
}

// IsBuilding reports whether tags describe a building.
func IsBuilding(tags map[string]string) bool {
	v, ok := tags["building"]
	return ok && v != "" && v != "no"
}

// Filter holds the eligibility thresholds.
type Filter struct {
	NodeThreshold int
}

// NewFilter returns a Filter with the given node threshold, or the default
// when nodeThreshold is not positive.
func NewFilter(nodeThreshold int) Filter {
	if nodeThreshold <= 0 {
		nodeThreshold = DefaultNodeThreshold
	}
	return Filter{NodeThreshold: nodeThreshold}
}

// IsEligible reports whether c should be analysed.
func (f Filter) IsEligible(c Candidate, ctx Context) bool {
	return f.Check(c, ctx) == Eligible
}

// Check runs the checks in order and returns the first failure, or Eligible.
func (f Filter) Check(c Candidate, ctx Context) Reason {
	if !IsBuilding(c.Tags) {
		return NotBuilding
	}
	if c.Tags["nonsquare"] == "yes" {
		return TaggedNonSquare
	}
	if len(c.Keys) != len(c.Ring) {
		return MalformedKeys
	}
	if !geom.IsClosed(c.Ring) {
		return NotClosed
	}
	// +1 because the closing vertex appears twice.
	if len(c.Ring) > f.NodeThreshold+1 {
		return TooManyNodes
	}
	for _, key := range c.Keys {
		if !loaded(ctx.Loaded, key) {
			return DataNotLoaded
		}
	}
	for _, key := range c.Keys {
		if sharesSquarable(ctx.Neighbors, c.ID, key) {
			return ConnectedBuilding
		}
	}
	return Eligible
}

func loaded(fn LoadedFunc, key string) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	ok, err := fn(key)
	return err == nil && ok
}

// sharesSquarable fails closed: a missing or failing lookup counts as a
// squarable neighbour.
func sharesSquarable(lookup NeighborLookup, self, key string) (shared bool) {
	if lookup == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			shared = true
		}
	}()
	rings, err := lookup.RingsSharing(key)
	if err != nil {
		return true
	}
	for _, n := range rings {
		if n.ID != self && n.Squarable() {
			return true
		}
	}
	return false
}
