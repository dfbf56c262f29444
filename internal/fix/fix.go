// Package fix turns a squareness verdict into a fix offer.
//
// Fixes are plain data. A caller executes one by switching on its concrete
// type; nothing in this package edits state.
package fix

import (
	"github.com/banshee-data/unsquare/internal/geom"
	"github.com/banshee-data/unsquare/internal/ortho"
	"github.com/banshee-data/unsquare/internal/squareness"
)

// DefaultAutoFixDegreeThreshold is the strict auto-fix cutoff. Only rings
// whose worst corner is below it are corrected without confirmation.
const DefaultAutoFixDegreeThreshold = 6.5

// NonSquareTag and NonSquareValue mark a building as intentionally not square.
const (
	NonSquareTag   = "nonsquare"
	NonSquareValue = "yes"
)

// Fix is one of ApplyOrthogonalizeFix or TagAsNonSquareFix.
type Fix interface {
	isFix()
}

// ApplyOrthogonalizeFix squares the ring of EntityID. Precomputed is set for
// automatic fixes; manual fixes compute the correction on demand via Resolve.
type ApplyOrthogonalizeFix struct {
	EntityID    string
	Options     ortho.Options
	Precomputed *ortho.Result
}

// TagAsNonSquareFix records that EntityID is meant to be non-square.
type TagAsNonSquareFix struct {
	EntityID string
	Key      string
	Value    string
}

func (ApplyOrthogonalizeFix) isFix() {}
func (TagAsNonSquareFix) isFix()     {}

// Offer is the decision handed to the issue-reporting layer.
type Offer struct {
	AutoApplicable bool
	Proposed       *ortho.Result
	Fixes          []Fix
}

// Policy decides between automatic and manual fixes.
type Policy struct {
	AutoFixDegreeThreshold float64
	// Correction are the strict options used to square a ring, not the
	// looser detection thresholds.
	Correction ortho.Options
}

// DefaultPolicy returns the policy with the default cutoff and strict
// correction options.
func DefaultPolicy() Policy {
	return Policy{
		AutoFixDegreeThreshold: DefaultAutoFixDegreeThreshold,
		Correction:             ortho.DefaultOptions(),
	}
}

// Decide builds the offer for a ring the analyzer has judged. Rings that are
// not unsquare get an empty offer. A worst corner strictly below the cutoff
// gets a precomputed, automatic correction; a worst corner at or above it
// only gets a manual one, and only if the solver would accept the ring.
// A ring with any corner beyond the correction threshold cannot be squared,
// so it is only offered the tag. Tagging as non-square is always offered.
func (p Policy) Decide(entityID string, ring geom.Ring, v squareness.Verdict) Offer {
	if !v.IsUnsquare {
		return Offer{}
	}

	var offer Offer
	square := ApplyOrthogonalizeFix{EntityID: entityID, Options: p.Correction}

	squarable := v.MaxOffsetDegrees < p.Correction.WithDefaults().Threshold
	if squarable && v.MaxOffsetDegrees < p.AutoFixDegreeThreshold {
		if res, err := ortho.Orthogonalize(ring, p.Correction); err == nil {
			offer.AutoApplicable = true
			offer.Proposed = &res
			square.Precomputed = &res
		}
	}
	if offer.AutoApplicable || (squarable && ortho.Check(ring, p.Correction) == nil) {
		offer.Fixes = append(offer.Fixes, square)
	}

	offer.Fixes = append(offer.Fixes, TagAsNonSquareFix{
		EntityID: entityID,
		Key:      NonSquareTag,
		Value:    NonSquareValue,
	})
	return offer
}

// Resolve returns the correction for f, computing it if it was not
// precomputed. ring must be the current ring of f.EntityID.
func Resolve(f ApplyOrthogonalizeFix, ring geom.Ring) (ortho.Result, error) {
	if f.Precomputed != nil {
		return *f.Precomputed, nil
	}
	return ortho.Orthogonalize(ring, f.Options)
}
