// Package validation wires the eligibility filter, the squareness analyzer
// and the fix policy into one pass per building ring and batches that pass
// over many rings.
package validation

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/unsquare/internal/config"
	"github.com/banshee-data/unsquare/internal/eligibility"
	"github.com/banshee-data/unsquare/internal/fix"
	"github.com/banshee-data/unsquare/internal/monitoring"
	"github.com/banshee-data/unsquare/internal/ortho"
	"github.com/banshee-data/unsquare/internal/squareness"
)

// IssueType identifies squareness issues.
const IssueType = "unsquare_way"

// Issue is a flagged building ring and the fixes offered for it.
type Issue struct {
	ID        string
	Type      string
	Severity  string
	EntityIDs []string
	// Hash changes when auto-fixability changes, so a ring that becomes
	// auto-fixable is reported as a new issue.
	Hash    string
	Verdict squareness.Verdict
	Offer   fix.Offer
}

// Validator checks building rings for squareness.
type Validator struct {
	filter          eligibility.Filter
	epsilon         float64
	degreeThreshold float64
	policy          fix.Policy
	workers         int
}

// New builds a Validator from cfg. A nil cfg uses the defaults. The
// configuration is validated here, not during analysis.
func New(cfg *config.SquareConfig) (*Validator, error) {
	if cfg == nil {
		cfg = config.EmptySquareConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Validator{
		filter:          eligibility.NewFilter(cfg.GetNodeThreshold()),
		epsilon:         cfg.GetDetectionEpsilon(),
		degreeThreshold: cfg.GetDetectionDegreeThreshold(),
		policy: fix.Policy{
			AutoFixDegreeThreshold: cfg.GetAutoFixDegreeThreshold(),
			Correction: ortho.Options{
				Tolerance:     cfg.GetCorrectionTolerance(),
				MaxIterations: cfg.GetMaxIterations(),
				Threshold:     cfg.GetCorrectionDegreeThreshold(),
			},
		},
		workers: cfg.GetWorkers(),
	}, nil
}

// Policy returns the fix policy in use.
func (v *Validator) Policy() fix.Policy {
	return v.policy
}

// Validate returns the issue for c, or nil when c is skipped or square.
func (v *Validator) Validate(c eligibility.Candidate, ectx eligibility.Context) *Issue {
	if reason := v.filter.Check(c, ectx); reason != eligibility.Eligible {
		monitoring.Debugf("skip %s: %s", c.ID, reason)
		return nil
	}

	verdict := squareness.Analyze(c.Ring, v.epsilon, v.degreeThreshold)
	if !verdict.IsUnsquare {
		return nil
	}

	offer := v.policy.Decide(c.ID, c.Ring, verdict)
	monitoring.Debugf("flag %s: max offset %.2f°, deviation %.4f, auto=%v",
		c.ID, verdict.MaxOffsetDegrees, verdict.Deviation, offer.AutoApplicable)

	return &Issue{
		ID:        uuid.NewString(),
		Type:      IssueType,
		Severity:  "warning",
		EntityIDs: []string{c.ID},
		Hash:      strconv.FormatBool(offer.AutoApplicable),
		Verdict:   verdict,
		Offer:     offer,
	}
}

// ValidateAll validates every candidate on a bounded pool of workers. The
// returned slice is in candidate order, nil where no issue was raised.
// Cancellation is checked between rings; on cancel the context error is
// returned alongside the issues found so far.
func (v *Validator) ValidateAll(ctx context.Context, candidates []eligibility.Candidate, ectx eligibility.Context) ([]*Issue, error) {
	issues := make([]*Issue, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range candidates {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			issues[i] = v.Validate(candidates[i], ectx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return issues, err
	}
	return issues, ctx.Err()
}
