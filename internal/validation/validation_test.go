package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/unsquare/internal/config"
	"github.com/banshee-data/unsquare/internal/eligibility"
	"github.com/banshee-data/unsquare/internal/fix"
	"github.com/banshee-data/unsquare/internal/geom"
	"github.com/banshee-data/unsquare/internal/squareness"
	"github.com/banshee-data/unsquare/internal/testutil"
)

type noNeighbors struct{}

func (noNeighbors) RingsSharing(string) ([]eligibility.Neighbor, error) { return nil, nil }

func ectx() eligibility.Context {
	return eligibility.Context{
		Loaded:    func(string) (bool, error) { return true, nil },
		Neighbors: noNeighbors{},
	}
}

func building(id string, r geom.Ring) eligibility.Candidate {
	keys := make([]string, len(r))
	for i := range r {
		keys[i] = fmt.Sprintf("%s/n%d", id, i%(len(r)-1))
	}
	return eligibility.Candidate{
		ID:   id,
		Tags: map[string]string{"building": "yes"},
		Ring: r,
		Keys: keys,
	}
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(nil)
	require.NoError(t, err)
	return v
}

func TestValidate_SquareBuilding(t *testing.T) {
	v := newValidator(t)
	assert.Nil(t, v.Validate(building("w1", testutil.Square()), ectx()))
}

func TestValidate_EightDegreesIsManual(t *testing.T) {
	v := newValidator(t)
	issue := v.Validate(building("w1", testutil.SkewedSquare(8)), ectx())
	require.NotNil(t, issue)

	assert.Equal(t, IssueType, issue.Type)
	assert.Equal(t, "warning", issue.Severity)
	assert.Equal(t, []string{"w1"}, issue.EntityIDs)
	assert.Equal(t, "false", issue.Hash)
	_, err := uuid.Parse(issue.ID)
	assert.NoError(t, err)

	assert.True(t, issue.Verdict.IsUnsquare)
	assert.InDelta(t, 8, issue.Verdict.MaxOffsetDegrees, 1e-6)
	assert.False(t, issue.Offer.AutoApplicable)
	require.Len(t, issue.Offer.Fixes, 2)
	assert.IsType(t, fix.ApplyOrthogonalizeFix{}, issue.Offer.Fixes[0])
	assert.IsType(t, fix.TagAsNonSquareFix{}, issue.Offer.Fixes[1])
}

func TestValidate_FourDegreesIsAutomatic(t *testing.T) {
	v := newValidator(t)
	issue := v.Validate(building("w1", testutil.SkewedSquare(4)), ectx())
	require.NotNil(t, issue)

	assert.Equal(t, "true", issue.Hash)
	require.True(t, issue.Offer.AutoApplicable)
	require.NotNil(t, issue.Offer.Proposed)

	after := squareness.Analyze(issue.Offer.Proposed.Ring, squareness.DefaultEpsilon, squareness.DefaultDegreeThreshold)
	assert.Less(t, after.MaxOffsetDegrees, 1.0)
}

func TestValidate_FarCornerIsTagOnly(t *testing.T) {
	v := newValidator(t)
	trapezoid := geom.Ring{{0, 0}, {20, 0}, {20, 10}, {5, 10}, {0, 0}}
	issue := v.Validate(building("w2", trapezoid), ectx())
	require.NotNil(t, issue)

	assert.InDelta(t, 26.565, issue.Verdict.MaxOffsetDegrees, 1e-3)
	assert.Equal(t, "false", issue.Hash)
	require.Len(t, issue.Offer.Fixes, 1)
	assert.IsType(t, fix.TagAsNonSquareFix{}, issue.Offer.Fixes[0])
}

func TestValidate_NodeCountGate(t *testing.T) {
	v := newValidator(t)

	// 10 distinct vertices plus the closing point is analysed; every decagon
	// corner is 36° off square.
	ten := v.Validate(building("w10", testutil.RegularPolygon(10, 20)), ectx())
	assert.NotNil(t, ten)

	// 12 distinct vertices are skipped whatever the shape.
	twelve := v.Validate(building("w12", testutil.RegularPolygon(12, 20)), ectx())
	assert.Nil(t, twelve)

	zigzag := testutil.RegularPolygon(12, 20)
	zigzag = testutil.Jitter(zigzag, []geom.Point{{1, 1}, {-2, 0}, {0, 3}})
	assert.Nil(t, v.Validate(building("w12b", zigzag), ectx()))
}

func TestValidate_IneligibleIsSkipped(t *testing.T) {
	v := newValidator(t)
	c := building("w1", testutil.SkewedSquare(8))
	c.Tags["nonsquare"] = "yes"
	assert.Nil(t, v.Validate(c, ectx()))

	c = building("w1", testutil.SkewedSquare(8))
	failing := eligibility.Context{
		Loaded:    func(string) (bool, error) { return false, errors.New("offline") },
		Neighbors: noNeighbors{},
	}
	assert.Nil(t, v.Validate(c, failing))
}

func TestNew_RejectsInvalidConfiguration(t *testing.T) {
	auto, detect := 10.0, 8.0
	_, err := New(&config.SquareConfig{
		AutoFixDegreeThreshold:   &auto,
		DetectionDegreeThreshold: &detect,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfiguration))
}

func TestNew_UsesConfiguredThresholds(t *testing.T) {
	auto := 9.0
	v, err := New(&config.SquareConfig{AutoFixDegreeThreshold: &auto})
	require.NoError(t, err)
	assert.Equal(t, 9.0, v.Policy().AutoFixDegreeThreshold)

	issue := v.Validate(building("w1", testutil.SkewedSquare(8)), ectx())
	require.NotNil(t, issue)
	assert.True(t, issue.Offer.AutoApplicable)
}

func TestValidateAll_KeepsOrder(t *testing.T) {
	v := newValidator(t)
	candidates := []eligibility.Candidate{
		building("square", testutil.Square()),
		building("eight", testutil.SkewedSquare(8)),
		building("big", testutil.RegularPolygon(12, 20)),
		building("four", testutil.SkewedSquare(4)),
	}

	issues, err := v.ValidateAll(context.Background(), candidates, ectx())
	require.NoError(t, err)
	require.Len(t, issues, len(candidates))

	assert.Nil(t, issues[0])
	require.NotNil(t, issues[1])
	assert.Equal(t, []string{"eight"}, issues[1].EntityIDs)
	assert.Nil(t, issues[2])
	require.NotNil(t, issues[3])
	assert.Equal(t, []string{"four"}, issues[3].EntityIDs)
	assert.NotEqual(t, issues[1].ID, issues[3].ID)
}

func TestValidateAll_Cancelled(t *testing.T) {
	v := newValidator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candidates := []eligibility.Candidate{building("eight", testutil.SkewedSquare(8))}
	issues, err := v.ValidateAll(ctx, candidates, ectx())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, issues, 1)
	assert.Nil(t, issues[0])
}
