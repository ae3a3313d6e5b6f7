package ranking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/store"
)

func yearPtr(v int) *int { return &v }

func candidate(id string, raw float64, year *int) store.ScoredSource {
	return store.ScoredSource{
		Source: model.Source{ID: id, Title: "mineral sands", Year: year},
		Raw:    raw,
	}
}

func TestRank_ScoresBoundedAndOrdered(t *testing.T) {
	t.Parallel()

	// Lower raw means a better full-text match.
	candidates := []store.ScoredSource{
		candidate("trove:worst", -0.1, nil),
		candidate("trove:best", -2.0, nil),
		candidate("trove:mid", -1.0, nil),
	}

	res := Rank(candidates, []string{"mineral", "sands"}, DateWindow{}, "", DefaultOptions())
	require.Len(t, res.Used, 3)
	assert.Zero(t, res.DroppedOffTopic)

	assert.Equal(t, "trove:best", res.Used[0].Source.ID)
	assert.Equal(t, "trove:mid", res.Used[1].Source.ID)
	assert.Equal(t, "trove:worst", res.Used[2].Source.ID)

	for _, r := range res.Used {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	// The middle candidate lands strictly between the extremes rather than
	// collapsing onto either end.
	assert.Greater(t, res.Used[0].Score, res.Used[1].Score)
	assert.Greater(t, res.Used[1].Score, res.Used[2].Score)
}

func TestRank_SingleCandidateGetsFullTextScore(t *testing.T) {
	t.Parallel()

	res := Rank(
		[]store.ScoredSource{candidate("trove:only", -0.3, nil)},
		[]string{"mineral", "sands"}, DateWindow{}, "", DefaultOptions(),
	)
	require.Len(t, res.Used, 1)
	// Full text weight, full title overlap, no window, no region requested.
	assert.InDelta(t, 0.55+0.20+0.15, res.Used[0].Score, 1e-9)
}

func TestRank_TieBreakYearDescThenID(t *testing.T) {
	t.Parallel()

	// Identical raw ranks and titles produce identical scores.
	candidates := []store.ScoredSource{
		candidate("trove:b", -1.0, yearPtr(1930)),
		candidate("trove:a", -1.0, yearPtr(1950)),
		candidate("trove:c", -1.0, yearPtr(1950)),
	}

	res := Rank(candidates, []string{"mineral"}, DateWindow{}, "", DefaultOptions())
	require.Len(t, res.Used, 3)
	assert.Equal(t, "trove:a", res.Used[0].Source.ID)
	assert.Equal(t, "trove:c", res.Used[1].Source.ID)
	assert.Equal(t, "trove:b", res.Used[2].Source.ID)
}

func TestRank_DropsBelowMinRelevance(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MinRelevance = 0.5

	// No title overlap and a requested far-off window keep the worst
	// candidate's bonuses near zero.
	from, to := 1900, 1910
	candidates := []store.ScoredSource{
		{Source: model.Source{ID: "trove:hit", Title: "mineral sands", Year: yearPtr(1905)}, Raw: -2.0},
		{Source: model.Source{ID: "trove:miss", Title: "unrelated", Year: yearPtr(1990)}, Raw: -0.1},
	}

	res := Rank(candidates, []string{"mineral", "sands"}, DateWindow{From: &from, To: &to}, "", opts)
	require.Len(t, res.Used, 1)
	assert.Equal(t, "trove:hit", res.Used[0].Source.ID)
	assert.Equal(t, 1, res.DroppedOffTopic)
}

func TestRank_MaxUsedCap(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MaxUsed = 2
	opts.MinRelevance = 0

	candidates := make([]store.ScoredSource, 5)
	for i := range candidates {
		candidates[i] = candidate(fmt.Sprintf("trove:%d", i), -float64(5-i), nil)
	}

	res := Rank(candidates, []string{"mineral"}, DateWindow{}, "", opts)
	assert.Len(t, res.Used, 2)
	assert.Equal(t, 3, res.DroppedOffTopic)
	// Best raw ranks survive the cap.
	assert.Equal(t, "trove:0", res.Used[0].Source.ID)
	assert.Equal(t, "trove:1", res.Used[1].Source.ID)
}

func TestRank_Empty(t *testing.T) {
	t.Parallel()

	res := Rank(nil, []string{"mineral"}, DateWindow{}, "", DefaultOptions())
	assert.Empty(t, res.Used)
	assert.Zero(t, res.DroppedOffTopic)
}

func TestTitleOverlap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, titleOverlap("MINERAL SANDS AT ILUKA", []string{"mineral", "sands"}))
	assert.Equal(t, 0.5, titleOverlap("Mineral prices", []string{"mineral", "sands"}))
	assert.Equal(t, 0.0, titleOverlap("Shipping news", []string{"mineral", "sands"}))
	assert.Equal(t, 0.0, titleOverlap("anything", nil))
}

func TestDateProximity(t *testing.T) {
	t.Parallel()

	from, to := 1940, 1950
	window := DateWindow{From: &from, To: &to}

	assert.Equal(t, 1.0, dateProximity(yearPtr(1945), window))
	assert.Equal(t, 1.0, dateProximity(yearPtr(1940), window))
	// Five years outside the window halves the score.
	assert.InDelta(t, 0.5, dateProximity(yearPtr(1955), window), 1e-9)
	assert.InDelta(t, 0.5, dateProximity(yearPtr(1935), window), 1e-9)
	// Unknown year is neutral when a window was requested.
	assert.Equal(t, 0.5, dateProximity(nil, window))
	// No window requested means dates cannot penalize.
	assert.Equal(t, 1.0, dateProximity(nil, DateWindow{}))
	assert.Equal(t, 1.0, dateProximity(yearPtr(1800), DateWindow{}))
}

func TestRegionBonus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, regionBonus([]string{"WA"}, "WA"))
	assert.Equal(t, 1.0, regionBonus([]string{"WA"}, "Western Australia"))
	assert.Equal(t, 0.0, regionBonus([]string{"NSW"}, "WA"))
	assert.Equal(t, 0.0, regionBonus(nil, "WA"))
	assert.Equal(t, 0.0, regionBonus([]string{"WA"}, ""))
}
