package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestQuotes_VerbatimSubstrings(t *testing.T) {
	t.Parallel()

	text := "The mineral sands industry expanded rapidly. Shipping was delayed by weather. " +
		"New mineral leases were granted at Iluka."

	quotes := BestQuotes(text, []string{"mineral", "iluka"}, 2, 240)
	require.NotEmpty(t, quotes)
	for _, q := range quotes {
		assert.True(t, strings.Contains(text, q), "quote must be a verbatim substring: %q", q)
	}
}

func TestBestQuotes_RanksByTermFraction(t *testing.T) {
	t.Parallel()

	text := "Wool prices held steady. Mineral sands were shipped from Iluka. The weather was fine."

	quotes := BestQuotes(text, []string{"mineral", "iluka"}, 1, 240)
	require.Len(t, quotes, 1)
	assert.Equal(t, "Mineral sands were shipped from Iluka.", quotes[0])
}

func TestBestQuotes_TiesBreakByPosition(t *testing.T) {
	t.Parallel()

	text := "Mineral leases granted. Unrelated filler here. Mineral exports rose."

	quotes := BestQuotes(text, []string{"mineral"}, 1, 240)
	require.Len(t, quotes, 1)
	assert.Equal(t, "Mineral leases granted.", quotes[0])
}

func TestBestQuotes_MaxQuotesCap(t *testing.T) {
	t.Parallel()

	text := "Gold found. Gold assayed. Gold shipped. Gold banked."

	quotes := BestQuotes(text, []string{"gold"}, 2, 240)
	assert.Len(t, quotes, 2)
}

func TestBestQuotes_OverLengthUnitDiscarded(t *testing.T) {
	t.Parallel()

	long := "mineral " + strings.Repeat("x", 300) + "."
	text := long + " Mineral sands at Iluka."

	quotes := BestQuotes(text, []string{"mineral"}, 2, 240)
	require.Len(t, quotes, 1)
	assert.Equal(t, "Mineral sands at Iluka.", quotes[0])
	assert.LessOrEqual(t, len(quotes[0]), 240)
}

func TestBestQuotes_NewlineEndsUnit(t *testing.T) {
	t.Parallel()

	text := "MINERAL SANDS DISCOVERY\nThe find was reported yesterday"

	quotes := BestQuotes(text, []string{"mineral"}, 2, 240)
	require.Len(t, quotes, 1)
	assert.Equal(t, "MINERAL SANDS DISCOVERY", quotes[0])
}

func TestBestQuotes_NoMatchReturnsEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, BestQuotes("Nothing relevant here.", []string{"mineral"}, 2, 240))
	assert.Empty(t, BestQuotes("", []string{"mineral"}, 2, 240))
	assert.Empty(t, BestQuotes("Some text.", nil, 2, 240))
}

func TestBestQuotes_DefaultLimits(t *testing.T) {
	t.Parallel()

	text := "Gold one. Gold two. Gold three."

	quotes := BestQuotes(text, []string{"gold"}, 0, 0)
	assert.Len(t, quotes, DefaultMaxQuotes)
}
