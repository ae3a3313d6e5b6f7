package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRecord_NewspaperShape(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"id":          "18341291",
		"heading":     "MINERAL SANDS AT ILUKA",
		"date":        "1956-08-14",
		"troveUrl":    "https://trove.example/ndp/del/article/18341291",
		"articleText": "The mineral sands industry at Iluka continues to expand.",
		"state":       "Western Australia",
	}

	src := NormalizeRecord(rec)

	assert.Equal(t, "trove:18341291", src.ID)
	assert.Equal(t, "MINERAL SANDS AT ILUKA", src.Title)
	assert.Equal(t, "https://trove.example/ndp/del/article/18341291", src.URL)
	require.NotNil(t, src.Year)
	assert.Equal(t, 1956, *src.Year)
	assert.Contains(t, src.Text, "mineral sands industry")
	assert.Contains(t, src.RegionHints, "WA")
}

func TestNormalizeRecord_WorkShape(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"title":  "Annual report of the mines department",
		"issued": "1947",
		"work": map[string]any{
			"id": "work-991",
		},
		"abstract": "Production figures for the year.",
	}

	src := NormalizeRecord(rec)

	assert.Equal(t, "trove:work-991", src.ID)
	assert.Equal(t, "Annual report of the mines department", src.Title)
	require.NotNil(t, src.Year)
	assert.Equal(t, 1947, *src.Year)
	assert.Equal(t, "Production figures for the year.", src.Text)
}

func TestNormalizeRecord_MissingFields(t *testing.T) {
	t.Parallel()

	src := NormalizeRecord(map[string]any{"id": "x1"})

	assert.Equal(t, "trove:x1", src.ID)
	assert.Equal(t, "Untitled", src.Title)
	assert.Nil(t, src.Year)
	assert.Empty(t, src.Text)
	assert.Empty(t, src.URL)
}

func TestNormalizeRecord_LongestTextWins(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"id":          "x2",
		"title":       "Short",
		"snippet":     "brief",
		"articleText": "a considerably longer body of article text",
	}

	src := NormalizeRecord(rec)
	assert.Equal(t, "a considerably longer body of article text", src.Text)
}

func TestNormalizeRecord_RegionFromTitle(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"id":    "x3",
		"title": "The Sydney Morning Herald (NSW) shipping news",
	}

	src := NormalizeRecord(rec)
	assert.Contains(t, src.RegionHints, "NSW")
}

func TestNormalizeRecord_NumericYearField(t *testing.T) {
	t.Parallel()

	rec := map[string]any{"id": "x4", "title": "t", "year": float64(1923)}

	src := NormalizeRecord(rec)
	require.NotNil(t, src.Year)
	assert.Equal(t, 1923, *src.Year)
}

func TestNormalizeRecord_IdentifierList(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"identifier": []any{"rec-77", "rec-78"},
		"name":       "Gazette notice",
	}

	src := NormalizeRecord(rec)
	assert.Equal(t, "trove:rec-77", src.ID)
	assert.Equal(t, "Gazette notice", src.Title)
}

func TestRegionMatches(t *testing.T) {
	t.Parallel()

	hints := []string{"WA", "SA"}

	assert.True(t, RegionMatches(hints, "WA"))
	assert.True(t, RegionMatches(hints, "wa"))
	assert.True(t, RegionMatches(hints, "Western Australia"))
	assert.False(t, RegionMatches(hints, "NSW"))
	assert.False(t, RegionMatches(hints, ""))
	assert.False(t, RegionMatches(nil, "WA"))
}
