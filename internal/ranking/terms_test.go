package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "lowercases and strips punctuation",
			query: "Iluka, Mineral-Sands!",
			want:  []string{"iluka", "mineral", "sands"},
		},
		{
			name:  "drops stopwords",
			query: "the gold rush at Kalgoorlie",
			want:  []string{"gold", "rush", "kalgoorlie"},
		},
		{
			name:  "dedupes preserving first occurrence order",
			query: "wool wool prices wool",
			want:  []string{"wool", "prices"},
		},
		{
			name:  "folds diacritics",
			query: "café propriétor",
			want:  []string{"cafe", "proprietor"},
		},
		{
			name:  "drops single-rune tokens",
			query: "a b gold",
			want:  []string{"gold"},
		},
		{
			name:  "keeps digits",
			query: "census 1911 returns",
			want:  []string{"census", "1911", "returns"},
		},
		{
			name:  "empty query",
			query: "",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Terms(tt.query))
		})
	}
}
