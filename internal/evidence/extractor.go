// Package evidence extracts short verbatim quotes from source text. Every
// returned quote is an exact contiguous substring of the input, which is
// what makes report citations verifiable.
package evidence

import (
	"sort"
	"strings"
)

const (
	// DefaultMaxQuotes is how many quotes are kept per source.
	DefaultMaxQuotes = 2
	// DefaultMaxLen caps quote length in bytes. Units longer than this are
	// discarded rather than truncated mid-word.
	DefaultMaxLen = 240
)

type unit struct {
	text  string
	pos   int
	score float64
}

// BestQuotes splits text into sentence-like units, scores each by the
// fraction of query terms it contains, and returns the top maxQuotes units
// of at most maxLen bytes. Ties break by earliest position. Returns an
// empty slice (not an error) when nothing scores above zero.
func BestQuotes(text string, terms []string, maxQuotes, maxLen int) []string {
	if maxQuotes <= 0 {
		maxQuotes = DefaultMaxQuotes
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if text == "" || len(terms) == 0 {
		return nil
	}

	var units []unit
	for _, u := range splitUnits(text) {
		if len(u.text) > maxLen {
			continue
		}
		u.score = termFraction(u.text, terms)
		if u.score > 0 {
			units = append(units, u)
		}
	}

	sort.SliceStable(units, func(i, j int) bool {
		if units[i].score != units[j].score {
			return units[i].score > units[j].score
		}
		return units[i].pos < units[j].pos
	})

	if len(units) > maxQuotes {
		units = units[:maxQuotes]
	}
	quotes := make([]string, len(units))
	for i, u := range units {
		quotes[i] = u.text
	}
	return quotes
}

// splitUnits cuts text on sentence-terminal punctuation, keeping each unit a
// verbatim substring. Edge whitespace is trimmed, which preserves the
// substring property.
func splitUnits(text string) []unit {
	var units []unit
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			appendUnit(&units, text, start, i+1)
			start = i + 1
		case '\n':
			// OCR'd columns often lack terminal punctuation; a newline also
			// ends a unit.
			appendUnit(&units, text, start, i)
			start = i + 1
		}
	}
	appendUnit(&units, text, start, len(text))
	return units
}

func appendUnit(units *[]unit, text string, start, end int) {
	if start >= end {
		return
	}
	raw := text[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}
	pos := start + strings.Index(raw, trimmed)
	*units = append(*units, unit{text: trimmed, pos: pos})
}

// termFraction is the fraction of terms present in the unit,
// case-insensitive.
func termFraction(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
