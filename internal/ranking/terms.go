// Package ranking turns raw full-text ranks into blended [0,1] relevance
// scores. All functions are pure: no network or storage access.
package ranking

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords are dropped from query term sets. Archive OCR text is noisy
// enough without scoring on function words.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"was": true, "were": true, "with": true, "that": true, "this": true,
}

// foldDiacritics strips combining marks so accented OCR forms match plain
// query terms.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Terms extracts the normalized query term set: lowercased, diacritics
// folded, punctuation stripped, stopwords and single-rune tokens dropped.
// Order is preserved and duplicates removed.
func Terms(query string) []string {
	folded, _, err := transform.String(foldDiacritics, query)
	if err != nil {
		folded = query
	}

	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
