package archive

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/DieRekT/trove-research/internal/model"
)

// auStates maps region abbreviations to full names. Both directions are
// matched when deriving region hints.
var auStates = map[string]string{
	"NSW": "New South Wales",
	"VIC": "Victoria",
	"QLD": "Queensland",
	"WA":  "Western Australia",
	"SA":  "South Australia",
	"TAS": "Tasmania",
	"NT":  "Northern Territory",
	"ACT": "Australian Capital Territory",
}

var yearPattern = regexp.MustCompile(`\b(1[6-9]\d{2}|20\d{2})\b`)

// NormalizeRecord maps one arbitrarily-shaped upstream record into a Source
// by best-effort field lookup. Missing optional fields default rather than
// error; the JobID is assigned by the caller at upsert time.
func NormalizeRecord(rec map[string]any) model.Source {
	src := model.Source{
		ID:    model.SourceIDPrefix + recordID(rec),
		Title: firstString(rec, "title", "heading", "name"),
		URL:   firstString(rec, "troveUrl", "url", "identifier"),
		Text:  longestString(rec, "articleText", "fulltext", "text", "snippet", "abstract", "description"),
	}
	if src.Title == "" {
		src.Title = "Untitled"
	}
	if y := recordYear(rec); y != nil {
		src.Year = y
	}
	src.RegionHints = regionHints(rec, src.Title)
	return src
}

// recordID finds a stable identifier, falling back to a hash-free composite
// of title and date only when the record carries no id at all.
func recordID(rec map[string]any) string {
	if id := firstString(rec, "id", "identifier", "workId"); id != "" {
		return id
	}
	if work, ok := rec["work"].(map[string]any); ok {
		if id := firstString(work, "id", "identifier"); id != "" {
			return id
		}
	}
	return strings.ToLower(strings.ReplaceAll(
		firstString(rec, "title", "heading", "name")+"-"+firstString(rec, "date", "issued"), " ", "-"))
}

// recordYear parses a best-effort year from the record's date-ish fields.
func recordYear(rec map[string]any) *int {
	for _, key := range []string{"date", "issueDate", "issued", "year"} {
		v, ok := rec[key]
		if !ok {
			continue
		}
		switch d := v.(type) {
		case float64:
			y := int(d)
			if y >= 1600 && y <= 2100 {
				return &y
			}
		case string:
			if m := yearPattern.FindString(d); m != "" {
				y, err := strconv.Atoi(m)
				if err == nil {
					return &y
				}
			}
		}
	}
	return nil
}

// regionHints derives region tags from explicit state fields and from state
// names or abbreviations appearing in the title.
func regionHints(rec map[string]any, title string) []string {
	seen := make(map[string]bool)
	var hints []string
	add := func(abbr string) {
		if abbr != "" && !seen[abbr] {
			seen[abbr] = true
			hints = append(hints, abbr)
		}
	}

	if state := firstString(rec, "state", "region"); state != "" {
		add(canonicalRegion(state))
	}

	upperTitle := strings.ToUpper(title)
	for abbr, full := range auStates {
		if containsWord(upperTitle, abbr) || strings.Contains(upperTitle, strings.ToUpper(full)) {
			add(abbr)
		}
	}
	return hints
}

// canonicalRegion maps a state name or abbreviation to its abbreviation.
// Unrecognized values pass through uppercased so non-AU archives still work.
func canonicalRegion(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	if _, ok := auStates[up]; ok {
		return up
	}
	for abbr, full := range auStates {
		if strings.EqualFold(s, full) {
			return abbr
		}
	}
	return up
}

// RegionMatches reports whether hint (abbreviation or full name) matches any
// derived region hint.
func RegionMatches(hints []string, hint string) bool {
	if hint == "" {
		return false
	}
	want := canonicalRegion(hint)
	for _, h := range hints {
		if h == want {
			return true
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlnum(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// firstString returns the first non-empty string value among keys.
func firstString(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := rec[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case []any:
			// Some shapes carry identifier lists; take the first string.
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

// longestString returns the longest non-empty string among keys, since the
// fullest text variant is the most useful for indexing and quoting.
func longestString(rec map[string]any, keys ...string) string {
	best := ""
	for _, key := range keys {
		if v, ok := rec[key].(string); ok {
			v = strings.TrimSpace(v)
			if len(v) > len(best) {
				best = v
			}
		}
	}
	return best
}
