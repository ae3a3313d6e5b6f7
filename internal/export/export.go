// Package export renders reports for the presentation layer: markdown for
// humans, JSONL evidence records for tooling, YAML for config-driven
// consumers.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/DieRekT/trove-research/internal/model"
)

// Markdown renders a report as a markdown document.
func Markdown(r *model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Report: %s\n\n", r.Query)
	b.WriteString("## Executive Summary\n\n")
	b.WriteString(r.ExecutiveSummary)
	b.WriteString("\n\n")

	if len(r.KeyFindings) > 0 {
		b.WriteString("## Key Findings\n\n")
		for i, f := range r.KeyFindings {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, f.Title)
			fmt.Fprintf(&b, "%s\n\n", f.Insight)
			for _, e := range f.Evidence {
				fmt.Fprintf(&b, "> %s\n\n", e)
			}
			fmt.Fprintf(&b, "*Citations: %s — confidence %.2f*\n\n",
				strings.Join(f.Citations, ", "), f.Confidence)
		}
	}

	if len(r.Timeline) > 0 {
		b.WriteString("## Timeline\n\n")
		for _, t := range r.Timeline {
			fmt.Fprintf(&b, "- **%s** — %s [%s]\n", t.Date, t.Event, strings.Join(t.Citations, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Sources\n\n")
	for _, s := range r.Sources {
		year := "n.d."
		if s.Year != nil {
			year = fmt.Sprintf("%d", *s.Year)
		}
		fmt.Fprintf(&b, "- `%s` %s (%s), relevance %.2f", s.ID, s.Title, year, s.Relevance)
		if s.URL != "" {
			fmt.Fprintf(&b, " — %s", s.URL)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n---\n\n%d retrieved, %d off-topic, %d used",
		r.Stats.Retrieved, r.Stats.DroppedOffTopic, r.Stats.Used)
	if len(r.Stats.DegradedFilters) > 0 {
		fmt.Fprintf(&b, " (filters degraded: %s)", strings.Join(r.Stats.DegradedFilters, ", "))
	}
	b.WriteString("\n")

	return b.String()
}

// EvidenceRecord is one JSONL evidence line.
type EvidenceRecord struct {
	Finding  string `json:"finding"`
	Quote    string `json:"quote"`
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

// EvidenceLines renders one JSON-serializable evidence record per line: each
// finding's quotes joined with their cited sources.
func EvidenceLines(r *model.Report) []string {
	byID := make(map[string]model.ReportSource, len(r.Sources))
	for _, s := range r.Sources {
		byID[s.ID] = s
	}

	var lines []string
	for _, f := range r.KeyFindings {
		for _, e := range f.Evidence {
			for _, c := range f.Citations {
				src := byID[c]
				rec := EvidenceRecord{
					Finding:  f.Title,
					Quote:    e,
					SourceID: c,
					Title:    src.Title,
					URL:      src.URL,
				}
				raw, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				lines = append(lines, string(raw))
			}
		}
	}
	return lines
}

// YAML renders the full report as YAML.
func YAML(r *model.Report) (string, error) {
	raw, err := yaml.Marshal(r)
	if err != nil {
		return "", eris.Wrap(err, "export: marshal yaml")
	}
	return string(raw), nil
}
