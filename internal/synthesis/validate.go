package synthesis

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/ranking"
)

var errAllEntriesDropped = eris.New("synthesis: all findings and timeline entries failed validation")

// llmReport mirrors the JSON schema requested from the completion service.
type llmReport struct {
	ExecutiveSummary string                `json:"executive_summary"`
	KeyFindings      []model.Finding       `json:"key_findings"`
	Timeline         []model.TimelineEntry `json:"timeline"`
}

// parseCompletion extracts the JSON object from a completion response,
// tolerating markdown code fences around it.
func parseCompletion(text string) (*llmReport, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	// The model may preface the object despite instructions; start at the
	// first brace.
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}

	var parsed llmReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, eris.Wrap(err, "synthesis: unmarshal completion response")
	}
	return &parsed, nil
}

// verify applies the verification gate to a parsed completion response:
// findings and timeline entries citing unknown source ids are dropped, as
// are evidence strings that are not verbatim substrings of the cited
// sources' text. Dropping is logged, never silent.
func verify(report *model.Report, parsed *llmReport, ranked []ranking.Ranked) {
	known := report.SourceIDSet()
	textByID := make(map[string]string, len(ranked))
	for _, r := range ranked {
		textByID[r.Source.ID] = r.Source.Text
	}

	for _, f := range parsed.KeyFindings {
		citations := validCitations(f.Citations, known)
		if len(citations) == 0 {
			zap.L().Warn("dropping finding with no resolvable citations",
				zap.String("finding", f.Title),
				zap.Strings("citations", f.Citations),
			)
			continue
		}
		f.Citations = citations
		f.Evidence = verbatimEvidence(f.Evidence, citations, textByID)
		f.Confidence = clamp01(f.Confidence)
		report.KeyFindings = append(report.KeyFindings, f)
	}

	for _, t := range parsed.Timeline {
		citations := validCitations(t.Citations, known)
		if len(citations) == 0 {
			zap.L().Warn("dropping timeline entry with no resolvable citations",
				zap.String("event", t.Event),
				zap.Strings("citations", t.Citations),
			)
			continue
		}
		t.Citations = citations
		report.Timeline = append(report.Timeline, t)
	}
}

func validCitations(citations []string, known map[string]bool) []string {
	var out []string
	for _, c := range citations {
		if known[c] {
			out = append(out, c)
		}
	}
	return out
}

// verbatimEvidence keeps only evidence strings that appear verbatim in the
// text of at least one cited source.
func verbatimEvidence(evidence, citations []string, textByID map[string]string) []string {
	var out []string
	for _, e := range evidence {
		for _, c := range citations {
			if strings.Contains(textByID[c], e) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
