package synthesis

import (
	"fmt"
	"strings"

	"github.com/DieRekT/trove-research/internal/ranking"
)

const systemPrompt = `You are a historical research analyst. You synthesize ` +
	`structured research reports from archival newspaper sources. You only ` +
	`cite the source ids you are given, and every evidence string you use ` +
	`must be copied verbatim from the supplied quotes. Respond with a single ` +
	`JSON object and nothing else.`

const responseSchema = `{
  "executive_summary": "string",
  "key_findings": [
    {"title": "string", "insight": "string", "evidence": ["verbatim quote"], "citations": ["source id"], "confidence": 0.0}
  ],
  "timeline": [
    {"date": "YYYY or YYYY-MM-DD", "event": "string", "citations": ["source id"]}
  ]
}`

// buildPrompt lays out the query, ranked sources and their quotes, and the
// required response schema.
func buildPrompt(query string, ranked []ranking.Ranked, quotes map[string][]string, maxFindings int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Research query: %s\n\n", query)
	b.WriteString("Sources, most relevant first:\n\n")

	for i, r := range ranked {
		fmt.Fprintf(&b, "--- Source %d ---\n", i+1)
		fmt.Fprintf(&b, "id: %s\n", r.Source.ID)
		fmt.Fprintf(&b, "title: %s\n", r.Source.Title)
		if r.Source.Year != nil {
			fmt.Fprintf(&b, "year: %d\n", *r.Source.Year)
		}
		fmt.Fprintf(&b, "relevance: %.2f\n", r.Score)
		for _, q := range quotes[r.Source.ID] {
			fmt.Fprintf(&b, "quote: %q\n", q)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Produce at most %d key findings.\n", maxFindings)
	b.WriteString("Cite only the ids listed above. Respond with JSON matching this schema:\n")
	b.WriteString(responseSchema)
	b.WriteString("\n")

	return b.String()
}
