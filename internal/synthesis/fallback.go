package synthesis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/ranking"
)

// fallback builds a deterministic extractive report. It never fails when
// given at least one ranked source: the summary concatenates top titles, each
// top source yields one finding backed by its best quote, and the timeline
// comes straight from (year, title) pairs.
func (e *Engine) fallback(query string, ranked []ranking.Ranked, quotes map[string][]string, sources []model.ReportSource, stats model.ReportStats) *model.Report {
	report := &model.Report{
		Query:   query,
		Sources: sources,
		Stats:   stats,
	}

	top := ranked
	if len(top) > e.opts.MaxFindings {
		top = top[:e.opts.MaxFindings]
	}

	titles := make([]string, 0, len(top))
	for _, r := range top {
		titles = append(titles, r.Source.Title)
	}
	report.ExecutiveSummary = fmt.Sprintf(
		"Archival research for %q surfaced %d relevant sources. The most relevant coverage: %s.",
		query, len(ranked), strings.Join(titles, "; "),
	)

	for _, r := range top {
		finding := model.Finding{
			Title:      r.Source.Title,
			Citations:  []string{r.Source.ID},
			Confidence: r.Score,
		}
		if qs := quotes[r.Source.ID]; len(qs) > 0 {
			finding.Evidence = qs[:1]
			finding.Insight = fmt.Sprintf("%q — %s", qs[0], r.Source.Title)
		} else {
			finding.Insight = r.Source.Title
		}
		if r.Source.Year != nil {
			finding.Insight += fmt.Sprintf(" (%d)", *r.Source.Year)
		}
		report.KeyFindings = append(report.KeyFindings, finding)
	}

	for _, r := range ranked {
		if r.Source.Year == nil {
			continue
		}
		report.Timeline = append(report.Timeline, model.TimelineEntry{
			Date:      strconv.Itoa(*r.Source.Year),
			Event:     r.Source.Title,
			Citations: []string{r.Source.ID},
		})
	}
	sortTimeline(report.Timeline)

	return report
}
