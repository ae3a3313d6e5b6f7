package model

// Finding is one synthesized insight backed by verbatim evidence and
// citations into the report's source list.
type Finding struct {
	Title      string   `json:"title"`
	Insight    string   `json:"insight"`
	Evidence   []string `json:"evidence,omitempty"`
	Citations  []string `json:"citations"`
	Confidence float64  `json:"confidence"`
}

// TimelineEntry is one dated event derived from the evidence.
type TimelineEntry struct {
	Date      string   `json:"date"`
	Event     string   `json:"event"`
	Citations []string `json:"citations"`
}

// ReportSource is a ranked source as it appears in a report.
type ReportSource struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Year      *int     `json:"year,omitempty"`
	URL       string   `json:"url,omitempty"`
	Relevance float64  `json:"relevance"`
	Snippets  []string `json:"snippets,omitempty"`
}

// ReportStats counts what happened during retrieval and ranking.
type ReportStats struct {
	Retrieved       int      `json:"retrieved"`
	DroppedOffTopic int      `json:"dropped_off_topic"`
	Used            int      `json:"used"`
	DegradedFilters []string `json:"degraded_filters,omitempty"`
}

// Report is the structured synthesis output for a job or immediate query.
// Sources are sorted descending by relevance, the timeline ascending by
// date, and every citation resolves to a source id in Sources.
type Report struct {
	Query            string          `json:"query"`
	ExecutiveSummary string          `json:"executive_summary"`
	KeyFindings      []Finding       `json:"key_findings"`
	Timeline         []TimelineEntry `json:"timeline"`
	Sources          []ReportSource  `json:"sources"`
	Stats            ReportStats     `json:"stats"`
}

// SourceIDSet returns the set of source ids present in the report, used to
// verify citations.
func (r *Report) SourceIDSet() map[string]bool {
	ids := make(map[string]bool, len(r.Sources))
	for _, s := range r.Sources {
		ids[s.ID] = true
	}
	return ids
}
