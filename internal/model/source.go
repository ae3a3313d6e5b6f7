package model

// SourceIDPrefix namespaces archive record ids so source ids remain stable
// and recognizable across exports.
const SourceIDPrefix = "trove:"

// Source is one normalized archival record ingested for a job. Immutable
// after insert except for re-ingestion upserts keyed by (JobID, ID).
type Source struct {
	ID          string   `json:"id"`
	JobID       string   `json:"job_id"`
	Title       string   `json:"title"`
	URL         string   `json:"url,omitempty"`
	Year        *int     `json:"year,omitempty"`
	Text        string   `json:"text"`
	RegionHints []string `json:"region_hints,omitempty"`
}
