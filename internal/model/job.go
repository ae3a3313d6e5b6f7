package model

import "time"

// JobStatus represents the lifecycle state of a research job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// CanTransition reports whether moving from s to next is a legal step in the
// job state machine. Transitions are monotonic: queued → running → done|error.
// Terminal states admit nothing.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusDone || next == JobStatusError
	default:
		return false
	}
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// JobParams holds the user-supplied parameters of a research request.
type JobParams struct {
	Query      string `json:"query"`
	YearsFrom  *int   `json:"years_from,omitempty"`
	YearsTo    *int   `json:"years_to,omitempty"`
	RegionHint string `json:"region_hint,omitempty"`
	MaxPages   int    `json:"max_pages"`
	PageSize   int    `json:"page_size"`
}

// Job represents one research request and its processing lifecycle.
type Job struct {
	ID           string    `json:"id"`
	Params       JobParams `json:"params"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	ErrorMessage string    `json:"error_message,omitempty"`
	// Degraded lists upstream filters the archive rejected and the adapter
	// dropped (e.g. "region"). Recorded so reports can disclose it.
	Degraded  []string  `json:"degraded,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stage is a qualitative progress marker for consumers that want discrete
// phases rather than a fraction.
type Stage string

const (
	StageSearching    Stage = "searching"
	StageFound        Stage = "found"
	StageRanking      Stage = "ranking"
	StageAnalyzing    Stage = "analyzing"
	StageSynthesizing Stage = "synthesizing"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
)

// ProgressEvent is one entry in a job's append-only progress stream. A stream
// terminates with either a StageComplete event carrying the report or a
// StageError event carrying the message.
type ProgressEvent struct {
	Stage    Stage   `json:"stage"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	Report   *Report `json:"report,omitempty"`
}
