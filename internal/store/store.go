// Package store persists jobs and sources and serves ranked full-text
// retrieval over source text.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/DieRekT/trove-research/internal/model"
)

// ErrJobNotFound is returned when a job id has no record. Distinct from a
// job that exists but is still queued.
var ErrJobNotFound = eris.New("store: job not found")

// ErrReportNotReady is returned when a report is requested for a job that
// has not completed synthesis.
var ErrReportNotReady = eris.New("store: report not ready")

// ErrIllegalTransition is returned when a status update would regress the
// job state machine (queued → running → done|error, monotonic).
var ErrIllegalTransition = eris.New("store: illegal status transition")

// ScoredSource pairs a source with its raw full-text rank.
//
// Raw score convention: LOWER is more relevant. The SQLite backend returns
// FTS5 bm25() values (more negative for better matches) and the Postgres
// backend negates ts_rank_cd to conform. The ranking engine min–max
// normalizes under this convention so higher normalized always means more
// relevant.
type ScoredSource struct {
	Source model.Source
	Raw    float64
}

// Store is the persistence interface for the research pipeline. Writes for a
// given job are serialized through that job's single ingestion task; the
// backend's durability mode (WAL or equivalent) covers crash safety.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, params model.JobParams) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	// UpdateJobStatus applies a monotonic transition. ErrIllegalTransition
	// if the current status does not admit it.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	// UpdateJobProgress records progress for a running job. Progress never
	// decreases; stale values are ignored without error.
	UpdateJobProgress(ctx context.Context, jobID string, progress float64) error
	SetJobError(ctx context.Context, jobID string, message string) error
	SetJobDegraded(ctx context.Context, jobID string, filters []string) error
	SetJobReport(ctx context.Context, jobID string, report *model.Report) error
	GetJobReport(ctx context.Context, jobID string) (*model.Report, error)

	// Sources
	// UpsertSources is keyed by (jobID, source id): re-ingesting the same
	// archive record updates fields rather than duplicating rows.
	UpsertSources(ctx context.Context, jobID string, sources []model.Source) error
	ListSources(ctx context.Context, jobID string) ([]model.Source, error)
	// QueryRanked returns up to limit sources of the job matching any term,
	// ordered most relevant first (lowest raw score, see ScoredSource).
	QueryRanked(ctx context.Context, jobID string, terms []string, limit int) ([]ScoredSource, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
