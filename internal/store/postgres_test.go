package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DieRekT/trove-research/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func jobRow(id string, status model.JobStatus) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "params", "status", "progress", "error_message", "degraded", "created_at", "updated_at",
	}).AddRow(id, []byte(`{"query":"gold rush"}`), status, 0.0, nil, nil, now, now)
}

func TestPostgresCreateJob(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.JobParams{Query: "gold rush"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetJob_NotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, params").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateJobStatus_IllegalTransition(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	// Guarded update touches no rows; the follow-up read finds the job in a
	// terminal state, so the failure is a transition error, not a miss.
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, params").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobStatusDone))

	err := s.UpdateJobStatus(context.Background(), "job-1", model.JobStatusRunning)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateJobStatus_NotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, params").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := s.UpdateJobStatus(context.Background(), "missing", model.JobStatusRunning)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetJobReport_NotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET report").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetJobReport(context.Background(), "missing", &model.Report{Query: "q"})
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetJobReport_NotReady(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT report FROM jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow([]byte(nil)))

	_, err := s.GetJobReport(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrReportNotReady)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryRanked(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"job_id", "id", "title", "url", "year", "body", "region_hints", "raw",
	}).
		AddRow("job-1", "trove:a", "Mineral sands", nil, nil, "body a", []byte(`["WA"]`), -0.9).
		AddRow("job-1", "trove:b", "Shipping", nil, nil, "body b", []byte(nil), -0.2)

	mock.ExpectQuery("FROM sources").
		WithArgs("mineral or sands", "job-1", 10).
		WillReturnRows(rows)

	ranked, err := s.QueryRanked(context.Background(), "job-1", []string{"mineral", "sands"}, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "trove:a", ranked[0].Source.ID)
	assert.Less(t, ranked[0].Raw, ranked[1].Raw)
	assert.Equal(t, []string{"WA"}, ranked[0].Source.RegionHints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryRanked_EmptyTerms(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	ranked, err := s.QueryRanked(context.Background(), "job-1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, ranked)
	assert.NoError(t, mock.ExpectationsWereMet())
}
