package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/DieRekT/trove-research/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite with WAL journaling,
// so a crash mid-ingestion leaves previously committed sources intact.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	params        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	progress      REAL NOT NULL DEFAULT 0,
	error_message TEXT,
	degraded      TEXT,
	report        TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sources (
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	id           TEXT NOT NULL,
	title        TEXT NOT NULL,
	url          TEXT,
	year         INTEGER,
	body         TEXT NOT NULL,
	region_hints TEXT,
	PRIMARY KEY (job_id, id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS sources_fts USING fts5(
	job_id UNINDEXED,
	sid UNINDEXED,
	title,
	body
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, params model.JobParams) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, params, status, progress, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id, string(paramsJSON), string(model.JobStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:        id,
		Params:    params,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, params, status, progress, error_message, degraded, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID)

	var j model.Job
	var paramsJSON string
	var errMsg, degraded sql.NullString
	err := row.Scan(&j.ID, &paramsJSON, &j.Status, &j.Progress, &errMsg, &degraded, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if err := json.Unmarshal([]byte(paramsJSON), &j.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if errMsg.Valid {
		j.ErrorMessage = errMsg.String
	}
	if degraded.Valid && degraded.String != "" {
		if err := json.Unmarshal([]byte(degraded.String), &j.Degraded); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal degraded")
		}
	}
	return &j, nil
}

// statusPredecessors gives the statuses a transition may come from.
var statusPredecessors = map[model.JobStatus][]model.JobStatus{
	model.JobStatusRunning: {model.JobStatusQueued},
	model.JobStatusDone:    {model.JobStatusRunning},
	model.JobStatusError:   {model.JobStatusRunning},
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	preds, ok := statusPredecessors[status]
	if !ok {
		return ErrIllegalTransition
	}
	from := make([]string, len(preds))
	args := []any{string(status), time.Now().UTC(), jobID}
	for i, p := range preds {
		from[i] = "?"
		args = append(args, string(p))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+strings.Join(from, ",")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, progress float64) error {
	// Stale (lower) progress values are dropped silently so progress is
	// non-decreasing while running.
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND progress <= ?`,
		progress, time.Now().UTC(), jobID, string(model.JobStatusRunning), progress,
	)
	return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
}

func (s *SQLiteStore) SetJobError(ctx context.Context, jobID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.JobStatusError), message, time.Now().UTC(), jobID,
		string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job error %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) SetJobDegraded(ctx context.Context, jobID string, filters []string) error {
	degradedJSON, err := json.Marshal(filters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal degraded")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET degraded = ?, updated_at = ? WHERE id = ?`,
		string(degradedJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job degraded %s", jobID)
	}
	return checkFound(res, jobID)
}

func (s *SQLiteStore) SetJobReport(ctx context.Context, jobID string, report *model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET report = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job report %s", jobID)
	}
	return checkFound(res, jobID)
}

func (s *SQLiteStore) GetJobReport(ctx context.Context, jobID string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT report FROM jobs WHERE id = ?`, jobID)

	var reportJSON sql.NullString
	err := row.Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan report")
	}
	if !reportJSON.Valid || reportJSON.String == "" {
		return nil, ErrReportNotReady
	}

	var report model.Report
	if err := json.Unmarshal([]byte(reportJSON.String), &report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &report, nil
}

func (s *SQLiteStore) UpsertSources(ctx context.Context, jobID string, sources []model.Source) error {
	if len(sources) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	for _, src := range sources {
		hintsJSON, err := json.Marshal(src.RegionHints)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal region hints")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sources (job_id, id, title, url, year, body, region_hints)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (job_id, id) DO UPDATE SET
			   title = excluded.title,
			   url = excluded.url,
			   year = excluded.year,
			   body = excluded.body,
			   region_hints = excluded.region_hints`,
			jobID, src.ID, src.Title, src.URL, src.Year, src.Text, string(hintsJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert source %s", src.ID)
		}

		// The FTS table mirrors sources; delete-then-insert keeps the
		// upsert idempotent for the index too.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sources_fts WHERE job_id = ? AND sid = ?`, jobID, src.ID); err != nil {
			return eris.Wrapf(err, "sqlite: deindex source %s", src.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sources_fts (job_id, sid, title, body) VALUES (?, ?, ?, ?)`,
			jobID, src.ID, src.Title, src.Text); err != nil {
			return eris.Wrapf(err, "sqlite: index source %s", src.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit upsert")
}

func (s *SQLiteStore) ListSources(ctx context.Context, jobID string) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, id, title, url, year, body, region_hints FROM sources WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) QueryRanked(ctx context.Context, jobID string, terms []string, limit int) ([]ScoredSource, error) {
	match := ftsQuery(terms)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	// bm25() is more negative for better matches; ascending order is most
	// relevant first, matching the lower-is-better Raw convention.
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.job_id, s.id, s.title, s.url, s.year, s.body, s.region_hints, bm25(sources_fts) AS raw
		 FROM sources_fts f
		 JOIN sources s ON s.job_id = f.job_id AND s.id = f.sid
		 WHERE sources_fts MATCH ? AND f.job_id = ?
		 ORDER BY raw ASC
		 LIMIT ?`,
		match, jobID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ranked query")
	}
	defer rows.Close()

	var out []ScoredSource
	for rows.Next() {
		var ss ScoredSource
		var url, hints sql.NullString
		var year sql.NullInt64
		err := rows.Scan(&ss.Source.JobID, &ss.Source.ID, &ss.Source.Title, &url, &year, &ss.Source.Text, &hints, &ss.Raw)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranked source")
		}
		fillSource(&ss.Source, url, year, hints)
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: ranked query iterate")
}

// ftsQuery builds an OR query of quoted terms so user input cannot inject
// FTS5 syntax.
func ftsQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// checkTransition distinguishes a missing job from a disallowed transition
// when a guarded status update matched no rows.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return ErrIllegalTransition
}

func checkFound(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var url, hints sql.NullString
	var year sql.NullInt64
	err := row.Scan(&src.JobID, &src.ID, &src.Title, &url, &year, &src.Text, &hints)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan source")
	}
	fillSource(&src, url, year, hints)
	return &src, nil
}

func fillSource(src *model.Source, url sql.NullString, year sql.NullInt64, hints sql.NullString) {
	if url.Valid {
		src.URL = url.String
	}
	if year.Valid {
		y := int(year.Int64)
		src.Year = &y
	}
	if hints.Valid && hints.String != "" && hints.String != "null" {
		_ = json.Unmarshal([]byte(hints.String), &src.RegionHints)
	}
}
