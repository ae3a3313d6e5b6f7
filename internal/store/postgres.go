package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/DieRekT/trove-research/internal/model"
)

// Pool abstracts the pgx pool operations used by PostgresStore so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool with a tsvector full-text
// index. Raw ranks are negated ts_rank_cd values so the lower-is-better
// convention from ScoredSource holds across backends.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	params        JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	progress      DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT,
	degraded      JSONB,
	report        JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	id           TEXT NOT NULL,
	title        TEXT NOT NULL,
	url          TEXT,
	year         INTEGER,
	body         TEXT NOT NULL,
	region_hints JSONB,
	fts          TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(title, '') || ' ' || coalesce(body, ''))
	) STORED,
	PRIMARY KEY (job_id, id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_sources_fts ON sources USING GIN (fts);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, params model.JobParams) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, params, status, progress, created_at, updated_at) VALUES ($1, $2, $3, 0, $4, $5)`,
		id, string(paramsJSON), string(model.JobStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:        id,
		Params:    params,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, params, status, progress, error_message, degraded, created_at, updated_at
		 FROM jobs WHERE id = $1`, jobID)

	var j model.Job
	var paramsJSON []byte
	var errMsg *string
	var degraded []byte
	err := row.Scan(&j.ID, &paramsJSON, &j.Status, &j.Progress, &errMsg, &degraded, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	if len(degraded) > 0 {
		if err := json.Unmarshal(degraded, &j.Degraded); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal degraded")
		}
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	preds, ok := statusPredecessors[status]
	if !ok {
		return ErrIllegalTransition
	}
	from := make([]string, len(preds))
	for i, p := range preds {
		from[i] = "'" + string(p) + "'"
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status IN (`+strings.Join(from, ",")+`)`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, progress float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $1, updated_at = $2
		 WHERE id = $3 AND status = $4 AND progress <= $1`,
		progress, time.Now().UTC(), jobID, string(model.JobStatusRunning),
	)
	return eris.Wrapf(err, "postgres: update job progress %s", jobID)
}

func (s *PostgresStore) SetJobError(ctx context.Context, jobID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(model.JobStatusError), message, time.Now().UTC(), jobID,
		string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job error %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

func (s *PostgresStore) SetJobDegraded(ctx context.Context, jobID string, filters []string) error {
	degradedJSON, err := json.Marshal(filters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal degraded")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET degraded = $1, updated_at = $2 WHERE id = $3`,
		string(degradedJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job degraded %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) SetJobReport(ctx context.Context, jobID string, report *model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET report = $1, updated_at = $2 WHERE id = $3`,
		string(reportJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job report %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) GetJobReport(ctx context.Context, jobID string) (*model.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT report FROM jobs WHERE id = $1`, jobID)

	var reportJSON []byte
	err := row.Scan(&reportJSON)
	if err == pgx.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan report")
	}
	if len(reportJSON) == 0 {
		return nil, ErrReportNotReady
	}

	var report model.Report
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &report, nil
}

func (s *PostgresStore) UpsertSources(ctx context.Context, jobID string, sources []model.Source) error {
	if len(sources) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx)

	for _, src := range sources {
		hintsJSON, err := json.Marshal(src.RegionHints)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal region hints")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO sources (job_id, id, title, url, year, body, region_hints)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (job_id, id) DO UPDATE SET
			   title = excluded.title,
			   url = excluded.url,
			   year = excluded.year,
			   body = excluded.body,
			   region_hints = excluded.region_hints`,
			jobID, src.ID, src.Title, src.URL, src.Year, src.Text, string(hintsJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert source %s", src.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert")
}

func (s *PostgresStore) ListSources(ctx context.Context, jobID string) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, id, title, url, year, body, region_hints FROM sources WHERE job_id = $1 ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanPgSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) QueryRanked(ctx context.Context, jobID string, terms []string, limit int) ([]ScoredSource, error) {
	query := tsQuery(terms)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	// ts_rank_cd is higher-is-better; negate it so Raw follows the
	// lower-is-better store convention.
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, id, title, url, year, body, region_hints,
		        -ts_rank_cd(fts, websearch_to_tsquery('english', $1)) AS raw
		 FROM sources
		 WHERE job_id = $2 AND fts @@ websearch_to_tsquery('english', $1)
		 ORDER BY raw ASC
		 LIMIT $3`,
		query, jobID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ranked query")
	}
	defer rows.Close()

	var out []ScoredSource
	for rows.Next() {
		var ss ScoredSource
		var url *string
		var year *int
		var hints []byte
		err := rows.Scan(&ss.Source.JobID, &ss.Source.ID, &ss.Source.Title, &url, &year, &ss.Source.Text, &hints, &ss.Raw)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranked source")
		}
		fillPgSource(&ss.Source, url, year, hints)
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "postgres: ranked query iterate")
}

// tsQuery joins terms with "or" for websearch_to_tsquery, which treats bare
// words as phrases and cannot be abused for operator injection.
func tsQuery(terms []string) string {
	clean := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, " or ")
}

func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, jobID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return ErrIllegalTransition
}

func scanPgSource(rows pgx.Rows) (*model.Source, error) {
	var src model.Source
	var url *string
	var year *int
	var hints []byte
	err := rows.Scan(&src.JobID, &src.ID, &src.Title, &url, &year, &src.Text, &hints)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan source")
	}
	fillPgSource(&src, url, year, hints)
	return &src, nil
}

func fillPgSource(src *model.Source, url *string, year *int, hints []byte) {
	if url != nil {
		src.URL = *url
	}
	src.Year = year
	if len(hints) > 0 && string(hints) != "null" {
		_ = json.Unmarshal(hints, &src.RegionHints)
	}
}
