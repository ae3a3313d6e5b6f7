// Package orchestrator owns the job state machine: it runs
// ingestion → ranking → synthesis as a background task per job and reports
// progress as both a fraction and a discrete stage stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/DieRekT/trove-research/internal/archive"
	"github.com/DieRekT/trove-research/internal/cache"
	"github.com/DieRekT/trove-research/internal/evidence"
	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/ranking"
	"github.com/DieRekT/trove-research/internal/store"
	"github.com/DieRekT/trove-research/internal/synthesis"
)

// Progress allocation across phases: ingestion fills 0→0.6 proportional to
// pages fetched, ranking 0.6→0.8, extraction+synthesis 0.8→1.0.
const (
	progressIngestDone = 0.6
	progressRankDone   = 0.8
)

// Config tunes the orchestrator.
type Config struct {
	// MaxPages caps pages per batch job regardless of the request.
	MaxPages int
	// ImmediateMaxPages bounds the synchronous convenience path.
	ImmediateMaxPages int
	// DefaultPageSize is used when a request does not set one.
	DefaultPageSize int
	// MaxConcurrentJobs bounds simultaneously running background jobs.
	MaxConcurrentJobs int64
	// PageTimeout bounds each archive page fetch.
	PageTimeout time.Duration
	// CandidateLimit bounds the ranked retrieval from the store.
	CandidateLimit int
	// CacheTTL is the immediate-query memoization window.
	CacheTTL time.Duration
	// Category selects the archive category to search.
	Category string
	// Ranking tunes the blend and cutoffs.
	Ranking ranking.Options
	// MaxQuotes and MaxQuoteLen tune evidence extraction.
	MaxQuotes   int
	MaxQuoteLen int
}

// DefaultConfig returns production orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MaxPages:          10,
		ImmediateMaxPages: 2,
		DefaultPageSize:   50,
		MaxConcurrentJobs: 4,
		PageTimeout:       30 * time.Second,
		CandidateLimit:    100,
		CacheTTL:          cache.DefaultTTL,
		Category:          "newspaper",
		Ranking:           ranking.DefaultOptions(),
		MaxQuotes:         evidence.DefaultMaxQuotes,
		MaxQuoteLen:       evidence.DefaultMaxLen,
	}
}

// Orchestrator coordinates jobs across the store, archive client, synthesis
// engine and result cache. All dependencies are injected; there is no
// package-level state.
type Orchestrator struct {
	store   store.Store
	archive archive.Client
	engine  *synthesis.Engine
	cache   *cache.Cache
	cfg     Config

	sem      *semaphore.Weighted
	progress *broadcaster
	wg       sync.WaitGroup
}

// New creates an orchestrator.
func New(st store.Store, ac archive.Client, engine *synthesis.Engine, c *cache.Cache, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.ImmediateMaxPages <= 0 {
		cfg.ImmediateMaxPages = def.ImmediateMaxPages
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Category == "" {
		cfg.Category = def.Category
	}
	if cfg.Ranking.Weights == (ranking.Weights{}) {
		cfg.Ranking = def.Ranking
	}
	if c == nil {
		c = cache.New()
	}
	return &Orchestrator{
		store:    st,
		archive:  ac,
		engine:   engine,
		cache:    c,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentJobs),
		progress: newBroadcaster(),
	}
}

// Submit persists a queued job and starts its background task. It returns
// the job id immediately; the caller never blocks on ingestion. The task
// runs on a detached context so client disconnects cannot cancel it.
func (o *Orchestrator) Submit(ctx context.Context, params model.JobParams) (string, error) {
	params = o.normalize(params, o.cfg.MaxPages)
	if params.Query == "" {
		return "", eris.New("orchestrator: query is required")
	}

	job, err := o.store.CreateJob(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "orchestrator: create job")
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		runCtx := context.Background()
		if err := o.sem.Acquire(runCtx, 1); err != nil {
			// Even a pre-start failure moves through running: error is only
			// reachable from running.
			if serr := o.store.UpdateJobStatus(runCtx, job.ID, model.JobStatusRunning); serr != nil {
				zap.L().Error("could not start failing job",
					zap.String("job_id", job.ID),
					zap.Error(serr),
				)
			}
			o.fail(runCtx, job.ID, fmt.Sprintf("could not schedule job: %v", err))
			return
		}
		defer o.sem.Release(1)

		if _, err := o.runJob(runCtx, job.ID, params); err != nil {
			zap.L().Error("job failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}()

	return job.ID, nil
}

// Wait blocks until all background jobs have finished. Used on shutdown and
// in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Subscribe returns the job's progress event stream from now on. A job that
// already reached a terminal state gets its terminal event replayed, so every
// stream ends with a complete or error event no matter when the subscriber
// arrived. Cancelling the subscription does not cancel the job.
func (o *Orchestrator) Subscribe(jobID string) (<-chan model.ProgressEvent, func()) {
	ch, cancel := o.progress.Subscribe(jobID)

	job, err := o.store.GetJob(context.Background(), jobID)
	if err != nil || !job.Status.Terminal() {
		return ch, cancel
	}

	// The live publish already happened (or is racing us, in which case it
	// closes the channel first and this publish reaches nobody).
	if job.Status == model.JobStatusError {
		o.progress.Publish(jobID, model.ProgressEvent{
			Stage:   model.StageError,
			Message: job.ErrorMessage,
		})
		return ch, cancel
	}

	report, rerr := o.store.GetJobReport(context.Background(), jobID)
	if rerr != nil {
		report = nil
	}
	o.progress.Publish(jobID, model.ProgressEvent{
		Stage:    model.StageComplete,
		Message:  "research complete",
		Progress: 1.0,
		Report:   report,
	})
	return ch, cancel
}

// Status returns the job record.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// Report returns the stored report for a done job. The report is computed
// once at job completion, never recomputed per request.
func (o *Orchestrator) Report(ctx context.Context, jobID string) (*model.Report, error) {
	return o.store.GetJobReport(ctx, jobID)
}

// RunImmediate executes the pipeline synchronously with a small page bound,
// memoizing the report in the result cache. Two concurrent identical calls
// may both execute before either caches (accepted race, see cache package).
func (o *Orchestrator) RunImmediate(ctx context.Context, params model.JobParams) (*model.Report, error) {
	params = o.normalize(params, o.cfg.ImmediateMaxPages)
	if params.Query == "" {
		return nil, eris.New("orchestrator: query is required")
	}

	key := cache.Key(params)
	if report := o.cache.Get(key); report != nil {
		return report, nil
	}

	job, err := o.store.CreateJob(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job")
	}

	report, err := o.runJob(ctx, job.ID, params)
	if err != nil {
		return nil, err
	}

	o.cache.Set(key, report, o.cfg.CacheTTL)
	return report, nil
}

// normalize applies defaults and caps to request parameters.
func (o *Orchestrator) normalize(params model.JobParams, maxPages int) model.JobParams {
	if params.MaxPages <= 0 || params.MaxPages > maxPages {
		params.MaxPages = maxPages
	}
	if params.PageSize <= 0 {
		params.PageSize = o.cfg.DefaultPageSize
	}
	return params
}

// runJob drives one job through the full pipeline and returns its report.
// Any unrecoverable error marks the job failed; partial ingestion already
// committed stays queryable.
func (o *Orchestrator) runJob(ctx context.Context, jobID string, params model.JobParams) (*model.Report, error) {
	if err := o.store.UpdateJobStatus(ctx, jobID, model.JobStatusRunning); err != nil {
		return nil, eris.Wrapf(err, "orchestrator: start job %s", jobID)
	}
	o.publish(jobID, model.StageSearching, "searching the archive", 0)

	stats, err := o.ingest(ctx, jobID, params)
	if err != nil {
		return nil, o.failWith(ctx, jobID, err)
	}

	// Hard sequencing rule: ranking only begins once ingestion for the job
	// has completed, never against a still-growing page set.
	o.setProgress(ctx, jobID, progressIngestDone)
	o.publish(jobID, model.StageRanking, "ranking sources", progressIngestDone)

	terms := ranking.Terms(params.Query)
	candidates, err := o.store.QueryRanked(ctx, jobID, terms, o.cfg.CandidateLimit)
	if err != nil {
		return nil, o.failWith(ctx, jobID, eris.Wrap(err, "orchestrator: ranked query"))
	}

	window := ranking.DateWindow{From: params.YearsFrom, To: params.YearsTo}
	result := ranking.Rank(candidates, terms, window, params.RegionHint, o.cfg.Ranking)
	stats.DroppedOffTopic += result.DroppedOffTopic

	o.setProgress(ctx, jobID, progressRankDone)
	o.publish(jobID, model.StageAnalyzing, "extracting supporting quotes", progressRankDone)

	quotes := make(map[string][]string, len(result.Used))
	for _, r := range result.Used {
		quotes[r.Source.ID] = evidence.BestQuotes(r.Source.Text, terms, o.cfg.MaxQuotes, o.cfg.MaxQuoteLen)
	}

	o.publish(jobID, model.StageSynthesizing, "synthesizing report", 0.9)

	report, err := o.engine.Synthesize(ctx, params.Query, result.Used, quotes, stats)
	if err != nil {
		return nil, o.failWith(ctx, jobID, err)
	}

	if err := o.store.SetJobReport(ctx, jobID, report); err != nil {
		return nil, o.failWith(ctx, jobID, eris.Wrap(err, "orchestrator: store report"))
	}
	o.setProgress(ctx, jobID, 1.0)
	if err := o.store.UpdateJobStatus(ctx, jobID, model.JobStatusDone); err != nil {
		return nil, eris.Wrapf(err, "orchestrator: finish job %s", jobID)
	}

	o.progress.Publish(jobID, model.ProgressEvent{
		Stage:    model.StageComplete,
		Message:  "research complete",
		Progress: 1.0,
		Report:   report,
	})
	return report, nil
}

// ingest fetches pages in increasing order, upserting after each page. The
// first page is job-fatal on upstream failure; later pages are skipped and
// counted. Returns the retrieval stats for the report.
func (o *Orchestrator) ingest(ctx context.Context, jobID string, params model.JobParams) (model.ReportStats, error) {
	var stats model.ReportStats
	degraded := map[string]bool{}
	retrieved := 0
	estimatedTotal := -1

	for page := 1; page <= params.MaxPages; page++ {
		pageCtx, cancel := context.WithTimeout(ctx, o.cfg.PageTimeout)
		result, err := o.archive.FetchPage(pageCtx, archive.PageRequest{
			Query:     params.Query,
			Page:      page,
			PageSize:  params.PageSize,
			Category:  o.cfg.Category,
			YearsFrom: params.YearsFrom,
			YearsTo:   params.YearsTo,
			Region:    params.RegionHint,
		})
		cancel()

		if err != nil {
			var upstream *archive.UpstreamError
			if errors.As(err, &upstream) && page > 1 {
				// Retryable at page granularity: skip and continue with
				// what we have.
				zap.L().Warn("skipping failed archive page",
					zap.String("job_id", jobID),
					zap.Int("page", page),
					zap.Error(err),
				)
				continue
			}
			return stats, err
		}

		for _, f := range result.DroppedFilters {
			if !degraded[f] {
				degraded[f] = true
				stats.DegradedFilters = append(stats.DegradedFilters, f)
			}
		}

		for i := range result.Sources {
			result.Sources[i].JobID = jobID
		}
		if err := o.store.UpsertSources(ctx, jobID, result.Sources); err != nil {
			return stats, eris.Wrapf(err, "orchestrator: upsert page %d", page)
		}
		retrieved += len(result.Sources)

		if page == 1 {
			estimatedTotal = result.EstimatedTotal
			o.publish(jobID, model.StageFound,
				fmt.Sprintf("found about %d records", estimatedTotal),
				progressIngestDone/float64(params.MaxPages))
		}

		o.setProgress(ctx, jobID, float64(page)/float64(params.MaxPages)*progressIngestDone)

		// The archive is exhausted before the page budget.
		if len(result.Sources) == 0 || (estimatedTotal >= 0 && retrieved >= estimatedTotal) {
			break
		}
	}

	if len(stats.DegradedFilters) > 0 {
		if err := o.store.SetJobDegraded(ctx, jobID, stats.DegradedFilters); err != nil {
			return stats, eris.Wrap(err, "orchestrator: record degraded filters")
		}
	}

	stats.Retrieved = retrieved
	return stats, nil
}

// failWith marks the job failed with a human-readable message and returns
// the original error for the caller to propagate.
func (o *Orchestrator) failWith(ctx context.Context, jobID string, err error) error {
	o.fail(ctx, jobID, err.Error())
	return err
}

func (o *Orchestrator) fail(ctx context.Context, jobID, message string) {
	if err := o.store.SetJobError(ctx, jobID, message); err != nil {
		zap.L().Error("could not mark job failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
	o.progress.Publish(jobID, model.ProgressEvent{
		Stage:   model.StageError,
		Message: message,
	})
}

func (o *Orchestrator) publish(jobID string, stage model.Stage, message string, progress float64) {
	o.progress.Publish(jobID, model.ProgressEvent{
		Stage:    stage,
		Message:  message,
		Progress: progress,
	})
}

func (o *Orchestrator) setProgress(ctx context.Context, jobID string, progress float64) {
	if err := o.store.UpdateJobProgress(ctx, jobID, progress); err != nil {
		zap.L().Warn("could not update job progress",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}
