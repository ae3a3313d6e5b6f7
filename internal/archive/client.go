// Package archive provides a paginated client for a Trove-style archival
// search API and normalization of its heterogeneous record shapes.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/resilience"
)

// PageRequest describes one page fetch against the archive search API.
type PageRequest struct {
	Query     string
	Page      int // 1-based
	PageSize  int
	Category  string
	YearsFrom *int
	YearsTo   *int
	Region    string
}

// PageResult is the normalized outcome of one page fetch.
type PageResult struct {
	Sources        []model.Source
	EstimatedTotal int
	// DroppedFilters lists filters the upstream rejected and the client
	// removed before retrying ("region", "date").
	DroppedFilters []string
}

// UpstreamError indicates the archive API was unreachable or returned a
// server error for a page. The orchestrator treats it as retryable at page
// granularity except on the first page of a job.
type UpstreamError struct {
	Page   int
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("archive: page %d failed with status %d", e.Page, e.Status)
	}
	return fmt.Sprintf("archive: page %d failed: %v", e.Page, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client defines the archive search operations used by the pipeline.
type Client interface {
	FetchPage(ctx context.Context, req PageRequest) (*PageResult, error)
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithLimiter sets the request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) { c.limiter = l }
}

// WithRetryPolicy sets the per-page retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) { c.retry = p }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates an archive search client. Public archive APIs enforce a
// per-key request rate, so fetches pass through a limiter.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.trove.nla.gov.au/v3",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		retry:   resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// filterSet tracks which optional filters are applied to a request, so a
// rejected request can be replayed without them.
type filterSet struct {
	region bool
	date   bool
}

// dropOne removes the next applied filter, region before date, so a rejected
// request sheds as little as possible per retry.
func (f filterSet) dropOne() (filterSet, string, bool) {
	if f.region {
		f.region = false
		return f, "region", true
	}
	if f.date {
		f.date = false
		return f, "date", true
	}
	return f, "", false
}

func (c *httpClient) FetchPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	filters := filterSet{
		region: req.Region != "",
		date:   req.YearsFrom != nil || req.YearsTo != nil,
	}

	// A client-side rejection with optional filters present means the
	// upstream does not support one of them, but not which. Drop one filter
	// per retry and report only what was actually removed.
	var dropped []string
	for {
		body, status, err := c.fetch(ctx, req, filters)
		if err != nil {
			return nil, &UpstreamError{Page: req.Page, Err: err}
		}
		if status == http.StatusBadRequest {
			if next, name, ok := filters.dropOne(); ok {
				zap.L().Warn("archive rejected request, retrying with one filter removed",
					zap.Int("page", req.Page),
					zap.String("dropped", name),
				)
				filters = next
				dropped = append(dropped, name)
				continue
			}
		}
		if status != http.StatusOK {
			return nil, &UpstreamError{Page: req.Page, Status: status}
		}
		result, err := c.parse(req, body)
		if err != nil {
			return nil, err
		}
		result.DroppedFilters = dropped
		return result, nil
	}
}

// fetch performs the HTTP round trip with rate limiting and transient
// retries. Non-2xx statuses are returned to the caller for classification,
// except transient ones which are retried here.
func (c *httpClient) fetch(ctx context.Context, req PageRequest, filters filterSet) ([]byte, int, error) {
	type reply struct {
		body   []byte
		status int
	}

	r, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (reply, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return reply{}, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(req, filters), nil)
		if err != nil {
			return reply{}, eris.Wrap(err, "archive: create request")
		}
		httpReq.Header.Set("X-API-KEY", c.apiKey)
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return reply{}, eris.Wrap(err, "archive: request")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return reply{}, eris.Wrap(err, "archive: read body")
		}
		if resilience.TransientStatus(resp.StatusCode) {
			return reply{}, resilience.MarkTransient(
				eris.Errorf("archive: status %d: %s", resp.StatusCode, truncate(string(body), 200)),
				resp.StatusCode,
			)
		}
		return reply{body: body, status: resp.StatusCode}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return r.body, r.status, nil
}

func (c *httpClient) pageURL(req PageRequest, filters filterSet) string {
	q := url.Values{}
	q.Set("q", req.Query)
	category := req.Category
	if category == "" {
		category = "newspaper"
	}
	q.Set("category", category)
	q.Set("encoding", "json")
	q.Set("n", strconv.Itoa(req.PageSize))
	if req.Page > 1 {
		q.Set("s", strconv.Itoa((req.Page-1)*req.PageSize))
	}
	if filters.region && req.Region != "" {
		q.Set("l-state", req.Region)
	}
	if filters.date {
		if req.YearsFrom != nil {
			q.Set("l-year-from", strconv.Itoa(*req.YearsFrom))
		}
		if req.YearsTo != nil {
			q.Set("l-year-to", strconv.Itoa(*req.YearsTo))
		}
	}
	return c.baseURL + "/result?" + q.Encode()
}

// parse walks the response envelope defensively: either the nested
// category/records shape or a flat {"records": [...], "total": n}.
func (c *httpClient) parse(req PageRequest, body []byte) (*PageResult, error) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal response")
	}

	records, total := extractRecords(envelope)

	sources := make([]model.Source, 0, len(records))
	for _, rec := range records {
		sources = append(sources, NormalizeRecord(rec))
	}
	if total == 0 {
		total = len(sources)
	}
	return &PageResult{Sources: sources, EstimatedTotal: total}, nil
}

// extractRecords collects record maps from the known envelope variants.
func extractRecords(envelope map[string]any) ([]map[string]any, int) {
	var records []map[string]any
	var total int

	collect := func(v any) {
		list, ok := v.([]any)
		if !ok {
			return
		}
		for _, item := range list {
			if rec, ok := item.(map[string]any); ok {
				records = append(records, rec)
			}
		}
	}

	if cats, ok := envelope["category"].([]any); ok {
		for _, c := range cats {
			cat, ok := c.(map[string]any)
			if !ok {
				continue
			}
			recs, ok := cat["records"].(map[string]any)
			if !ok {
				continue
			}
			if t, ok := asInt(recs["total"]); ok {
				total += t
			}
			for key, v := range recs {
				if key == "total" || key == "next" || key == "s" || key == "n" {
					continue
				}
				collect(v)
			}
		}
		return records, total
	}

	collect(envelope["records"])
	if t, ok := asInt(envelope["total"]); ok {
		total = t
	}
	return records, total
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
