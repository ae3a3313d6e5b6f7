// Package synthesis turns ranked sources and their quotes into a structured,
// cited report. The completion service is the primary path; a deterministic
// extractive fallback is a first-class second implementation of the same
// contract, selected when the service is unavailable or its output fails
// validation.
package synthesis

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/ranking"
	"github.com/DieRekT/trove-research/pkg/completion"
)

// NoEvidenceError indicates zero sources survived ranking. It carries an
// actionable suggestion instead of producing an empty "successful" report.
type NoEvidenceError struct {
	Query string
}

func (e *NoEvidenceError) Error() string {
	return fmt.Sprintf("no evidence found for %q: widen the date range or broaden the search terms", e.Query)
}

// Options tunes synthesis.
type Options struct {
	// MaxFindings caps fallback findings and the prompt's requested count.
	MaxFindings int
	// MaxTokens for the completion call.
	MaxTokens int64
}

// DefaultOptions returns production synthesis options.
func DefaultOptions() Options {
	return Options{MaxFindings: 5, MaxTokens: 4096}
}

// Engine synthesizes reports. A nil client always takes the fallback path.
type Engine struct {
	client completion.Client
	opts   Options
}

// NewEngine creates a synthesis engine.
func NewEngine(client completion.Client, opts Options) *Engine {
	if opts.MaxFindings <= 0 {
		opts.MaxFindings = 5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Engine{client: client, opts: opts}
}

// Synthesize produces a report for the query from ranked sources and their
// extracted quotes. stats carries the retrieval counters; Used is set here.
// Returns *NoEvidenceError when ranked is empty.
func (e *Engine) Synthesize(ctx context.Context, query string, ranked []ranking.Ranked, quotesBySource map[string][]string, stats model.ReportStats) (*model.Report, error) {
	if len(ranked) == 0 {
		return nil, &NoEvidenceError{Query: query}
	}

	sources := reportSources(ranked, quotesBySource)
	stats.Used = len(sources)

	if e.client != nil && e.client.Available() {
		report, err := e.synthesizeLLM(ctx, query, ranked, quotesBySource, sources, stats)
		if err == nil {
			return report, nil
		}
		zap.L().Warn("completion synthesis failed, using extractive fallback",
			zap.String("query", query),
			zap.Error(err),
		)
	}

	return e.fallback(query, ranked, quotesBySource, sources, stats), nil
}

func (e *Engine) synthesizeLLM(ctx context.Context, query string, ranked []ranking.Ranked, quotes map[string][]string, sources []model.ReportSource, stats model.ReportStats) (*model.Report, error) {
	resp, err := e.client.Complete(ctx, completion.Request{
		System:    systemPrompt,
		Prompt:    buildPrompt(query, ranked, quotes, e.opts.MaxFindings),
		MaxTokens: e.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseCompletion(resp.Text)
	if err != nil {
		return nil, err
	}

	report := &model.Report{
		Query:            query,
		ExecutiveSummary: parsed.ExecutiveSummary,
		Sources:          sources,
		Stats:            stats,
	}
	verify(report, parsed, ranked)

	// Everything the model produced was dropped by the verification gate:
	// treat the whole response as invalid.
	if len(report.KeyFindings) == 0 && len(report.Timeline) == 0 {
		return nil, errAllEntriesDropped
	}

	sortTimeline(report.Timeline)
	return report, nil
}

// reportSources builds the report's source list from the ranked set, which
// arrives already ordered most relevant first.
func reportSources(ranked []ranking.Ranked, quotes map[string][]string) []model.ReportSource {
	out := make([]model.ReportSource, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, model.ReportSource{
			ID:        r.Source.ID,
			Title:     r.Source.Title,
			Year:      r.Source.Year,
			URL:       r.Source.URL,
			Relevance: r.Score,
			Snippets:  quotes[r.Source.ID],
		})
	}
	return out
}

func sortTimeline(entries []model.TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date < entries[j].Date
	})
}
