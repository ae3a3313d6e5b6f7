package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/DieRekT/trove-research/internal/archive"
	"github.com/DieRekT/trove-research/internal/cache"
	"github.com/DieRekT/trove-research/internal/orchestrator"
	"github.com/DieRekT/trove-research/internal/ranking"
	"github.com/DieRekT/trove-research/internal/store"
	"github.com/DieRekT/trove-research/internal/synthesis"
	"github.com/DieRekT/trove-research/pkg/completion"
)

// env wires the pipeline dependencies for a command invocation.
type env struct {
	Store store.Store
	Orch  *orchestrator.Orchestrator
}

// initEnv builds the store, clients and orchestrator from config.
func initEnv(ctx context.Context) (*env, error) {
	var st store.Store
	var err error
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	var archiveOpts []archive.Option
	if cfg.Archive.BaseURL != "" {
		archiveOpts = append(archiveOpts, archive.WithBaseURL(cfg.Archive.BaseURL))
	}
	if cfg.Archive.RatePerSecond > 0 {
		archiveOpts = append(archiveOpts,
			archive.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Archive.RatePerSecond), 4)))
	}
	archiveClient := archive.NewClient(cfg.Archive.Key, archiveOpts...)

	engine := synthesis.NewEngine(
		completion.NewClient(cfg.Completion.Key, cfg.Completion.Model),
		synthesis.Options{MaxTokens: cfg.Completion.MaxTokens},
	)

	rankOpts := ranking.DefaultOptions()
	if cfg.Pipeline.MinRelevance > 0 {
		rankOpts.MinRelevance = cfg.Pipeline.MinRelevance
	}
	if cfg.Pipeline.TopSources > 0 {
		rankOpts.MaxUsed = cfg.Pipeline.TopSources
	}

	orch := orchestrator.New(st, archiveClient, engine, cache.New(), orchestrator.Config{
		MaxPages:          cfg.Pipeline.MaxPages,
		ImmediateMaxPages: cfg.Pipeline.ImmediateMaxPages,
		DefaultPageSize:   cfg.Pipeline.PageSize,
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		PageTimeout:       time.Duration(cfg.Archive.TimeoutSecs) * time.Second,
		CacheTTL:          time.Duration(cfg.Pipeline.CacheTTLSecs) * time.Second,
		Category:          cfg.Archive.Category,
		Ranking:           rankOpts,
		MaxQuotes:         cfg.Pipeline.MaxQuotes,
		MaxQuoteLen:       cfg.Pipeline.MaxQuoteLen,
	})

	return &env{Store: st, Orch: orch}, nil
}

func (e *env) Close() {
	e.Orch.Wait()
	_ = e.Store.Close()
}
