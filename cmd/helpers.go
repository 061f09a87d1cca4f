package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/admitdata/harvest-cli/internal/fetch"
	"github.com/admitdata/harvest-cli/internal/normalize"
	"github.com/admitdata/harvest-cli/internal/pipeline"
	"github.com/admitdata/harvest-cli/internal/store"
	"github.com/admitdata/harvest-cli/pkg/anthropic"
)

// pipelineEnv bundles the pipeline with the resources it owns.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
	cache    *normalize.Cache
}

func (e *pipelineEnv) Close() {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not set (HARVEST_STORE_DATABASE_URL)")
	}
	st, err := store.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "connect postgres")
	}
	return st, nil
}

func initClassifier() (normalize.Classifier, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic.key is not set (HARVEST_ANTHROPIC_KEY)")
	}
	client := anthropic.NewClient(cfg.Anthropic.Key)
	return normalize.NewClaudeClassifier(client, cfg.Anthropic), nil
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	classifier, err := initClassifier()
	if err != nil {
		st.Close()
		return nil, err
	}

	cache, err := normalize.OpenCache(cfg.Cache.Path)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "open normalize cache")
	}

	fetcher := fetch.NewClient(cfg.Source, cfg.Scrape)
	p := pipeline.New(cfg, fetcher, classifier, cache, st)
	return &pipelineEnv{Pipeline: p, Store: st, cache: cache}, nil
}
