// Package pipeline chains the harvest, normalize, and load stages into a
// single ingestion run behind the gate.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/config"
	"github.com/admitdata/harvest-cli/internal/harvest"
	"github.com/admitdata/harvest-cli/internal/load"
	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/normalize"
	"github.com/admitdata/harvest-cli/internal/resilience"
	"github.com/admitdata/harvest-cli/internal/store"
)

// Result summarizes a full ingestion run.
type Result struct {
	Outcome   model.RunOutcome `json:"outcome"`
	Harvest   *harvest.Result  `json:"harvest,omitempty"`
	Normalize normalize.Stats  `json:"normalize"`
	Load      load.Stats       `json:"load"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Pipeline runs the three ingestion stages in order.
type Pipeline struct {
	cfg        *config.Config
	fetcher    harvest.Fetcher
	classifier normalize.Classifier
	cache      *normalize.Cache
	store      store.Store

	mu    sync.Mutex
	stage interface{ Progress() model.Progress }
}

// New creates a Pipeline with all stage dependencies.
func New(
	cfg *config.Config,
	fetcher harvest.Fetcher,
	classifier normalize.Classifier,
	cache *normalize.Cache,
	st store.Store,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		classifier: classifier,
		cache:      cache,
		store:      st,
	}
}

// Progress reports the live progress of whichever stage is running.
func (p *Pipeline) Progress() model.Progress {
	p.mu.Lock()
	stage := p.stage
	p.mu.Unlock()
	if stage == nil {
		return model.Progress{}
	}
	return stage.Progress()
}

func (p *Pipeline) setStage(s interface{ Progress() model.Progress }) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
}

// Run executes harvest, normalize, and load in order. A partial harvest
// still normalizes and loads what it captured; the partial outcome
// propagates to the result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L()
	start := time.Now()
	defer p.setStage(nil)

	capStore, err := capture.Open(p.cfg.Scrape.CaptureFile, p.cfg.Scrape.FlushEveryRecords)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: open capture store")
	}

	startPage := harvest.EstimateResumePage(capStore.Len(), 0)
	log.Info("pipeline: harvest starting",
		zap.Int("known_records", capStore.Len()),
		zap.Int("start_page", startPage))

	orch := harvest.New(p.fetcher, capStore, harvest.Options{
		Workers:   p.cfg.Scrape.Workers,
		StartPage: startPage,
		MaxPages:  p.cfg.Scrape.MaxPages,
	})
	p.setStage(orch)

	hres, err := orch.Run(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: harvest")
	}
	log.Info("pipeline: harvest finished",
		zap.Int("pages_completed", hres.PagesCompleted),
		zap.Int("pages_failed", hres.PagesFailed),
		zap.Int("records_captured", hres.RecordsCaptured),
		zap.Int("records_skipped", hres.RecordsSkipped))

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = p.cfg.Normalize.MaxRetries + 1
	retry.OnRetry = resilience.RetryLogger("normalize", "classify")
	norm := normalize.New(p.cache, p.classifier, p.cfg.Normalize.Concurrency, retry)
	p.setStage(norm)

	records, err := norm.Run(ctx, capStore.Records())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: normalize")
	}
	nstats := norm.Stats()
	log.Info("pipeline: normalize finished",
		zap.Int("records", nstats.Records),
		zap.Int("cache_hits", nstats.CacheHits),
		zap.Int("classify_calls", nstats.ClassifyCalls),
		zap.Int("failures", nstats.Failures))

	if out := p.cfg.Normalize.OutputFile; out != "" {
		if err := capture.SaveSnapshot(out, records); err != nil {
			return nil, eris.Wrap(err, "pipeline: save normalized snapshot")
		}
	}

	loader := load.New(p.store, p.cfg.Store.BatchSize)
	p.setStage(loader)

	lstats, err := loader.Run(ctx, records)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load")
	}

	res := &Result{
		Outcome:   hres.Outcome,
		Harvest:   hres,
		Normalize: nstats,
		Load:      lstats,
		Duration:  time.Since(start),
	}
	if lstats.Errors > 0 || nstats.Failures > 0 {
		if res.Outcome == model.OutcomeSuccess {
			res.Outcome = model.OutcomePartial
		}
	}
	log.Info("pipeline: run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.Duration))
	return res, nil
}
