// Package harvest drives the parallel paginated fetch over the page
// number space, merging parsed records into the capture store.
package harvest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/fetch"
	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/parse"
)

// Fetcher retrieves one raw listing page.
type Fetcher interface {
	FetchPage(ctx context.Context, page int) (*fetch.Fragment, error)
}

type pageState int

const (
	pagePending pageState = iota
	pageInFlight
	pageDone
	pageFailed
)

// Options configures one harvest run.
type Options struct {
	// Workers bounds the fetch pool. The bound is a fixed configuration
	// value sized to the source's rate tolerance.
	Workers int
	// StartPage is where dispatch begins (resume optimization; dedup
	// keeps overlap harmless). Defaults to 1.
	StartPage int
	// MaxPages is the safety cap on the page space.
	MaxPages int
}

// Result summarizes a completed harvest stage.
type Result struct {
	PagesCompleted  int
	PagesFailed     int
	FailedPages     []int
	RecordsCaptured int
	RecordsSkipped  int
	Outcome         model.RunOutcome
}

// Orchestrator runs the fetch-parse stage over a bounded worker pool.
type Orchestrator struct {
	fetcher Fetcher
	store   *capture.Store
	opts    Options

	mu     sync.Mutex
	states map[int]pageState
	// endAt is the lowest page that reported end-of-pagination; pages at
	// or above it stop being dispatched.
	endAt int

	pagesDone atomic.Int64
	pagesFail atomic.Int64
	captured  atomic.Int64
	skipped   atomic.Int64
}

// New creates an Orchestrator over a fetcher and capture store.
func New(fetcher Fetcher, store *capture.Store, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.StartPage <= 0 {
		opts.StartPage = 1
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 600
	}
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		states:  make(map[int]pageState),
	}
}

// EstimateResumePage guesses the page to resume from given how many
// records a previous run captured. The guess only saves refetching; the
// dedup store guarantees correctness regardless.
func EstimateResumePage(captured, perPageEstimate int) int {
	if perPageEstimate <= 0 {
		perPageEstimate = 20
	}
	return captured/perPageEstimate + 1
}

// Progress returns a non-blocking snapshot of the run so far.
func (o *Orchestrator) Progress() model.Progress {
	return model.Progress{
		Stage:           "scrape",
		PagesCompleted:  int(o.pagesDone.Load()),
		PagesFailed:     int(o.pagesFail.Load()),
		RecordsCaptured: int(o.captured.Load()),
		RecordsSkipped:  int(o.skipped.Load()),
	}
}

// Run dispatches pages in increasing order through the worker pool until
// the end-of-pagination signal or the page cap. A page whose retries are
// exhausted is recorded failed and the run continues past it; any failed
// page downgrades the outcome to partial. Run never returns an error for
// per-page failures, only for a broken capture store.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for page := o.opts.StartPage; page <= o.opts.MaxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		if o.stopped(page) {
			break
		}

		p := page
		o.setState(p, pagePending)
		g.Go(func() error {
			// The end signal may land while this page waited for a pool
			// slot; skip it rather than fetch past the end.
			if o.stopped(p) || gctx.Err() != nil {
				return nil
			}
			o.setState(p, pageInFlight)
			o.processPage(gctx, p)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := o.store.Flush(); err != nil {
		return nil, err
	}

	res := &Result{
		PagesCompleted:  int(o.pagesDone.Load()),
		PagesFailed:     int(o.pagesFail.Load()),
		FailedPages:     o.failedPages(),
		RecordsCaptured: int(o.captured.Load()),
		RecordsSkipped:  int(o.skipped.Load()),
		Outcome:         model.OutcomeSuccess,
	}
	if res.PagesFailed > 0 {
		res.Outcome = model.OutcomePartial
	}

	zap.L().Info("harvest: stage finished",
		zap.Int("pages_completed", res.PagesCompleted),
		zap.Int("pages_failed", res.PagesFailed),
		zap.Int("records_captured", res.RecordsCaptured),
		zap.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

func (o *Orchestrator) processPage(ctx context.Context, page int) {
	frag, err := o.fetcher.FetchPage(ctx, page)
	if err != nil {
		zap.L().Warn("harvest: page fetch failed",
			zap.Int("page", page),
			zap.Error(err),
		)
		o.setState(page, pageFailed)
		o.pagesFail.Add(1)
		return
	}

	parsed, err := parse.Parse(frag.HTML)
	if err != nil {
		zap.L().Warn("harvest: page parse failed",
			zap.Int("page", page),
			zap.Error(err),
		)
		o.setState(page, pageFailed)
		o.pagesFail.Add(1)
		return
	}

	if parsed.End {
		o.markEnd(page)
		o.setState(page, pageDone)
		o.pagesDone.Add(1)
		zap.L().Info("harvest: end of pagination", zap.Int("page", page))
		return
	}

	for _, rec := range parsed.Records {
		added, err := o.store.Append(rec)
		if err != nil {
			// A failing snapshot flush is systemic, not page-local; the
			// remaining records still land in memory and the final Flush
			// surfaces the fault.
			zap.L().Error("harvest: capture append failed", zap.Error(err))
		}
		if added {
			o.captured.Add(1)
		} else {
			o.skipped.Add(1)
		}
	}

	o.setState(page, pageDone)
	o.pagesDone.Add(1)
}

func (o *Orchestrator) setState(page int, st pageState) {
	o.mu.Lock()
	o.states[page] = st
	o.mu.Unlock()
}

func (o *Orchestrator) markEnd(page int) {
	o.mu.Lock()
	if o.endAt == 0 || page < o.endAt {
		o.endAt = page
	}
	o.mu.Unlock()
}

func (o *Orchestrator) stopped(page int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.endAt != 0 && page >= o.endAt
}

func (o *Orchestrator) failedPages() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var pages []int
	for p, st := range o.states {
		if st == pageFailed {
			pages = append(pages, p)
		}
	}
	sort.Ints(pages)
	return pages
}
