// Package normalize maps noisy program/university text to canonical
// labels through a durable cache in front of an expensive classification
// call.
package normalize

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/resilience"
)

// Classifier is the external classification capability: free text in,
// label pair out. It may take seconds per call and carries no retry
// contract of its own.
type Classifier interface {
	Classify(ctx context.Context, text string) (Labels, error)
}

// Stats counts what the normalize stage did.
type Stats struct {
	Records       int
	CacheHits     int
	ClassifyCalls int
	Failures      int
}

// Normalizer enriches records with normalized labels.
type Normalizer struct {
	cache       *Cache
	classifier  Classifier
	concurrency int
	retry       resilience.RetryConfig

	mu    sync.Mutex
	stats Stats
}

// New builds a Normalizer. Concurrency bounds how many classification
// calls run at once.
func New(cache *Cache, classifier Classifier, concurrency int, retry resilience.RetryConfig) *Normalizer {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Normalizer{
		cache:       cache,
		classifier:  classifier,
		concurrency: concurrency,
		retry:       retry,
	}
}

// inputText builds the classification input for a record. Records with
// neither program nor university text cannot be normalized.
func inputText(rec model.Record) string {
	var parts []string
	if rec.Program != nil && *rec.Program != "" {
		parts = append(parts, *rec.Program)
	}
	if rec.University != nil && *rec.University != "" {
		parts = append(parts, *rec.University)
	}
	return strings.Join(parts, ", ")
}

// Stats returns a snapshot of the stage counters.
func (n *Normalizer) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Progress reports the stage counters as a run progress snapshot.
func (n *Normalizer) Progress() model.Progress {
	s := n.Stats()
	return model.Progress{
		Stage:          "normalize",
		CacheHits:      s.CacheHits,
		ClassifyCalls:  s.ClassifyCalls,
		ClassifyFailed: s.Failures,
	}
}

// Run enriches all records. Records sharing identical folded text share
// one classification call per run; classification failure leaves the
// normalized fields nil and is counted, never raised.
func (n *Normalizer) Run(ctx context.Context, records []model.Record) ([]model.Record, error) {
	n.mu.Lock()
	n.stats = Stats{Records: len(records)}
	n.mu.Unlock()

	// Group record indexes by folded input text.
	groups := make(map[string][]int)
	texts := make(map[string]string) // key → representative raw text
	for i, rec := range records {
		text := inputText(rec)
		if text == "" {
			continue
		}
		key := CacheKey(text)
		if _, ok := groups[key]; !ok {
			texts[key] = text
		}
		groups[key] = append(groups[key], i)
	}

	// Resolve each distinct text once: cache first, classifier on miss.
	resolved := make(map[string]Labels)
	var (
		resolvedMu sync.Mutex
		missKeys   []string
	)
	for key, raw := range texts {
		labels, hit, err := n.cache.Get(ctx, raw)
		if err != nil {
			return nil, err
		}
		if hit {
			resolved[key] = labels
			n.bump(func(s *Stats) { s.CacheHits += len(groups[key]) })
			continue
		}
		missKeys = append(missKeys, key)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for _, key := range missKeys {
		key := key
		raw := texts[key]
		g.Go(func() error {
			n.bump(func(s *Stats) { s.ClassifyCalls++ })
			labels, err := resilience.DoVal(gctx, n.retry, func(ctx context.Context) (Labels, error) {
				return n.classifier.Classify(ctx, raw)
			})
			if err != nil {
				// Non-fatal: the records pass through unnormalized.
				n.bump(func(s *Stats) { s.Failures++ })
				zap.L().Warn("normalize: classification failed",
					zap.String("text", raw),
					zap.Error(err),
				)
				return nil
			}
			if err := n.cache.Put(gctx, raw, labels); err != nil {
				zap.L().Warn("normalize: cache write failed", zap.Error(err))
			}
			resolvedMu.Lock()
			resolved[key] = labels
			resolvedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Enrich.
	out := make([]model.Record, len(records))
	copy(out, records)
	for key, idxs := range groups {
		labels, ok := resolved[key]
		if !ok {
			continue
		}
		for _, i := range idxs {
			if labels.Program != "" {
				p := labels.Program
				out[i].NormalizedProgram = &p
			}
			if labels.University != "" {
				u := labels.University
				out[i].NormalizedUniversity = &u
			}
		}
	}

	s := n.Stats()
	zap.L().Info("normalize: stage finished",
		zap.Int("records", s.Records),
		zap.Int("cache_hits", s.CacheHits),
		zap.Int("classify_calls", s.ClassifyCalls),
		zap.Int("failures", s.Failures),
	)
	return out, nil
}

func (n *Normalizer) bump(f func(*Stats)) {
	n.mu.Lock()
	f(&n.stats)
	n.mu.Unlock()
}
