// Package load writes normalized applicant records into the store in
// idempotent batches.
package load

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/store"
)

// Stats summarizes a load run.
type Stats struct {
	Records    int
	Skipped    int
	RowsLoaded int64
	BatchesOK  int
	Errors     int
}

// Loader maps records to applicant rows and upserts them in batches.
type Loader struct {
	store     store.Store
	batchSize int

	mu    sync.Mutex
	stats Stats
}

func New(s store.Store, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Loader{store: s, batchSize: batchSize}
}

// Run upserts all records. A failed batch is counted and logged but does
// not abort the remaining batches; only context cancellation stops early.
func (l *Loader) Run(ctx context.Context, records []model.Record) (Stats, error) {
	if err := l.store.EnsureSchema(ctx); err != nil {
		return l.snapshot(), err
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.SourceID == "" {
			l.bump(func(s *Stats) { s.Skipped++ })
			continue
		}
		rows = append(rows, Row(rec))
	}
	l.bump(func(s *Stats) { s.Records = len(rows) })

	for start := 0; start < len(rows); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return l.snapshot(), err
		}
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := l.store.UpsertApplicants(ctx, rows[start:end])
		if err != nil {
			zap.L().Warn("load: batch failed",
				zap.Int("offset", start),
				zap.Int("size", end-start),
				zap.Error(err))
			l.bump(func(s *Stats) { s.Errors++ })
			continue
		}
		l.bump(func(s *Stats) {
			s.RowsLoaded += n
			s.BatchesOK++
		})
	}

	final := l.snapshot()
	zap.L().Info("load: finished",
		zap.Int("records", final.Records),
		zap.Int("skipped", final.Skipped),
		zap.Int64("rows_loaded", final.RowsLoaded),
		zap.Int("batch_errors", final.Errors))
	return final, nil
}

// Progress reports loader counters in pipeline form.
func (l *Loader) Progress() model.Progress {
	s := l.snapshot()
	return model.Progress{
		Stage:      "load",
		RowsLoaded: int(s.RowsLoaded),
		LoadErrors: s.Errors,
	}
}

func (l *Loader) bump(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func (l *Loader) snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Row converts a record to the column order in store.ApplicantColumns.
// Out-of-range scores and unparseable dates become NULL.
func Row(rec model.Record) []any {
	return []any{
		rec.SourceID,
		rec.Program,
		rec.University,
		rec.Comments,
		parseDate(rec.DateAdded),
		rec.URL,
		string(rec.Status),
		rec.Term,
		string(rec.Residency),
		boundScore(rec.GPA, 0, 5),
		boundScore(rec.GRE, 130, 800),
		boundScore(rec.GREVerbal, 130, 800),
		boundScore(rec.GREWriting, 0, 9),
		rec.Degree,
		rec.NormalizedProgram,
		rec.NormalizedUniversity,
	}
}

var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func boundScore(v *float64, lo, hi float64) *float64 {
	if v == nil || *v < lo || *v > hi {
		return nil
	}
	return v
}
