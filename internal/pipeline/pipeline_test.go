package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/config"
	"github.com/admitdata/harvest-cli/internal/fetch"
	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/normalize"
	"github.com/admitdata/harvest-cli/internal/store"
)

func pageHTML(n, firstID int) []byte {
	html := "<html><body><table><tbody>"
	for i := 0; i < n; i++ {
		id := firstID + i
		html += fmt.Sprintf(`<tr>
			<td>University %d</td>
			<td><span>Program %d</span><span>Masters</span></td>
			<td>January 2, 2026</td>
			<td>Rejected</td>
			<td><a href="/result/%d">Open</a></td>
		</tr>`, id, id, id)
	}
	html += "</tbody></table></body></html>"
	return []byte(html)
}

type stubFetcher struct {
	pages map[int][]byte
	fail  map[int]bool
}

func (f *stubFetcher) FetchPage(_ context.Context, page int) (*fetch.Fragment, error) {
	if f.fail[page] {
		return nil, eris.Errorf("page %d down", page)
	}
	html, ok := f.pages[page]
	if !ok {
		html = pageHTML(0, 0)
	}
	return &fetch.Fragment{Page: page, HTML: html}, nil
}

type stubClassifier struct {
	calls atomic.Int64
}

func (c *stubClassifier) Classify(_ context.Context, text string) (normalize.Labels, error) {
	c.calls.Add(1)
	return normalize.Labels{Program: "Normalized " + text, University: "Some University"}, nil
}

type fakeStore struct {
	store.Store

	rows [][]any
}

func (f *fakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeStore) UpsertApplicants(ctx context.Context, rows [][]any) (int64, error) {
	f.rows = append(f.rows, rows...)
	return int64(len(rows)), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Scrape: config.ScrapeConfig{
			Workers:           2,
			MaxPages:          50,
			CaptureFile:       filepath.Join(dir, "capture.json"),
			FlushEveryRecords: 0,
		},
		Normalize: config.NormalizeConfig{
			Concurrency: 2,
			MaxRetries:  1,
			OutputFile:  filepath.Join(dir, "normalized.json"),
		},
		Store: config.StoreConfig{BatchSize: 7},
	}
}

func openTestCache(t *testing.T) *normalize.Cache {
	t.Helper()
	c, err := normalize.OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	f := &stubFetcher{pages: map[int][]byte{
		1: pageHTML(10, 100),
		2: pageHTML(10, 200),
		3: pageHTML(0, 0),
	}}
	cls := &stubClassifier{}
	st := &fakeStore{}

	p := New(cfg, f, cls, openTestCache(t), st)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 20, res.Harvest.RecordsCaptured)
	assert.Equal(t, 20, res.Normalize.Records)
	assert.Equal(t, int64(20), res.Load.RowsLoaded)
	assert.Len(t, st.rows, 20)

	// Distinct program texts on every row, so each required a classify call.
	assert.Equal(t, int64(20), cls.calls.Load())

	// Normalized snapshot written alongside the capture file.
	recs, err := capture.LoadSnapshot(cfg.Normalize.OutputFile)
	require.NoError(t, err)
	assert.Len(t, recs, 20)
	require.NotNil(t, recs[0].NormalizedUniversity)
	assert.Equal(t, "Some University", *recs[0].NormalizedUniversity)
}

func TestRun_PartialHarvestStillLoads(t *testing.T) {
	cfg := testConfig(t)
	f := &stubFetcher{
		pages: map[int][]byte{
			1: pageHTML(4, 100),
			2: pageHTML(4, 200),
			3: pageHTML(0, 0),
		},
		fail: map[int]bool{2: true},
	}
	st := &fakeStore{}

	p := New(cfg, f, &stubClassifier{}, openTestCache(t), st)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomePartial, res.Outcome)
	assert.Equal(t, 4, res.Harvest.RecordsCaptured)
	assert.Len(t, st.rows, 4)
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	f := &stubFetcher{pages: map[int][]byte{
		1: pageHTML(3, 100),
		2: pageHTML(0, 0),
	}}
	cls := &stubClassifier{}
	cache := openTestCache(t)
	st := &fakeStore{}

	p := New(cfg, f, cls, cache, st)
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	firstCalls := cls.calls.Load()

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	// Nothing new captured, normalization resolved from cache.
	assert.Equal(t, 0, res.Harvest.RecordsCaptured)
	assert.Equal(t, 3, res.Harvest.RecordsSkipped)
	assert.Equal(t, firstCalls, cls.calls.Load())
	assert.Equal(t, 3, res.Normalize.CacheHits)

	// Capture file survives for the next resume.
	_, err = os.Stat(cfg.Scrape.CaptureFile)
	require.NoError(t, err)
}

func TestProgress_IdleIsEmpty(t *testing.T) {
	p := New(testConfig(t), &stubFetcher{}, &stubClassifier{}, nil, &fakeStore{})
	assert.Equal(t, model.Progress{}, p.Progress())
}
