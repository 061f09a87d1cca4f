package harvest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/fetch"
	"github.com/admitdata/harvest-cli/internal/model"
)

// pageHTML renders a synthetic results page with n records whose source
// IDs start at firstID. n == 0 renders the end-of-pagination page.
func pageHTML(n, firstID int) []byte {
	html := "<html><body><table><tbody>"
	for i := 0; i < n; i++ {
		id := firstID + i
		html += fmt.Sprintf(`<tr>
			<td>University %d</td>
			<td><span>Program %d</span><span>PhD</span></td>
			<td>January 2, 2026</td>
			<td>Accepted</td>
			<td><a href="/result/%d">Open</a></td>
		</tr>`, id, id, id)
	}
	html += "</tbody></table></body></html>"
	return []byte(html)
}

// stubFetcher serves fixed pages and can fail specific page numbers.
type stubFetcher struct {
	pages map[int][]byte
	fail  map[int]bool
	calls atomic.Int64
}

func (f *stubFetcher) FetchPage(_ context.Context, page int) (*fetch.Fragment, error) {
	f.calls.Add(1)
	if f.fail[page] {
		return nil, eris.Errorf("page %d permanently down", page)
	}
	html, ok := f.pages[page]
	if !ok {
		html = pageHTML(0, 0)
	}
	return &fetch.Fragment{Page: page, HTML: html}, nil
}

func newStore(t *testing.T) *capture.Store {
	t.Helper()
	s, err := capture.Open(filepath.Join(t.TempDir(), "capture.json"), 0)
	require.NoError(t, err)
	return s
}

func TestRun_ThreePageScenario(t *testing.T) {
	// 10, 10, then the end signal: exactly 20 records captured.
	f := &stubFetcher{pages: map[int][]byte{
		1: pageHTML(10, 100),
		2: pageHTML(10, 200),
		3: pageHTML(0, 0),
	}}
	store := newStore(t)

	res, err := New(f, store, Options{Workers: 2, MaxPages: 50}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 20, res.RecordsCaptured)
	assert.Equal(t, 0, res.PagesFailed)
	assert.Equal(t, 20, store.Len())
}

func TestRun_PartialFailureTolerance(t *testing.T) {
	pages := map[int][]byte{}
	for p := 1; p <= 9; p++ {
		pages[p] = pageHTML(5, p*100)
	}
	pages[10] = pageHTML(0, 0)

	f := &stubFetcher{pages: pages, fail: map[int]bool{7: true}}
	store := newStore(t)

	res, err := New(f, store, Options{Workers: 3, MaxPages: 50}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.OutcomePartial, res.Outcome)
	assert.Equal(t, 1, res.PagesFailed)
	assert.Equal(t, []int{7}, res.FailedPages)
	// 8 successful record pages x 5 records.
	assert.Equal(t, 40, res.RecordsCaptured)
}

func TestRun_ResumeSkipsKnownIDs(t *testing.T) {
	f := &stubFetcher{pages: map[int][]byte{
		1: pageHTML(5, 100),
		2: pageHTML(0, 0),
	}}

	store := newStore(t)
	// Pre-capture two of page 1's records, as a prior interrupted run
	// would have.
	for _, id := range []string{"100", "101"} {
		_, err := store.Append(model.Record{SourceID: id, URL: "https://www.thegradcafe.com/result/" + id})
		require.NoError(t, err)
	}

	res, err := New(f, store, Options{Workers: 1, MaxPages: 50}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.RecordsCaptured)
	assert.Equal(t, 2, res.RecordsSkipped)
	assert.Equal(t, 5, store.Len(), "resumed run converges to the full set without duplicates")
}

func TestRun_MaxPageCap(t *testing.T) {
	// Every page has records; dispatch must stop at the cap.
	f := &stubFetcher{pages: map[int][]byte{}}
	for p := 1; p <= 100; p++ {
		f.pages[p] = pageHTML(2, p*1000)
	}
	store := newStore(t)

	res, err := New(f, store, Options{Workers: 2, MaxPages: 5}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.PagesCompleted)
	assert.Equal(t, 10, res.RecordsCaptured)
	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
}

func TestRun_EndSignalExactlyAtCap(t *testing.T) {
	f := &stubFetcher{pages: map[int][]byte{
		1: pageHTML(2, 10),
		2: pageHTML(2, 20),
		3: pageHTML(0, 0),
	}}
	store := newStore(t)

	res, err := New(f, store, Options{Workers: 1, MaxPages: 3}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.RecordsCaptured)
	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
}

func TestRun_StartPageResumeEstimate(t *testing.T) {
	assert.Equal(t, 1, EstimateResumePage(0, 20))
	assert.Equal(t, 1, EstimateResumePage(19, 20))
	assert.Equal(t, 2, EstimateResumePage(20, 20))
	assert.Equal(t, 6, EstimateResumePage(100, 20))
	assert.Equal(t, 3, EstimateResumePage(40, 0), "zero estimate falls back to default")
}

func TestProgress_Snapshot(t *testing.T) {
	f := &stubFetcher{pages: map[int][]byte{
		1: pageHTML(3, 1),
		2: pageHTML(0, 0),
	}}
	store := newStore(t)
	o := New(f, store, Options{Workers: 1, MaxPages: 10})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	p := o.Progress()
	assert.Equal(t, "scrape", p.Stage)
	assert.Equal(t, 2, p.PagesCompleted)
	assert.Equal(t, 3, p.RecordsCaptured)
}
