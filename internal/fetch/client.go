// Package fetch issues paginated HTTP requests against the listings site.
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/admitdata/harvest-cli/internal/config"
	"github.com/admitdata/harvest-cli/internal/resilience"
)

// maxBodyBytes bounds how much of a listing page is read.
const maxBodyBytes = 2 << 20

// Fragment is one page's unparsed listing chunk.
type Fragment struct {
	Page int
	HTML []byte
}

// Client fetches listing pages. It holds no state beyond per-request
// retry and pacing; callers serialize results explicitly.
type Client struct {
	http        *http.Client
	baseURL     string
	perPage     int
	surveyParam string
	userAgent   string
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
}

// NewClient builds a Client from source and scrape configuration.
func NewClient(src config.SourceConfig, scrape config.ScrapeConfig) *Client {
	timeout := time.Duration(scrape.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	rps := scrape.RatePerSec
	if rps <= 0 {
		rps = 4.0
	}

	retry := resilience.DefaultRetryConfig()
	if scrape.MaxRetries > 0 {
		retry.MaxAttempts = scrape.MaxRetries + 1
	}
	retry.OnRetry = resilience.RetryLogger("fetch", "page")

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		baseURL:     src.BaseURL,
		perPage:     src.PerPage,
		surveyParam: src.SurveyParam,
		userAgent:   src.UserAgent,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		retry:       retry,
	}
}

// PageURL builds the survey URL for a page number. The site paginates via
// page= while p= stays constant.
func (c *Client) PageURL(page int) string {
	q := url.Values{}
	q.Set("q", "")
	q.Set("t", "a")
	q.Set("pp", strconv.Itoa(c.perPage))
	q.Set("p", c.surveyParam)
	q.Set("page", strconv.Itoa(page))
	q.Set("sort", "newest")
	return c.baseURL + "?" + q.Encode()
}

// FetchPage retrieves one listing page, retrying transient failures with
// bounded backoff. 4xx responses other than 408/429 are fatal and not
// retried; the caller abandons the page.
func (c *Client) FetchPage(ctx context.Context, page int) (*Fragment, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Fragment, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limit wait")
		}
		return c.fetchOnce(ctx, page)
	})
}

func (c *Client) fetchOnce(ctx context.Context, page int) (*Fragment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PageURL(page), nil)
	if err != nil {
		return nil, resilience.NewFatalError(eris.Wrapf(err, "fetch: build request for page %d", page))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors are classified by resilience.IsTransient.
		return nil, eris.Wrapf(err, "fetch: page %d", page)
	}
	defer func() { _ = resp.Body.Close() }()

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: page %d returned status %d", page, resp.StatusCode),
			resp.StatusCode,
		)
	}
	if resp.StatusCode >= 400 {
		return nil, resilience.NewFatalError(
			eris.Errorf("fetch: page %d returned status %d", page, resp.StatusCode),
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read page %d", page)
	}

	return &Fragment{Page: page, HTML: body}, nil
}
