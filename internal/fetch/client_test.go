package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/admitdata/harvest-cli/internal/config"
	"github.com/admitdata/harvest-cli/internal/resilience"
)

func testClient(baseURL string, maxRetries int) *Client {
	c := NewClient(
		config.SourceConfig{
			BaseURL:     baseURL,
			PerPage:     50,
			SurveyParam: "52",
			UserAgent:   "test-agent",
		},
		config.ScrapeConfig{
			TimeoutSecs: 2,
			MaxRetries:  maxRetries,
			RatePerSec:  1000,
		},
	)
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = 5 * time.Millisecond
	c.retry.OnRetry = nil
	return c
}

func TestPageURL(t *testing.T) {
	c := testClient("https://example.com/survey/index.php", 0)
	u := c.PageURL(7)
	for _, want := range []string{"page=7", "pp=50", "p=52", "t=a", "sort=newest"} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %q missing %q", u, want)
		}
	}
}

func TestFetchPage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("unexpected user agent %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "3" {
			t.Errorf("expected page=3, got %q", got)
		}
		w.Write([]byte("<html><tbody></tbody></html>"))
	}))
	defer srv.Close()

	frag, err := testClient(srv.URL, 2).FetchPage(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frag.Page != 3 {
		t.Errorf("expected page 3, got %d", frag.Page)
	}
	if len(frag.HTML) == 0 {
		t.Error("expected body bytes")
	}
}

func TestFetchPage_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 4).FetchPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchPage_FatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 4).FetchPage(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !resilience.IsFatal(err) {
		t.Errorf("404 should be fatal, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("fatal response should not retry, got %d calls", calls.Load())
	}
}

func TestFetchPage_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).FetchPage(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls.Load())
	}
}
