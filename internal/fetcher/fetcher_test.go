package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
	"github.com/phishr/phishr/internal/webclient"
)

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	wc, err := webclient.NewNetHTTPClient(webclient.DefaultConfig(), logging.NewTestLogger(false), nil)
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	t.Cleanup(func() { wc.Close() })

	f, err := New(cfg, wc, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retries = 0
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.TaskDelay = 0
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	result := newTestFetcher(t, fastConfig()).Fetch(context.Background(), srv.URL)

	if !result.Success {
		t.Fatalf("Success = false, error = %q", result.Error)
	}
	if result.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if string(result.HTML) != "<html>hello</html>" {
		t.Errorf("HTML = %q", result.HTML)
	}
	if result.Category != model.FailureNone {
		t.Errorf("Category = %q, want empty", result.Category)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := newTestFetcher(t, fastConfig()).Fetch(context.Background(), srv.URL)

	if result.Success {
		t.Fatal("Success = true for a 404")
	}
	if result.Category != model.FailureHTTPStatus {
		t.Errorf("Category = %q, want %q", result.Category, model.FailureHTTPStatus)
	}
	if result.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", result.StatusCode)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // port now refuses connections

	result := newTestFetcher(t, fastConfig()).Fetch(context.Background(), url)

	if result.Success {
		t.Fatal("Success = true against a closed port")
	}
	if result.Category != model.FailureRefused {
		t.Errorf("Category = %q, want %q", result.Category, model.FailureRefused)
	}
}

func TestFetchMalformedURL(t *testing.T) {
	f := newTestFetcher(t, fastConfig())

	for _, raw := range []string{"not-a-url", "ftp://example.com/file", "http://"} {
		result := f.Fetch(context.Background(), raw)
		if result.Success {
			t.Errorf("Fetch(%q) succeeded", raw)
		}
		if result.Category != model.FailureBadURL {
			t.Errorf("Fetch(%q) category = %q, want %q", raw, result.Category, model.FailureBadURL)
		}
	}
}

func TestFetchRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the first connection mid-response.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Retries = 1
	result := newTestFetcher(t, cfg).Fetch(context.Background(), srv.URL)

	if !result.Success {
		t.Fatalf("Success = false after retry, error = %q", result.Error)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestFetchRetriesHTTPError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Retries = 2
	result := newTestFetcher(t, cfg).Fetch(context.Background(), srv.URL)

	if result.Success {
		t.Fatal("Success = true for a persistent 500")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3 (retries + 1)", got)
	}
	if result.Category != model.FailureHTTPStatus {
		t.Errorf("Category = %q, want %q", result.Category, model.FailureHTTPStatus)
	}
	if result.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", result.StatusCode)
	}
}

func TestFetchRecoversAfterHTTPError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("back up"))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Retries = 1
	result := newTestFetcher(t, cfg).Fetch(context.Background(), srv.URL)

	if !result.Success {
		t.Fatalf("Success = false after the host recovered, error = %q", result.Error)
	}
	if string(result.HTML) != "back up" {
		t.Errorf("HTML = %q", result.HTML)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestFetchNegativeRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := fastConfig()
	cfg.Retries = -5
	result := newTestFetcher(t, cfg).Fetch(context.Background(), url)

	if result.Success {
		t.Fatal("Success = true against a closed port")
	}
	if result.Category != model.FailureRefused {
		t.Errorf("Category = %q, want %q", result.Category, model.FailureRefused)
	}
}

func TestFetchAllPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	urls := []string{
		srv.URL + "/0",
		"not-a-url",
		srv.URL + "/2",
	}

	cfg := fastConfig()
	cfg.MaxConcurrency = 2
	results := newTestFetcher(t, cfg).FetchAll(context.Background(), urls)

	if len(results) != len(urls) {
		t.Fatalf("got %d results, want %d", len(results), len(urls))
	}
	for i, r := range results {
		if r.URL != urls[i] {
			t.Errorf("results[%d].URL = %q, want %q", i, r.URL, urls[i])
		}
	}
	if !results[0].Success || string(results[0].HTML) != "/0" {
		t.Errorf("results[0] = %+v, want body /0", results[0])
	}
	if results[1].Success || results[1].Category != model.FailureBadURL {
		t.Errorf("results[1] should be a malformed-url failure, got %+v", results[1])
	}
	if !results[2].Success || string(results[2].HTML) != "/2" {
		t.Errorf("results[2] = %+v, want body /2", results[2])
	}
}

func TestUserAgentRotation(t *testing.T) {
	seen := make(map[string]bool)
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		seen[r.Header.Get("User-Agent")] = true
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxConcurrency = 1
	f := newTestFetcher(t, cfg)
	for i := 0; i < len(userAgents); i++ {
		f.Fetch(context.Background(), srv.URL)
	}

	if len(seen) != len(userAgents) {
		t.Errorf("saw %d distinct agents over %d fetches, want %d", len(seen), count.Load(), len(userAgents))
	}
}
