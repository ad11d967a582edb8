package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
	"github.com/phishr/phishr/internal/webclient"
)

// userAgents is the rotation pool. Phishing pages routinely cloak against
// obvious bot agents, so every attempt presents a current desktop browser.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// Fetcher retrieves pages through a webclient backend and converts every
// outcome, success or failure, into a model.FetchResult. Fetch never returns
// an error: downstream scoring needs the typed failure, not an early exit.
type Fetcher struct {
	cfg    Config
	wc     webclient.WebClient
	logger logging.Logger

	uaIndex atomic.Uint64
}

func New(cfg Config, wc webclient.WebClient, logger logging.Logger) (*Fetcher, error) {
	if wc == nil {
		return nil, fmt.Errorf("fetcher: webclient is nil")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("fetcher")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Fetcher{
		cfg:    cfg,
		wc:     wc,
		logger: logger.With(logging.Field{Key: "component", Value: "fetcher"}),
	}, nil
}

// Fetch retrieves one URL with retries. Transport failures and non-200
// statuses are retried after a fixed delay until a 200 arrives or the retry
// budget runs out; malformed URLs fail immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *model.FetchResult {
	result := &model.FetchResult{
		URL:       rawURL,
		FetchedAt: time.Now(),
	}

	if err := validateURL(rawURL); err != nil {
		result.Error = err.Error()
		result.Category = model.FailureBadURL
		return result
	}

	attempts := f.cfg.Retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			f.logger.Debug("retrying fetch",
				logging.Field{Key: "url", Value: rawURL},
				logging.Field{Key: "attempt", Value: attempt + 1})
			select {
			case <-ctx.Done():
				result.Error = ctx.Err().Error()
				result.Category = model.ClassifyError(result.Error)
				return result
			case <-time.After(f.cfg.RetryDelay):
			}
		}

		resp, err := f.attempt(ctx, rawURL)
		if err != nil {
			lastErr = err
			continue
		}

		result.FinalURL = resp.FinalURL
		result.StatusCode = resp.StatusCode
		result.RedirectCount = resp.RedirectCount
		result.ContentType = resp.ContentType
		result.FetchedAt = resp.FetchedAt

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status code %d", resp.StatusCode)
			continue
		}

		result.HTML = resp.Body
		result.Success = true
		return result
	}

	result.Error = lastErr.Error()
	result.Category = model.ClassifyError(result.Error)
	f.logger.Warn("fetch failed",
		logging.Field{Key: "url", Value: rawURL},
		logging.Field{Key: "category", Value: string(result.Category)},
		logging.Field{Key: "error", Value: result.Error})
	return result
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) (*webclient.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("User-Agent", f.nextUserAgent())
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	headers.Set("Accept-Language", "en-US,en;q=0.9")

	return f.wc.Do(attemptCtx, &webclient.Request{
		Method:  http.MethodGet,
		URL:     rawURL,
		Headers: headers,
	})
}

// FetchAll retrieves a batch through a bounded worker pool, preserving input
// order in the result slice. Each worker pauses between tasks so a large
// batch does not hammer one host.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []*model.FetchResult {
	results := make([]*model.FetchResult, len(urls))

	var wg sync.WaitGroup
	sem := make(chan struct{}, f.cfg.MaxConcurrency)

	for i, rawURL := range urls {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = f.Fetch(ctx, rawURL)

			if f.cfg.TaskDelay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(f.cfg.TaskDelay):
				}
			}
		}(i, rawURL)
	}
	wg.Wait()

	// Slots skipped by cancellation still need a typed result.
	for i, r := range results {
		if r == nil {
			results[i] = &model.FetchResult{
				URL:       urls[i],
				FetchedAt: time.Now(),
				Error:     "fetch cancelled",
				Category:  model.FailureGeneric,
			}
		}
	}
	return results
}

// Concurrency reports the configured worker-pool width, so batch callers can
// size their own fan-out to match.
func (f *Fetcher) Concurrency() int {
	return f.cfg.MaxConcurrency
}

func (f *Fetcher) nextUserAgent() string {
	n := f.uaIndex.Add(1)
	return userAgents[int(n-1)%len(userAgents)]
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url format: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url format: missing host")
	}
	return nil
}
