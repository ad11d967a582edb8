package webclient

import (
	"context"
	"net/http"
	"time"
)

// WebClient abstracts how a page is retrieved. The nethttp backend covers
// plain transfers; the chromedp backend renders JavaScript-built pages in a
// headless browser before handing back the DOM.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)

	Close() error
}

type Request struct {
	Method  string
	URL     string
	Headers http.Header
}

type Response struct {
	Request       *Request
	Headers       http.Header
	Body          []byte
	StatusCode    int
	FinalURL      string
	RedirectCount int
	ContentType   string
	FetchedAt     time.Time
}

// Backend names accepted by the factory.
const (
	BackendNetHTTP  = "nethttp"
	BackendChromeDP = "chromedp"
)

// Config selects and tunes a backend.
type Config struct {
	Backend      string
	Timeout      time.Duration
	MaxRedirects int

	// Chromedp-only knobs.
	IdleAfter time.Duration
	Headless  bool
}

func DefaultConfig() Config {
	return Config{
		Backend:      BackendNetHTTP,
		Timeout:      8 * time.Second,
		MaxRedirects: 10,
		IdleAfter:    2 * time.Second,
		Headless:     true,
	}
}
