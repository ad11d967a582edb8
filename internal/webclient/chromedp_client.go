package webclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/phishr/phishr/internal/logging"
)

// ChromeDPClient renders pages in a headless browser before returning the
// DOM. Phishing kits increasingly assemble the page entirely in JavaScript,
// which the nethttp backend cannot see.
type ChromeDPClient struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	idleAfter   time.Duration
	logger      logging.Logger
}

func NewChromeDPClient(cfg Config, logger logging.Logger) (*ChromeDPClient, error) {
	if logger == nil {
		logger = logging.NewStdoutLogger("webclient")
	}
	idleAfter := cfg.IdleAfter
	if idleAfter <= 0 {
		idleAfter = DefaultConfig().IdleAfter
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	componentLogger := logger.With(logging.Field{Key: "backend", Value: BackendChromeDP})
	componentLogger.Info("created chromedp webclient",
		logging.Field{Key: "idle_after", Value: idleAfter.String()})

	return &ChromeDPClient{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		idleAfter:   idleAfter,
		logger:      componentLogger,
	}, nil
}

// waitNetworkIdle closes the returned channel once no network request has
// been in flight for idleAfter. The initial timer covers pages that issue no
// subresource requests at all.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) <-chan struct{} {
	idleChan := make(chan struct{})
	var activeReqs int32
	var timerMutex sync.Mutex
	var timer *time.Timer
	var once sync.Once

	startTimer := func() {
		timerMutex.Lock()
		defer timerMutex.Unlock()

		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) == 0 {
				once.Do(func() { close(idleChan) })
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				startTimer()
			}
		}
	})

	startTimer()
	return idleChan
}

// Do navigates to the URL, waits for the network to settle, and captures the
// rendered DOM. The document status code and redirect hops are read off the
// CDP network events.
func (cdc *ChromeDPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}

	tabCtx, tabCancel := chromedp.NewContext(cdc.allocCtx)
	defer tabCancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}

	idleChan := waitNetworkIdle(tabCtx, cdc.idleAfter)

	var docMu sync.Mutex
	statusCode := 0
	finalURL := req.URL
	redirectCount := 0
	contentType := ""

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Type == network.ResourceTypeDocument && e.RedirectResponse != nil {
				docMu.Lock()
				redirectCount++
				docMu.Unlock()
			}
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				docMu.Lock()
				statusCode = int(e.Response.Status)
				finalURL = e.Response.URL
				contentType = e.Response.MimeType
				docMu.Unlock()
			}
		}
	})

	cdc.logger.Debug("rendering page", logging.Field{Key: "url", Value: req.URL})

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(req.URL),
	); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	select {
	case <-idleChan:
	case <-tabCtx.Done():
		return nil, fmt.Errorf("wait network idle: %w", tabCtx.Err())
	}

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return nil, fmt.Errorf("capture dom: %w", err)
	}

	docMu.Lock()
	defer docMu.Unlock()
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	return &Response{
		Request:       req,
		Body:          []byte(html),
		Headers:       http.Header{"Content-Type": []string{contentType}},
		StatusCode:    statusCode,
		FinalURL:      finalURL,
		RedirectCount: redirectCount,
		ContentType:   contentType,
		FetchedAt:     time.Now(),
	}, nil
}

func (cdc *ChromeDPClient) Close() error {
	cdc.logger.Info("closing chromedp webclient")
	cdc.allocCancel()
	return nil
}
