// Package reputation queries external threat intelligence feeds for a URL's
// standing. Reports are advisory: fusion folds them in by ordinal max, and a
// feed being down or unconfigured never fails a scan.
package reputation

import (
	"context"
	"sync"
	"time"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

// Provider is one external reputation source.
type Provider interface {
	// Name identifies the provider in reports and logs.
	Name() string
	// Enabled reports whether the provider is configured (API key present).
	Enabled() bool
	// GetReport fetches the provider's view of the URL. Implementations
	// return a report with Status "error" rather than an error value when
	// the upstream call fails; the scan continues either way.
	GetReport(ctx context.Context, rawURL string) model.ReputationReport
}

// Config holds provider credentials and the shared per-provider timeout.
type Config struct {
	VirusTotalAPIKey string
	Timeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
	}
}

// Aggregator fans a lookup out to every enabled provider in parallel, each
// bounded by its own timeout.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	logger    logging.Logger
}

func NewAggregator(cfg Config, logger logging.Logger, providers ...Provider) *Aggregator {
	if logger == nil {
		logger = logging.NewStdoutLogger("reputation")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	enabled := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Enabled() {
			enabled = append(enabled, p)
		} else {
			logger.Info("reputation provider disabled",
				logging.Field{Key: "provider", Value: p.Name()})
		}
	}

	return &Aggregator{
		providers: enabled,
		timeout:   timeout,
		logger:    logger.With(logging.Field{Key: "component", Value: "reputation"}),
	}
}

// Enabled reports whether at least one provider is configured.
func (a *Aggregator) Enabled() bool {
	return len(a.providers) > 0
}

// Lookup queries all enabled providers concurrently. The result order
// matches provider registration order regardless of completion order.
func (a *Aggregator) Lookup(ctx context.Context, rawURL string) []model.ReputationReport {
	if len(a.providers) == 0 {
		return nil
	}

	reports := make([]model.ReputationReport, len(a.providers))
	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			reports[i] = p.GetReport(pctx, rawURL)
		}(i, p)
	}
	wg.Wait()

	for _, r := range reports {
		if r.Status == "error" {
			a.logger.Warn("reputation provider failed",
				logging.Field{Key: "provider", Value: r.Provider},
				logging.Field{Key: "error", Value: r.Error})
		}
	}
	return reports
}

// MaxThreatLevel returns the highest threat level across successful reports,
// ThreatUnknown when none succeeded.
func MaxThreatLevel(reports []model.ReputationReport) model.ThreatLevel {
	level := model.ThreatUnknown
	for _, r := range reports {
		if r.Status != "success" {
			continue
		}
		level = model.MaxThreat(level, r.ThreatLevel)
	}
	return level
}
