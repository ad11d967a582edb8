// Package fusion combines the lexical, content-classifier and reputation
// signals into one verdict per URL. Signals are best-effort: the engine
// degrades through Scored -> PartialScored -> Failed instead of erroring out.
package fusion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phishr/phishr/internal/content"
	"github.com/phishr/phishr/internal/ensemble"
	"github.com/phishr/phishr/internal/fetcher"
	"github.com/phishr/phishr/internal/lexical"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
	"github.com/phishr/phishr/internal/pipeline"
	"github.com/phishr/phishr/internal/reputation"
)

// Signal weighting for the final confidence when both classifier and lexical
// scores are available. A lone signal is used unscaled.
const (
	classifierWeight = 0.7
	lexicalWeight    = 0.3
)

// Lexical-only thresholds applied when the page could not be fetched.
const (
	lexicalHighThreshold   = 0.7
	lexicalMediumThreshold = 0.4
)

// Probability cutoffs for the classifier-backed derivation.
const (
	phishingHighThreshold = 0.7
	legitimateSafeCutoff  = 0.9
	lexicalOverrideCutoff = 0.6
)

// Engine wires the scoring pipeline together. The classifier and reputation
// members are optional; the lexical analyzer and fetcher are not.
type Engine struct {
	lexical    *lexical.Analyzer
	fetcher    *fetcher.Fetcher
	extractor  *content.Extractor
	normalizer *pipeline.Pipeline
	classifier *ensemble.Model
	reputation *reputation.Aggregator
	logger     logging.Logger
}

func NewEngine(
	lex *lexical.Analyzer,
	f *fetcher.Fetcher,
	ex *content.Extractor,
	norm *pipeline.Pipeline,
	clf *ensemble.Model,
	rep *reputation.Aggregator,
	logger logging.Logger,
) (*Engine, error) {
	if lex == nil || f == nil || ex == nil {
		return nil, fmt.Errorf("fusion: lexical analyzer, fetcher and extractor are required")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("fusion")
	}
	return &Engine{
		lexical:    lex,
		fetcher:    f,
		extractor:  ex,
		normalizer: norm,
		classifier: clf,
		reputation: rep,
		logger:     logger.With(logging.Field{Key: "component", Value: "fusion"}),
	}, nil
}

// ModelName returns the loaded classifier's name, empty when none is loaded.
func (e *Engine) ModelName() string {
	if e.classifier == nil {
		return ""
	}
	return e.classifier.Name
}

// ModelClasses returns the loaded classifier's label space, nil when none is
// loaded.
func (e *Engine) ModelClasses() []model.Class {
	if e.classifier == nil {
		return nil
	}
	return e.classifier.Classes
}

// ClassifyURL scores one URL end to end. It never returns an error: any
// panic or unexpected failure becomes a Failed verdict with a structured
// explanation.
func (e *Engine) ClassifyURL(ctx context.Context, rawURL string) (verdict *model.Verdict) {
	scanID := uuid.New().String()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unexpected error: %v", r)
			e.logger.Error("scan panicked",
				logging.Field{Key: "scan_id", Value: scanID},
				logging.Field{Key: "url", Value: rawURL},
				logging.Field{Key: "error", Value: msg})
			verdict = e.failedVerdict(scanID, rawURL, msg)
		}
	}()

	e.logger.Info("scan started",
		logging.Field{Key: "scan_id", Value: scanID},
		logging.Field{Key: "url", Value: rawURL})

	// Lexical signal always runs; it needs nothing but the string.
	lexFeatures, lexScore := e.lexical.Analyze(ctx, rawURL)

	// Fetch and reputation proceed concurrently, both best-effort.
	var (
		wg      sync.WaitGroup
		fetched *model.FetchResult
		reports []model.ReputationReport
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		fetched = e.fetcher.Fetch(ctx, rawURL)
	}()
	if e.reputation != nil && e.reputation.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports = e.reputation.Lookup(ctx, rawURL)
		}()
	}
	wg.Wait()

	verdict = &model.Verdict{
		ScanID:          scanID,
		URL:             rawURL,
		LexicalFeatures: lexFeatures,
		LexicalScore:    lexScore,
		Reputation:      reports,
		ScannedAt:       time.Now(),
	}

	if !fetched.Success {
		e.partialVerdict(verdict, fetched)
	} else {
		e.scoredVerdict(verdict, fetched)
	}

	// Reputation only ever raises the level.
	if repLevel := reputation.MaxThreatLevel(reports); repLevel != model.ThreatUnknown {
		verdict.ThreatLevel = model.MaxThreat(verdict.ThreatLevel, repLevel)
	}

	e.logger.Info("scan finished",
		logging.Field{Key: "scan_id", Value: scanID},
		logging.Field{Key: "url", Value: rawURL},
		logging.Field{Key: "state", Value: string(verdict.State)},
		logging.Field{Key: "threat_level", Value: string(verdict.ThreatLevel)},
		logging.Field{Key: "confidence", Value: verdict.FinalConfidence})
	return verdict
}

// partialVerdict derives a lexical-only verdict for an unreachable page.
func (e *Engine) partialVerdict(v *model.Verdict, fetched *model.FetchResult) {
	v.State = model.StatePartialScored
	v.Error = fmt.Sprintf("content fetch failed: %s", fetched.Error)
	v.Explanation = model.Explain(fetched.Category)
	v.FinalConfidence = v.LexicalScore
	v.ThreatLevel = lexicalThreatLevel(v.LexicalScore)
}

// scoredVerdict runs the content pipeline and the classifier-backed
// derivation. Classifier absence degrades to the lexical thresholds but the
// scan still counts as fully scored.
func (e *Engine) scoredVerdict(v *model.Verdict, fetched *model.FetchResult) {
	v.State = model.StateScored

	if e.classifier == nil || e.normalizer == nil || !e.normalizer.Fitted() {
		v.FinalConfidence = v.LexicalScore
		v.ThreatLevel = lexicalThreatLevel(v.LexicalScore)
		return
	}

	features := e.extractor.Extract(fetched)
	vec, err := e.normalizer.Transform(features)
	if err != nil {
		// Fitted() held above, so this is a schema-level inconsistency.
		panic(fmt.Sprintf("transform features: %v", err))
	}

	result, err := e.classifier.Predict(vec)
	if err != nil {
		v.FinalConfidence = v.LexicalScore
		v.ThreatLevel = lexicalThreatLevel(v.LexicalScore)
		return
	}

	v.ClassName = result.PredictedClass
	v.Probabilities = result.Probabilities
	classProb := result.MaxProbability()
	v.FinalConfidence = classifierWeight*classProb + lexicalWeight*v.LexicalScore
	v.ThreatLevel = deriveThreatLevel(result.PredictedClass, classProb, v.LexicalScore)
}

func (e *Engine) failedVerdict(scanID, rawURL, msg string) *model.Verdict {
	cat := model.ClassifyError(msg)
	return &model.Verdict{
		ScanID:      scanID,
		URL:         rawURL,
		State:       model.StateFailed,
		ThreatLevel: model.ThreatUnknown,
		Error:       msg,
		Explanation: model.Explain(cat),
		ScannedAt:   time.Now(),
	}
}

// lexicalThreatLevel maps the lexical risk score alone onto the scale.
func lexicalThreatLevel(score float64) model.ThreatLevel {
	switch {
	case score > lexicalHighThreshold:
		return model.ThreatHigh
	case score > lexicalMediumThreshold:
		return model.ThreatMedium
	default:
		return model.ThreatLow
	}
}

// deriveThreatLevel implements the class-aware derivation. A high lexical
// score overrides a Legitimate call: a pristine page behind a rotten URL is
// exactly what a cloaked kit looks like.
func deriveThreatLevel(class model.Class, classProb, lexScore float64) model.ThreatLevel {
	switch class {
	case model.ClassMalwareDistribution:
		return model.ThreatHigh
	case model.ClassCredentialPhishing, model.ClassMalicious:
		if classProb > phishingHighThreshold {
			return model.ThreatHigh
		}
		return model.ThreatMedium
	case model.ClassLegitimate:
		if lexScore > lexicalOverrideCutoff {
			return model.ThreatMedium
		}
		if classProb > legitimateSafeCutoff {
			return model.ThreatSafe
		}
		return model.ThreatLow
	default:
		return model.ThreatSuspicious
	}
}

// Progress is invoked once per completed URL during a batch scan. Index is
// the URL's slot in the input slice; completions may arrive out of order.
// Calls are serialized, so the callback needs no locking of its own.
type Progress func(index, total int, v *model.Verdict)

// ClassifyURLs scores a batch through a bounded worker pool sized to the
// fetcher's concurrency, preserving input order in the result slice.
// Cancelled slots still get a typed failed verdict.
func (e *Engine) ClassifyURLs(ctx context.Context, urls []string, progress Progress) []*model.Verdict {
	verdicts := make([]*model.Verdict, len(urls))

	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
	)
	sem := make(chan struct{}, e.fetcher.Concurrency())

	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			var v *model.Verdict
			if ctx.Err() != nil {
				v = e.failedVerdict(uuid.New().String(), u, ctx.Err().Error())
			} else {
				v = e.ClassifyURL(ctx, u)
			}
			verdicts[i] = v

			if progress != nil {
				progressMu.Lock()
				progress(i, len(urls), v)
				progressMu.Unlock()
			}
		}(i, u)
	}
	wg.Wait()
	return verdicts
}
