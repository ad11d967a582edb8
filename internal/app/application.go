// Package app wires the components into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/phishr/phishr/internal/artifacts"
	"github.com/phishr/phishr/internal/content"
	"github.com/phishr/phishr/internal/ensemble"
	"github.com/phishr/phishr/internal/fetcher"
	"github.com/phishr/phishr/internal/fusion"
	"github.com/phishr/phishr/internal/lexical"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/pipeline"
	"github.com/phishr/phishr/internal/reputation"
	"github.com/phishr/phishr/internal/training"
	"github.com/phishr/phishr/internal/webclient"
)

// Application owns the long-lived components of one process.
type Application struct {
	Config *Config
	Logger logging.Logger
	Engine *fusion.Engine
	Store  *artifacts.Store

	fetcher *fetcher.Fetcher
	wc      webclient.WebClient
}

// New builds the full scoring stack. A missing model artifact is not fatal:
// the engine runs on the lexical signal alone until a model is trained.
func New(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("phishr")
	}

	webclient.RegisterDefaultBackends()
	wc, err := webclient.New(cfg.WebClientCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create webclient: %w", err)
	}

	f, err := fetcher.New(cfg.FetcherCfg, wc, logger)
	if err != nil {
		wc.Close()
		return nil, err
	}

	store, err := artifacts.NewStore(cfg.ArtifactsDir, logger)
	if err != nil {
		wc.Close()
		return nil, err
	}

	var lex *lexical.Analyzer
	if cfg.LookupDomainAge {
		age := lexical.NewRDAPAgeLookup(cfg.ReputationCfg.Timeout, logger)
		lex = lexical.NewAnalyzerWithAgeLookup(age, logger)
	} else {
		lex = lexical.NewAnalyzer(logger)
	}

	norm, clf := loadModel(store, logger)

	vt := reputation.NewVirusTotal(
		firstNonEmpty(cfg.ReputationCfg.VirusTotalAPIKey, os.Getenv("VT_API_KEY")),
		cfg.ReputationCfg.Timeout, logger)
	agg := reputation.NewAggregator(cfg.ReputationCfg, logger, vt)

	engine, err := fusion.NewEngine(lex, f, content.NewExtractor(logger), norm, clf, agg, logger)
	if err != nil {
		store.Close()
		wc.Close()
		return nil, err
	}

	return &Application{
		Config:  cfg,
		Logger:  logger,
		Engine:  engine,
		Store:   store,
		fetcher: f,
		wc:      wc,
	}, nil
}

// loadModel resolves the newest normalization state and model artifact.
// Either being absent or incompatible downgrades to lexical-only scoring.
func loadModel(store *artifacts.Store, logger logging.Logger) (*pipeline.Pipeline, *ensemble.Model) {
	ctx := context.Background()

	_, pipeData, err := store.Latest(ctx, artifacts.KindNormalization, artifacts.NameNormalization)
	if err != nil {
		if !errors.Is(err, artifacts.ErrArtifactNotFound) {
			logger.Warn("failed to load normalization state",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			logger.Info("no normalization state found, scoring without classifier")
		}
		return nil, nil
	}
	norm, err := pipeline.Load(pipeData)
	if err != nil {
		logger.Warn("normalization state rejected",
			logging.Field{Key: "error", Value: err.Error()})
		return nil, nil
	}

	_, mdlData, err := store.ResolveModel(ctx)
	if err != nil {
		if !errors.Is(err, artifacts.ErrArtifactNotFound) {
			logger.Warn("failed to resolve model artifact",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			logger.Info("no model artifact found, scoring without classifier")
		}
		return nil, nil
	}
	clf, err := ensemble.LoadModel(mdlData)
	if err != nil {
		logger.Warn("model artifact rejected",
			logging.Field{Key: "error", Value: err.Error()})
		return nil, nil
	}

	logger.Info("classifier loaded",
		logging.Field{Key: "model", Value: clf.Name},
		logging.Field{Key: "classes", Value: len(clf.Classes)})
	return norm, clf
}

// NewTrainer builds a training driver sharing the application's fetcher and
// artifact store.
func (a *Application) NewTrainer() (*training.Trainer, error) {
	return training.New(a.Config.TrainingCfg, a.Config.EnsembleCfg, a.fetcher, a.Store, a.Logger)
}

// Close releases the webclient and the artifact store.
func (a *Application) Close() error {
	var firstErr error
	if err := a.wc.Close(); err != nil {
		firstErr = err
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
