package app

import (
	"github.com/phishr/phishr/internal/ensemble"
	"github.com/phishr/phishr/internal/fetcher"
	"github.com/phishr/phishr/internal/reputation"
	"github.com/phishr/phishr/internal/training"
	"github.com/phishr/phishr/internal/webclient"
)

// Config aggregates per-component configuration for one process.
type Config struct {
	// ArtifactsDir is where trained model state lives.
	ArtifactsDir string

	// ListenAddr is the serve-mode bind address.
	ListenAddr string

	// LookupDomainAge enables the RDAP registration-age lookup during
	// lexical analysis. Off by default: it adds a network call per scan.
	LookupDomainAge bool

	FetcherCfg    fetcher.Config
	WebClientCfg  webclient.Config
	ReputationCfg reputation.Config
	TrainingCfg   training.Config
	EnsembleCfg   ensemble.TrainConfig
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ArtifactsDir:  "./phishr-data",
		ListenAddr:    ":8080",
		FetcherCfg:    fetcher.DefaultConfig(),
		WebClientCfg:  webclient.DefaultConfig(),
		ReputationCfg: reputation.DefaultConfig(),
		TrainingCfg:   training.DefaultConfig(),
		EnsembleCfg:   ensemble.DefaultTrainConfig(),
	}
}
