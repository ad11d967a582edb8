// Package training builds model artifacts from labeled URL corpora: load,
// dedupe, split, extract, fit, train, evaluate, persist.
package training

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/phishr/phishr/internal/artifacts"
	"github.com/phishr/phishr/internal/content"
	"github.com/phishr/phishr/internal/ensemble"
	"github.com/phishr/phishr/internal/fetcher"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
	"github.com/phishr/phishr/internal/pipeline"
)

// Config names the input corpora and the split proportions. MalwareCSV is
// optional: when present the trainer produces the 3-class label space,
// otherwise binary Legitimate/Malicious.
type Config struct {
	LegitimateCSV string
	PhishingCSV   string
	MalwareCSV    string

	URLColumn string
	Seed      int64

	TrainFrac float64
	ValFrac   float64
	TestFrac  float64
}

func DefaultConfig() Config {
	return Config{
		URLColumn: "url",
		Seed:      42,
		TrainFrac: 0.7,
		ValFrac:   0.1,
		TestFrac:  0.2,
	}
}

// Sample is one labeled URL.
type Sample struct {
	URL   string      `json:"url"`
	Class model.Class `json:"class"`
}

// Split is the persisted dataset partition, kept as an artifact so an
// evaluation can always be reproduced against the exact test set.
type Split struct {
	Seed  int64    `json:"seed"`
	Train []Sample `json:"train"`
	Val   []Sample `json:"val"`
	Test  []Sample `json:"test"`
}

// Trainer drives one training run.
type Trainer struct {
	cfg     Config
	ensCfg  ensemble.TrainConfig
	fetcher *fetcher.Fetcher
	store   *artifacts.Store
	logger  logging.Logger
}

func New(cfg Config, ensCfg ensemble.TrainConfig, f *fetcher.Fetcher, store *artifacts.Store, logger logging.Logger) (*Trainer, error) {
	if f == nil || store == nil {
		return nil, fmt.Errorf("training: fetcher and artifact store are required")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("training")
	}
	if cfg.URLColumn == "" {
		cfg.URLColumn = DefaultConfig().URLColumn
	}
	if cfg.TrainFrac <= 0 {
		d := DefaultConfig()
		cfg.TrainFrac, cfg.ValFrac, cfg.TestFrac = d.TrainFrac, d.ValFrac, d.TestFrac
	}
	return &Trainer{
		cfg:     cfg,
		ensCfg:  ensCfg,
		fetcher: f,
		store:   store,
		logger:  logger.With(logging.Field{Key: "component", Value: "training"}),
	}, nil
}

// Run executes the full training flow and persists every artifact.
func (t *Trainer) Run(ctx context.Context) (*ensemble.Evaluation, error) {
	samples, classes, err := t.loadCorpora()
	if err != nil {
		return nil, err
	}
	t.logger.Info("corpora loaded",
		logging.Field{Key: "samples", Value: len(samples)},
		logging.Field{Key: "classes", Value: len(classes)})

	split := stratifiedSplit(samples, t.cfg.Seed, t.cfg.TrainFrac, t.cfg.ValFrac)
	t.logger.Info("dataset split",
		logging.Field{Key: "train", Value: len(split.Train)},
		logging.Field{Key: "val", Value: len(split.Val)},
		logging.Field{Key: "test", Value: len(split.Test)})

	trainX, trainY, err := t.extract(ctx, split.Train)
	if err != nil {
		return nil, err
	}
	if len(trainX) == 0 {
		return nil, fmt.Errorf("training: no fetchable training samples")
	}

	pipe := pipeline.New()
	if err := pipe.Fit(trainX, content.FeatureNames); err != nil {
		return nil, fmt.Errorf("fit pipeline: %w", err)
	}

	trainVecs, err := pipe.TransformAll(trainX)
	if err != nil {
		return nil, fmt.Errorf("transform training set: %w", err)
	}

	mdl, err := ensemble.Train(t.ensCfg, trainVecs, trainY, classes, t.logger)
	if err != nil {
		return nil, fmt.Errorf("train ensemble: %w", err)
	}

	testX, testY, err := t.extract(ctx, split.Test)
	if err != nil {
		return nil, err
	}
	testVecs, err := pipe.TransformAll(testX)
	if err != nil {
		return nil, fmt.Errorf("transform test set: %w", err)
	}
	eval, err := mdl.Evaluate(testVecs, testY)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	t.logger.Info("evaluation complete",
		logging.Field{Key: "accuracy", Value: eval.Accuracy},
		logging.Field{Key: "test_samples", Value: eval.Samples})

	if err := t.persist(ctx, pipe, mdl, split, eval); err != nil {
		return nil, err
	}
	return eval, nil
}

func (t *Trainer) loadCorpora() ([]Sample, []model.Class, error) {
	type corpus struct {
		path  string
		class model.Class
	}

	binary := t.cfg.MalwareCSV == ""
	var corpora []corpus
	var classes []model.Class
	if binary {
		corpora = []corpus{
			{t.cfg.LegitimateCSV, model.ClassLegitimate},
			{t.cfg.PhishingCSV, model.ClassMalicious},
		}
		classes = []model.Class{model.ClassLegitimate, model.ClassMalicious}
	} else {
		corpora = []corpus{
			{t.cfg.LegitimateCSV, model.ClassLegitimate},
			{t.cfg.PhishingCSV, model.ClassCredentialPhishing},
			{t.cfg.MalwareCSV, model.ClassMalwareDistribution},
		}
		classes = []model.Class{model.ClassLegitimate, model.ClassCredentialPhishing, model.ClassMalwareDistribution}
	}

	seen := make(map[string]bool)
	var samples []Sample
	for _, c := range corpora {
		urls, err := t.loadCSV(c.path)
		if err != nil {
			return nil, nil, err
		}
		for _, u := range urls {
			// First label wins on duplicates across corpora.
			if seen[u] {
				continue
			}
			seen[u] = true
			samples = append(samples, Sample{URL: u, Class: c.class})
		}
	}
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("training: corpora are empty")
	}
	return samples, classes, nil
}

// loadCSV reads the URL column of one corpus file. A header row naming the
// configured column selects it; otherwise the first column is used.
func (t *Trainer) loadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := 0
	start := 0
	for i, name := range records[0] {
		if strings.EqualFold(strings.TrimSpace(name), t.cfg.URLColumn) {
			col = i
			start = 1
			break
		}
	}

	var urls []string
	for _, rec := range records[start:] {
		if col >= len(rec) {
			continue
		}
		u := strings.TrimSpace(rec[col])
		if u == "" {
			continue
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// extract fetches each sample and turns reachable pages into feature
// vectors. Unreachable URLs are dropped from the corpus with a log line.
func (t *Trainer) extract(ctx context.Context, samples []Sample) ([]model.FeatureVector, []model.Class, error) {
	urls := make([]string, len(samples))
	for i, s := range samples {
		urls[i] = s.URL
	}
	results := t.fetcher.FetchAll(ctx, urls)

	extractor := content.NewExtractor(t.logger)
	var X []model.FeatureVector
	var y []model.Class
	dropped := 0
	for i, fr := range results {
		if !fr.Success {
			dropped++
			continue
		}
		X = append(X, extractor.Extract(fr))
		y = append(y, samples[i].Class)
	}
	if dropped > 0 {
		t.logger.Warn("unreachable samples dropped",
			logging.Field{Key: "dropped", Value: dropped},
			logging.Field{Key: "kept", Value: len(X)})
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	return X, y, nil
}

func (t *Trainer) persist(ctx context.Context, pipe *pipeline.Pipeline, mdl *ensemble.Model, split *Split, eval *ensemble.Evaluation) error {
	pipeData, err := pipe.Marshal()
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}
	if _, err := t.store.Save(ctx, artifacts.KindNormalization, artifacts.NameNormalization,
		content.SchemaVersion, pipeData, nil); err != nil {
		return fmt.Errorf("persist pipeline: %w", err)
	}

	ensembleName := artifacts.NameEnsembleMulticlass
	if mdl.Binary() {
		ensembleName = artifacts.NameEnsembleBinary
	}
	meta := map[string]string{
		"accuracy": fmt.Sprintf("%.4f", eval.Accuracy),
		"seed":     fmt.Sprintf("%d", t.ensCfg.Seed),
	}
	mdlData, err := mdl.Marshal()
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if _, err := t.store.Save(ctx, artifacts.KindEnsembleModel, ensembleName,
		content.SchemaVersion, mdlData, meta); err != nil {
		return fmt.Errorf("persist ensemble: %w", err)
	}

	// Base models are persisted standalone so inference can fall back to a
	// single estimator if the ensemble artifact is ever lost.
	for _, name := range []string{ensemble.NameRandomForest, ensemble.NameGradientBoost, ensemble.NameShallowBoost} {
		base, err := mdl.BaseModel(name)
		if err != nil {
			return fmt.Errorf("extract base model %s: %w", name, err)
		}
		data, err := base.Marshal()
		if err != nil {
			return fmt.Errorf("marshal base model %s: %w", name, err)
		}
		if _, err := t.store.Save(ctx, artifacts.KindBaseModel, name,
			content.SchemaVersion, data, nil); err != nil {
			return fmt.Errorf("persist base model %s: %w", name, err)
		}
	}

	splitData, err := json.Marshal(split)
	if err != nil {
		return fmt.Errorf("marshal split: %w", err)
	}
	if _, err := t.store.Save(ctx, artifacts.KindDatasetSplit, "split",
		content.SchemaVersion, splitData, nil); err != nil {
		return fmt.Errorf("persist split: %w", err)
	}
	return nil
}

// stratifiedSplit shuffles each class independently with the seed and slices
// it by the configured fractions, so class balance is preserved across the
// partitions and the same seed always yields the same split.
func stratifiedSplit(samples []Sample, seed int64, trainFrac, valFrac float64) *Split {
	byClass := make(map[model.Class][]Sample)
	var order []model.Class
	for _, s := range samples {
		if _, ok := byClass[s.Class]; !ok {
			order = append(order, s.Class)
		}
		byClass[s.Class] = append(byClass[s.Class], s)
	}

	rng := rand.New(rand.NewSource(seed))
	split := &Split{Seed: seed}
	for _, cls := range order {
		group := byClass[cls]
		rng.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})

		nTrain := int(float64(len(group)) * trainFrac)
		nVal := int(float64(len(group)) * valFrac)
		split.Train = append(split.Train, group[:nTrain]...)
		split.Val = append(split.Val, group[nTrain:nTrain+nVal]...)
		split.Test = append(split.Test, group[nTrain+nVal:]...)
	}
	return split
}
