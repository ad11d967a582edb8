package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

// ErrModelUnavailable is returned when no trained model artifact could be
// loaded. Callers treat this as absence of the classifier signal, not as a
// scan failure.
var ErrModelUnavailable = errors.New("ensemble: no trained model available")

// Model names as they appear in verdicts and artifact metadata.
const (
	NameEnsemble      = "ensemble"
	NameRandomForest  = "random_forest"
	NameGradientBoost = "gradient_boosting"
	NameShallowBoost  = "gradient_boosting_shallow"
)

// Model is a soft-voting ensemble over the three base estimators. Any subset
// of the members may be present: a persisted single-estimator artifact loads
// into a Model carrying only that member, and voting degrades gracefully.
type Model struct {
	Name    string        `json:"name"`
	Classes []model.Class `json:"classes"`

	RandomForest *Forest   `json:"random_forest,omitempty"`
	GradBoost    *Boosting `json:"gradient_boosting,omitempty"`
	ShallowBoost *Boosting `json:"gradient_boosting_shallow,omitempty"`

	// Weights order: forest, gradient boosting, shallow boosting. Missing
	// members contribute nothing and their weight is skipped.
	Weights []float64 `json:"voting_weights,omitempty"`
}

// TrainConfig are the ensemble hyperparameters. Seed pins all randomness
// (bootstrap draws, feature subsampling); two runs with the same seed and
// corpus produce byte-identical artifacts.
type TrainConfig struct {
	Seed int64

	ForestTrees    int
	ForestMaxDepth int

	BoostRounds  int
	BoostDepth   int
	LearningRate float64

	ShallowRounds int
	ShallowDepth  int

	MinSamplesLeaf int

	// BalanceClasses reweights samples to n/(k*count_class), so minority
	// classes are not drowned at training time.
	BalanceClasses bool
}

// DefaultTrainConfig mirrors the hyperparameters the shipped artifacts were
// trained with.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Seed:           42,
		ForestTrees:    100,
		ForestMaxDepth: 12,
		BoostRounds:    80,
		BoostDepth:     5,
		LearningRate:   0.1,
		ShallowRounds:  150,
		ShallowDepth:   3,
		MinSamplesLeaf: 2,
		BalanceClasses: true,
	}
}

// Train fits all three base estimators and assembles the voting model.
// labels must use a consistent class set; classes are ordered by first
// appearance in the provided class list.
func Train(cfg TrainConfig, X [][]float64, labels []model.Class, classes []model.Class, logger logging.Logger) (*Model, error) {
	if len(X) == 0 || len(X) != len(labels) {
		return nil, fmt.Errorf("ensemble: corpus size mismatch: %d samples, %d labels", len(X), len(labels))
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("ensemble: need at least 2 classes, got %d", len(classes))
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("ensemble")
	}

	classIndex := make(map[model.Class]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	y := make([]int, len(labels))
	for i, l := range labels {
		ci, ok := classIndex[l]
		if !ok {
			return nil, fmt.Errorf("ensemble: label %q not in class set", l)
		}
		y[i] = ci
	}

	w := sampleWeights(y, len(classes), cfg.BalanceClasses)
	rng := rand.New(rand.NewSource(cfg.Seed))

	logger.Info("training random forest",
		logging.Field{Key: "trees", Value: cfg.ForestTrees},
		logging.Field{Key: "samples", Value: len(X)})
	forest := fitForest(X, y, w, len(classes), forestParams{
		NumTrees:       cfg.ForestTrees,
		MaxDepth:       cfg.ForestMaxDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
	}, rng)

	logger.Info("training gradient boosting",
		logging.Field{Key: "rounds", Value: cfg.BoostRounds})
	boost := fitBoosting(X, y, w, len(classes), boostParams{
		Rounds:         cfg.BoostRounds,
		MaxDepth:       cfg.BoostDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
		LearningRate:   cfg.LearningRate,
	}, rng)

	logger.Info("training shallow boosting",
		logging.Field{Key: "rounds", Value: cfg.ShallowRounds})
	shallow := fitBoosting(X, y, w, len(classes), boostParams{
		Rounds:         cfg.ShallowRounds,
		MaxDepth:       cfg.ShallowDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
		LearningRate:   cfg.LearningRate,
	}, rng)

	return &Model{
		Name:         NameEnsemble,
		Classes:      classes,
		RandomForest: forest,
		GradBoost:    boost,
		ShallowBoost: shallow,
		Weights:      []float64{1, 1, 1},
	}, nil
}

// Predict scores one normalized vector and returns the arg-max class with
// the per-class probability map. Inference is free of randomness.
func (m *Model) Predict(x []float64) (*model.ClassificationResult, error) {
	probs, err := m.predictProba(x)
	if err != nil {
		return nil, err
	}

	best := 0
	for c := range probs {
		if probs[c] > probs[best] {
			best = c
		}
	}

	out := &model.ClassificationResult{
		PredictedClass: m.Classes[best],
		Probabilities:  make(map[model.Class]float64, len(m.Classes)),
		ModelName:      m.Name,
	}
	for c, cls := range m.Classes {
		out.Probabilities[cls] = probs[c]
	}
	return out, nil
}

func (m *Model) predictProba(x []float64) ([]float64, error) {
	members := m.members()
	if len(members) == 0 {
		return nil, ErrModelUnavailable
	}

	probs := make([]float64, len(m.Classes))
	totalWeight := 0.0
	for _, mb := range members {
		p := mb.proba(x)
		for c := range probs {
			probs[c] += mb.weight * p[c]
		}
		totalWeight += mb.weight
	}
	for c := range probs {
		probs[c] /= totalWeight
	}
	return probs, nil
}

type member struct {
	proba  func([]float64) []float64
	weight float64
}

func (m *Model) members() []member {
	weight := func(i int) float64 {
		if i < len(m.Weights) && m.Weights[i] > 0 {
			return m.Weights[i]
		}
		return 1
	}
	var out []member
	if m.RandomForest != nil {
		out = append(out, member{m.RandomForest.PredictProba, weight(0)})
	}
	if m.GradBoost != nil {
		out = append(out, member{m.GradBoost.PredictProba, weight(1)})
	}
	if m.ShallowBoost != nil {
		out = append(out, member{m.ShallowBoost.PredictProba, weight(2)})
	}
	return out
}

// BaseModel extracts a single-estimator Model, used to persist base models
// as standalone fallback artifacts.
func (m *Model) BaseModel(name string) (*Model, error) {
	out := &Model{Name: name, Classes: m.Classes}
	switch name {
	case NameRandomForest:
		out.RandomForest = m.RandomForest
	case NameGradientBoost:
		out.GradBoost = m.GradBoost
	case NameShallowBoost:
		out.ShallowBoost = m.ShallowBoost
	default:
		return nil, fmt.Errorf("ensemble: unknown base model %q", name)
	}
	if len(out.members()) == 0 {
		return nil, ErrModelUnavailable
	}
	return out, nil
}

// Marshal serializes the model artifact.
func (m *Model) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// LoadModel decodes a persisted model artifact.
func LoadModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ensemble: decode model: %w", err)
	}
	if len(m.Classes) < 2 || len(m.members()) == 0 {
		return nil, ErrModelUnavailable
	}
	return &m, nil
}

// Binary reports whether the model uses the two-class label space.
func (m *Model) Binary() bool {
	return len(m.Classes) == 2
}

func sampleWeights(y []int, numClasses int, balance bool) []float64 {
	w := make([]float64, len(y))
	if !balance {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	counts := make([]float64, numClasses)
	for _, c := range y {
		counts[c]++
	}
	n := float64(len(y))
	k := float64(numClasses)
	for i, c := range y {
		w[i] = n / (k * counts[c])
	}
	return w
}
