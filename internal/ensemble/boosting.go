package ensemble

import (
	"math"
	"math/rand"
)

// Boosting is a multinomial gradient-boosted tree model: one regression tree
// per class per round, fit to the softmax cross-entropy gradient. The
// shallow variant in the voting ensemble is the same machinery with a lower
// depth and more rounds.
type Boosting struct {
	// Trees[r][c] is the round-r tree for class c.
	Trees        [][]*node `json:"trees"`
	NumClasses   int       `json:"num_classes"`
	NumFeatures  int       `json:"num_features"`
	LearningRate float64   `json:"learning_rate"`
	// Priors are the log base-rate scores each stage accumulates onto.
	Priors []float64 `json:"priors"`
}

type boostParams struct {
	Rounds         int
	MaxDepth       int
	MinSamplesLeaf int
	LearningRate   float64
}

// fitBoosting trains the model. Sample weights w scale each sample's
// gradient, which is how per-class balancing reaches the stages.
func fitBoosting(X [][]float64, y []int, w []float64, numClasses int, p boostParams, rng *rand.Rand) *Boosting {
	n := len(X)
	b := &Boosting{
		Trees:        make([][]*node, 0, p.Rounds),
		NumClasses:   numClasses,
		NumFeatures:  len(X[0]),
		LearningRate: p.LearningRate,
		Priors:       classLogPriors(y, w, numClasses),
	}
	tp := treeParams{MaxDepth: p.MaxDepth, MinSamplesLeaf: p.MinSamplesLeaf}

	// Raw additive scores, initialized from the priors.
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = make([]float64, numClasses)
		copy(scores[i], b.Priors)
	}

	allIdx := make([]int, n)
	for i := range allIdx {
		allIdx[i] = i
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	kFactor := float64(numClasses-1) / float64(numClasses)

	for r := 0; r < p.Rounds; r++ {
		round := make([]*node, numClasses)
		for c := 0; c < numClasses; c++ {
			for i := 0; i < n; i++ {
				probs := softmax(scores[i])
				target := 0.0
				if y[i] == c {
					target = 1.0
				}
				g := w[i] * (target - probs[c])
				grad[i] = g
				// Friedman's multinomial leaf denominator.
				hess[i] = w[i] * math.Abs(target-probs[c]) * (1 - math.Abs(target-probs[c])) / kFactor
				if hess[i] < 1e-9 {
					hess[i] = 1e-9
				}
			}
			round[c] = growRegression(X, grad, hess, allIdx, tp, rng, 0)
		}
		for i := 0; i < n; i++ {
			for c := 0; c < numClasses; c++ {
				scores[i][c] += p.LearningRate * round[c].predictValue(X[i])
			}
		}
		b.Trees = append(b.Trees, round)
	}
	return b
}

// PredictProba runs every stage and softmaxes the accumulated scores.
func (b *Boosting) PredictProba(x []float64) []float64 {
	scores := make([]float64, b.NumClasses)
	copy(scores, b.Priors)
	for _, round := range b.Trees {
		for c, t := range round {
			scores[c] += b.LearningRate * t.predictValue(x)
		}
	}
	return softmax(scores)
}

func classLogPriors(y []int, w []float64, numClasses int) []float64 {
	counts := make([]float64, numClasses)
	total := 0.0
	for i, c := range y {
		counts[c] += w[i]
		total += w[i]
	}
	priors := make([]float64, numClasses)
	for c := range priors {
		p := counts[c] / total
		if p < 1e-9 {
			p = 1e-9
		}
		priors[c] = math.Log(p)
	}
	return priors
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
