package ensemble

import (
	"math"
	"math/rand"
)

// Forest is a bagged collection of classification trees with per-split
// feature subsampling. Inference averages leaf distributions.
type Forest struct {
	Trees       []*node `json:"trees"`
	NumClasses  int     `json:"num_classes"`
	NumFeatures int     `json:"num_features"`
}

// forestParams are the forest hyperparameters. MaxFeatures==0 selects
// sqrt(d) at fit time.
type forestParams struct {
	NumTrees       int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int
}

// fitForest trains the forest on X/y with sample weights w. Each tree sees a
// bootstrap resample drawn from the seeded rng; the weight of a sample is
// carried into the resample so class balancing survives bagging.
func fitForest(X [][]float64, y []int, w []float64, numClasses int, p forestParams, rng *rand.Rand) *Forest {
	maxFeatures := p.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Ceil(math.Sqrt(float64(len(X[0])))))
	}
	tp := treeParams{
		MaxDepth:       p.MaxDepth,
		MinSamplesLeaf: p.MinSamplesLeaf,
		MaxFeatures:    maxFeatures,
	}

	f := &Forest{
		Trees:       make([]*node, 0, p.NumTrees),
		NumClasses:  numClasses,
		NumFeatures: len(X[0]),
	}
	for t := 0; t < p.NumTrees; t++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}
		f.Trees = append(f.Trees, growClassification(X, y, w, idx, numClasses, tp, rng, 0))
	}
	return f
}

// PredictProba returns the mean leaf distribution across trees.
func (f *Forest) PredictProba(x []float64) []float64 {
	probs := make([]float64, f.NumClasses)
	if len(f.Trees) == 0 {
		return probs
	}
	for _, t := range f.Trees {
		for c, p := range t.predictProba(x) {
			probs[c] += p
		}
	}
	for c := range probs {
		probs[c] /= float64(len(f.Trees))
	}
	return probs
}
