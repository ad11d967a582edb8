package ensemble

import (
	"math"
	"math/rand"
	"sort"
)

// node is one CART split or leaf. Trees are serialized as part of the model
// artifact, so the field tags stay short and stable.
type node struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      *node   `json:"l,omitempty"`
	Right     *node   `json:"r,omitempty"`

	// Leaf payload. Probs carries the weighted class distribution for
	// classification trees; Value carries the fitted constant for
	// regression trees used by boosting.
	Leaf  bool      `json:"leaf,omitempty"`
	Probs []float64 `json:"p,omitempty"`
	Value float64   `json:"v,omitempty"`
}

func (n *node) predictProba(x []float64) []float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Probs
}

func (n *node) predictValue(x []float64) float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// treeParams control a single CART fit. MaxFeatures==0 means consider every
// feature at every split; forests pass sqrt(d) for decorrelation.
type treeParams struct {
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int
}

// growClassification fits a classification tree on the index subset idx,
// splitting on weighted Gini impurity. rng only drives feature subsampling,
// so a tree with MaxFeatures==0 is fully deterministic regardless of seed.
func growClassification(X [][]float64, y []int, w []float64, idx []int, numClasses int, p treeParams, rng *rand.Rand, depth int) *node {
	probs := classDistribution(y, w, idx, numClasses)
	if depth >= p.MaxDepth || len(idx) < 2*p.MinSamplesLeaf || isPure(probs) {
		return &node{Leaf: true, Probs: probs}
	}

	feature, threshold, gain := bestGiniSplit(X, y, w, idx, numClasses, p, rng)
	if gain <= 0 {
		return &node{Leaf: true, Probs: probs}
	}

	left, right := partition(X, idx, feature, threshold)
	if len(left) < p.MinSamplesLeaf || len(right) < p.MinSamplesLeaf {
		return &node{Leaf: true, Probs: probs}
	}

	return &node{
		Feature:   feature,
		Threshold: threshold,
		Left:      growClassification(X, y, w, left, numClasses, p, rng, depth+1),
		Right:     growClassification(X, y, w, right, numClasses, p, rng, depth+1),
	}
}

// growRegression fits a regression tree to targets g (boosting gradients),
// splitting on weighted variance reduction. hess supplies the per-sample
// denominator for the multinomial leaf-value update; nil means plain mean.
func growRegression(X [][]float64, g, hess []float64, idx []int, p treeParams, rng *rand.Rand, depth int) *node {
	if depth >= p.MaxDepth || len(idx) < 2*p.MinSamplesLeaf {
		return &node{Leaf: true, Value: leafValue(g, hess, idx)}
	}

	feature, threshold, gain := bestVarianceSplit(X, g, idx, p, rng)
	if gain <= 0 {
		return &node{Leaf: true, Value: leafValue(g, hess, idx)}
	}

	left, right := partition(X, idx, feature, threshold)
	if len(left) < p.MinSamplesLeaf || len(right) < p.MinSamplesLeaf {
		return &node{Leaf: true, Value: leafValue(g, hess, idx)}
	}

	return &node{
		Feature:   feature,
		Threshold: threshold,
		Left:      growRegression(X, g, hess, left, p, rng, depth+1),
		Right:     growRegression(X, g, hess, right, p, rng, depth+1),
	}
}

func leafValue(g, hess []float64, idx []int) float64 {
	num, den := 0.0, 0.0
	for _, i := range idx {
		num += g[i]
		if hess != nil {
			den += hess[i]
		} else {
			den++
		}
	}
	if den < 1e-12 {
		return 0
	}
	return num / den
}

func classDistribution(y []int, w []float64, idx []int, numClasses int) []float64 {
	probs := make([]float64, numClasses)
	total := 0.0
	for _, i := range idx {
		probs[y[i]] += w[i]
		total += w[i]
	}
	if total > 0 {
		for c := range probs {
			probs[c] /= total
		}
	}
	return probs
}

func isPure(probs []float64) bool {
	for _, p := range probs {
		if p > 0.999999 {
			return true
		}
	}
	return false
}

func gini(probs []float64) float64 {
	g := 1.0
	for _, p := range probs {
		g -= p * p
	}
	return g
}

// candidateFeatures returns the features considered at one split. With
// subsampling, the draw is a seeded Fisher-Yates prefix so training stays
// reproducible for a fixed seed.
func candidateFeatures(numFeatures, maxFeatures int, rng *rand.Rand) []int {
	if maxFeatures <= 0 || maxFeatures >= numFeatures {
		all := make([]int, numFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := rng.Perm(numFeatures)
	picked := perm[:maxFeatures]
	sort.Ints(picked)
	return picked
}

func bestGiniSplit(X [][]float64, y []int, w []float64, idx []int, numClasses int, p treeParams, rng *rand.Rand) (int, float64, float64) {
	parent := classDistribution(y, w, idx, numClasses)
	parentGini := gini(parent)

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	order := make([]int, len(idx))

	for _, f := range candidateFeatures(len(X[idx[0]]), p.MaxFeatures, rng) {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		leftW := make([]float64, numClasses)
		rightW := make([]float64, numClasses)
		leftTotal, rightTotal := 0.0, 0.0
		for _, i := range order {
			rightW[y[i]] += w[i]
			rightTotal += w[i]
		}

		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			leftW[y[i]] += w[i]
			leftTotal += w[i]
			rightW[y[i]] -= w[i]
			rightTotal -= w[i]

			v, next := X[i][f], X[order[k+1]][f]
			if v == next {
				continue
			}

			total := leftTotal + rightTotal
			if leftTotal < 1e-12 || rightTotal < 1e-12 || total < 1e-12 {
				continue
			}
			gl, gr := weightedGini(leftW, leftTotal), weightedGini(rightW, rightTotal)
			gain := parentGini - (leftTotal/total)*gl - (rightTotal/total)*gr
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (v + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func weightedGini(classW []float64, total float64) float64 {
	g := 1.0
	for _, cw := range classW {
		p := cw / total
		g -= p * p
	}
	return g
}

func bestVarianceSplit(X [][]float64, g []float64, idx []int, p treeParams, rng *rand.Rand) (int, float64, float64) {
	n := float64(len(idx))
	sum, sumSq := 0.0, 0.0
	for _, i := range idx {
		sum += g[i]
		sumSq += g[i] * g[i]
	}
	parentSSE := sumSq - sum*sum/n

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	order := make([]int, len(idx))

	for _, f := range candidateFeatures(len(X[idx[0]]), p.MaxFeatures, rng) {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		leftSum, leftSq, leftN := 0.0, 0.0, 0.0
		rightSum, rightSq, rightN := sum, sumSq, n

		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			leftSum += g[i]
			leftSq += g[i] * g[i]
			leftN++
			rightSum -= g[i]
			rightSq -= g[i] * g[i]
			rightN--

			v, next := X[i][f], X[order[k+1]][f]
			if v == next {
				continue
			}

			gain := parentSSE - (leftSq - leftSum*leftSum/leftN) - (rightSq - rightSum*rightSum/rightN)
			if gain > bestGain && !math.IsNaN(gain) {
				bestGain = gain
				bestFeature = f
				bestThreshold = (v + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func partition(X [][]float64, idx []int, feature int, threshold float64) (left, right []int) {
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
