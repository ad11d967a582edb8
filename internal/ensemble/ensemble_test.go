package ensemble

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

var binaryClasses = []model.Class{model.ClassLegitimate, model.ClassMalicious}

// separableDataset builds a deterministic 2-feature corpus where class 1
// clusters around (3,3) and class 0 around (0,0).
func separableDataset(n int, seed int64) ([][]float64, []model.Class) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, 0, n)
	y := make([]model.Class, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			X = append(X, []float64{rng.Float64(), rng.Float64()})
			y = append(y, model.ClassLegitimate)
		} else {
			X = append(X, []float64{3 + rng.Float64(), 3 + rng.Float64()})
			y = append(y, model.ClassMalicious)
		}
	}
	return X, y
}

func smallConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.ForestTrees = 10
	cfg.ForestMaxDepth = 5
	cfg.BoostRounds = 10
	cfg.ShallowRounds = 15
	return cfg
}

func TestTrainAndPredictSeparable(t *testing.T) {
	X, y := separableDataset(100, 7)

	m, err := Train(smallConfig(), X, y, binaryClasses, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	correct := 0
	for i, x := range X {
		res, err := m.Predict(x)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if res.PredictedClass == y[i] {
			correct++
		}
		sum := 0.0
		for _, p := range res.Probabilities {
			if p < 0 || p > 1 {
				t.Fatalf("probability %v out of range", p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("probabilities sum to %v, want 1", sum)
		}
	}
	if acc := float64(correct) / float64(len(X)); acc < 0.95 {
		t.Errorf("training accuracy = %v, want >= 0.95 on separable data", acc)
	}
}

func TestTrainDeterministic(t *testing.T) {
	X, y := separableDataset(60, 11)

	m1, err := Train(smallConfig(), X, y, binaryClasses, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	m2, err := Train(smallConfig(), X, y, binaryClasses, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	d1, err := m1.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	d2, err := m2.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("two trainings with the same seed produced different artifacts")
	}
}

func TestModelRoundTrip(t *testing.T) {
	X, y := separableDataset(60, 3)

	m, err := Train(smallConfig(), X, y, binaryClasses, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	loaded, err := LoadModel(data)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	for _, x := range X {
		want, err := m.Predict(x)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		got, err := loaded.Predict(x)
		if err != nil {
			t.Fatalf("Predict after load: %v", err)
		}
		if want.PredictedClass != got.PredictedClass {
			t.Fatalf("class changed after round trip: %v vs %v", want.PredictedClass, got.PredictedClass)
		}
		for cls, p := range want.Probabilities {
			if got.Probabilities[cls] != p {
				t.Fatalf("probability for %v changed after round trip", cls)
			}
		}
	}
}

func TestBaseModelExtraction(t *testing.T) {
	X, y := separableDataset(60, 5)

	m, err := Train(smallConfig(), X, y, binaryClasses, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, name := range []string{NameRandomForest, NameGradientBoost, NameShallowBoost} {
		base, err := m.BaseModel(name)
		if err != nil {
			t.Fatalf("BaseModel(%s): %v", name, err)
		}
		if base.Name != name {
			t.Errorf("base model name = %q, want %q", base.Name, name)
		}
		res, err := base.Predict(X[0])
		if err != nil {
			t.Fatalf("base Predict(%s): %v", name, err)
		}
		if res.ModelName != name {
			t.Errorf("result model name = %q, want %q", res.ModelName, name)
		}
	}

	if _, err := m.BaseModel("nonsense"); err == nil {
		t.Error("BaseModel with unknown name succeeded, want error")
	}
}

func TestLoadModelEmpty(t *testing.T) {
	if _, err := LoadModel([]byte(`{"name":"ensemble","classes":["Legitimate","Malicious"]}`)); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("LoadModel with no members: err = %v, want ErrModelUnavailable", err)
	}
}

func TestTrainThreeClass(t *testing.T) {
	classes := []model.Class{model.ClassLegitimate, model.ClassCredentialPhishing, model.ClassMalwareDistribution}
	rng := rand.New(rand.NewSource(9))
	var X [][]float64
	var y []model.Class
	centers := [][]float64{{0, 0}, {4, 0}, {0, 4}}
	for i := 0; i < 90; i++ {
		c := i % 3
		X = append(X, []float64{centers[c][0] + rng.Float64(), centers[c][1] + rng.Float64()})
		y = append(y, classes[c])
	}

	m, err := Train(smallConfig(), X, y, classes, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if m.Binary() {
		t.Error("3-class model reports Binary() = true")
	}

	eval, err := m.Evaluate(X, y)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Accuracy < 0.9 {
		t.Errorf("accuracy = %v, want >= 0.9 on separable 3-class data", eval.Accuracy)
	}
	for cls, cm := range eval.PerClass {
		if cm.Support != 30 {
			t.Errorf("class %v support = %d, want 30", cls, cm.Support)
		}
	}
}

func TestEvaluateEmpty(t *testing.T) {
	X, y := separableDataset(20, 1)
	m, err := Train(smallConfig(), X, y, binaryClasses, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	eval, err := m.Evaluate(nil, nil)
	if err != nil {
		t.Fatalf("Evaluate(nil): %v", err)
	}
	if eval.Samples != 0 || eval.Accuracy != 0 {
		t.Errorf("empty evaluation = %+v, want zeros", eval)
	}
}
