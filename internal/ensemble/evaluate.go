package ensemble

import "github.com/phishr/phishr/internal/model"

// ClassMetrics are per-class evaluation figures on a held-out set.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation is the model report produced after training.
type Evaluation struct {
	Accuracy float64                      `json:"accuracy"`
	Samples  int                          `json:"samples"`
	PerClass map[model.Class]ClassMetrics `json:"per_class"`
}

// Evaluate scores the model against a labeled set.
func (m *Model) Evaluate(X [][]float64, labels []model.Class) (*Evaluation, error) {
	eval := &Evaluation{
		Samples:  len(X),
		PerClass: make(map[model.Class]ClassMetrics, len(m.Classes)),
	}
	if len(X) == 0 {
		return eval, nil
	}

	tp := make(map[model.Class]int)
	fp := make(map[model.Class]int)
	fn := make(map[model.Class]int)
	support := make(map[model.Class]int)
	correct := 0

	for i, x := range X {
		res, err := m.Predict(x)
		if err != nil {
			return nil, err
		}
		support[labels[i]]++
		if res.PredictedClass == labels[i] {
			correct++
			tp[labels[i]]++
		} else {
			fp[res.PredictedClass]++
			fn[labels[i]]++
		}
	}

	eval.Accuracy = float64(correct) / float64(len(X))
	for _, cls := range m.Classes {
		cm := ClassMetrics{Support: support[cls]}
		if tp[cls]+fp[cls] > 0 {
			cm.Precision = float64(tp[cls]) / float64(tp[cls]+fp[cls])
		}
		if tp[cls]+fn[cls] > 0 {
			cm.Recall = float64(tp[cls]) / float64(tp[cls]+fn[cls])
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		eval.PerClass[cls] = cm
	}
	return eval, nil
}
