package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/phishr/phishr/internal/content"
	"github.com/phishr/phishr/internal/model"
)

var (
	// ErrNotFitted is returned by Transform when no state has been fit or loaded.
	ErrNotFitted = errors.New("pipeline: not fitted")

	// ErrSchemaMismatch is returned when persisted state was fit against a
	// different feature schema version. Silent mis-scoring is never an option.
	ErrSchemaMismatch = errors.New("pipeline: feature schema version mismatch")

	// ErrNoSamples is returned by Fit with an empty corpus.
	ErrNoSamples = errors.New("pipeline: no samples to fit")
)

// State is the persisted outcome of fitting: per-feature median (for
// missing-value imputation) and mean/stddev (for scaling), bound to an
// ordered feature list and the schema version they were computed against.
// The same ordering and statistics are applied at inference time; artifacts
// are immutable once written.
type State struct {
	SchemaVersion string    `json:"schema_version"`
	Features      []string  `json:"features"`
	Medians       []float64 `json:"medians"`
	Means         []float64 `json:"means"`
	Stddevs       []float64 `json:"stddevs"`
}

// Pipeline applies median imputation followed by standard scaling. Identifier
// columns (url, fetch_success) are excluded deterministically at Fit time.
type Pipeline struct {
	state *State
}

// New returns an unfitted Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Load returns a Pipeline around previously persisted state, rejecting state
// fit against a different content schema version.
func Load(data []byte) (*Pipeline, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("pipeline: decode state: %w", err)
	}
	if st.SchemaVersion != content.SchemaVersion {
		return nil, fmt.Errorf("%w: state %q, extractor %q",
			ErrSchemaMismatch, st.SchemaVersion, content.SchemaVersion)
	}
	if len(st.Features) == 0 ||
		len(st.Medians) != len(st.Features) ||
		len(st.Means) != len(st.Features) ||
		len(st.Stddevs) != len(st.Features) {
		return nil, errors.New("pipeline: malformed state")
	}
	return &Pipeline{state: &st}, nil
}

// Fitted reports whether Transform can be called.
func (p *Pipeline) Fitted() bool {
	return p.state != nil
}

// Features returns the ordered feature list of the fitted state.
func (p *Pipeline) Features() []string {
	if p.state == nil {
		return nil
	}
	return p.state.Features
}

// Fit computes imputation and scaling statistics over the corpus using the
// given ordered feature names, minus identifier columns. Values that are
// absent or NaN in a sample are left out of the statistics and later imputed
// with the median.
func (p *Pipeline) Fit(samples []model.FeatureVector, featureNames []string) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	features := excludeIdentifiers(featureNames)
	st := &State{
		SchemaVersion: content.SchemaVersion,
		Features:      features,
		Medians:       make([]float64, len(features)),
		Means:         make([]float64, len(features)),
		Stddevs:       make([]float64, len(features)),
	}

	for i, name := range features {
		values := make([]float64, 0, len(samples))
		for _, s := range samples {
			v, ok := s[name]
			if !ok || math.IsNaN(v) {
				continue
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			// Feature never observed: impute zero, pass through unscaled.
			st.Medians[i] = 0
			st.Means[i] = 0
			st.Stddevs[i] = 1
			continue
		}

		st.Medians[i] = median(values)

		sum := 0.0
		for _, v := range values {
			sum += v
		}
		mean := sum / float64(len(values))
		st.Means[i] = mean

		variance := 0.0
		for _, v := range values {
			d := v - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(len(values)))
		if std == 0 {
			// Constant feature: center only.
			std = 1
		}
		st.Stddevs[i] = std
	}

	p.state = st
	return nil
}

// Transform produces the model-ready vector in fitted feature order.
func (p *Pipeline) Transform(fv model.FeatureVector) ([]float64, error) {
	if p.state == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(p.state.Features))
	for i, name := range p.state.Features {
		v, ok := fv[name]
		if !ok || math.IsNaN(v) {
			v = p.state.Medians[i]
		}
		out[i] = (v - p.state.Means[i]) / p.state.Stddevs[i]
	}
	return out, nil
}

// TransformAll transforms a corpus, preserving order.
func (p *Pipeline) TransformAll(samples []model.FeatureVector) ([][]float64, error) {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		row, err := p.Transform(s)
		if err != nil {
			return nil, err
		}
		out[i] = row
	}
	return out, nil
}

// Marshal serializes the fitted state.
func (p *Pipeline) Marshal() ([]byte, error) {
	if p.state == nil {
		return nil, ErrNotFitted
	}
	return json.Marshal(p.state)
}

func excludeIdentifiers(names []string) []string {
	skip := make(map[string]bool, len(content.IdentifierColumns))
	for _, c := range content.IdentifierColumns {
		skip[c] = true
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
