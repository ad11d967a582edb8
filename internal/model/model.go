package model

import "time"

// ThreatLevel is the ordinal risk category attached to a Verdict.
// Ordering matters: fusion takes the maximum across signal sources.
type ThreatLevel string

const (
	ThreatUnknown    ThreatLevel = "unknown"
	ThreatSafe       ThreatLevel = "safe"
	ThreatLow        ThreatLevel = "low"
	ThreatSuspicious ThreatLevel = "suspicious"
	ThreatMedium     ThreatLevel = "medium"
	ThreatHigh       ThreatLevel = "high"
)

// threatRank orders levels for max-fusion. "safe" sits between unknown and
// low on purpose: a reputation feed reporting zero detections must not be
// able to pull an established "low" down, and the fusion engine only ever
// raises levels.
var threatRank = map[ThreatLevel]int{
	ThreatUnknown:    0,
	ThreatSafe:       1,
	ThreatLow:        2,
	ThreatSuspicious: 3,
	ThreatMedium:     4,
	ThreatHigh:       5,
}

// Rank returns the ordinal position of the level. Unknown levels rank lowest.
func (t ThreatLevel) Rank() int {
	return threatRank[t]
}

// MaxThreat returns the higher-ranked of two levels.
func MaxThreat(a, b ThreatLevel) ThreatLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Class is a classifier label. The label space depends on the trained model
// variant: binary models use Legitimate/Malicious, the 3-class variant uses
// Legitimate/CredentialPhishing/MalwareDistribution.
type Class string

const (
	ClassLegitimate          Class = "Legitimate"
	ClassMalicious           Class = "Malicious"
	ClassCredentialPhishing  Class = "Credential Phishing"
	ClassMalwareDistribution Class = "Malware Distribution"
)

// FeatureVector maps feature names to numeric values. Binary indicators are
// encoded as 0/1. Ordering is never taken from map iteration: every consumer
// walks an explicit schema slice (content.FeatureNames, lexical.FeatureNames).
type FeatureVector map[string]float64

// Merge returns a new vector containing all entries of v overlaid with other.
func (v FeatureVector) Merge(other FeatureVector) FeatureVector {
	out := make(FeatureVector, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}

// FetchResult is the outcome of one page fetch attempt. It is constructed by
// the fetcher, immutable once returned, and discarded after extraction.
type FetchResult struct {
	URL           string
	FinalURL      string
	HTML          []byte
	StatusCode    int
	RedirectCount int
	ContentType   string
	FetchedAt     time.Time

	// Success means a 200 response with a readable body. Every other
	// outcome sets Error and Category.
	Success  bool
	Error    string
	Category FailureCategory
}

// ClassificationResult is the ensemble classifier output for one vector.
type ClassificationResult struct {
	PredictedClass Class             `json:"predicted_class"`
	Probabilities  map[Class]float64 `json:"class_probabilities"`
	ModelName      string            `json:"model_name"`
}

// MaxProbability returns the highest class probability, 0 when empty.
func (c *ClassificationResult) MaxProbability() float64 {
	max := 0.0
	for _, p := range c.Probabilities {
		if p > max {
			max = p
		}
	}
	return max
}

// ReputationReport is one external provider's view of a URL or domain.
// Absence of a report is a valid state, not an error.
type ReputationReport struct {
	Provider    string      `json:"provider"`
	Status      string      `json:"status"` // "success" or "error"
	Error       string      `json:"error,omitempty"`
	Malicious   int         `json:"malicious"`
	Suspicious  int         `json:"suspicious"`
	Harmless    int         `json:"harmless"`
	Undetected  int         `json:"undetected"`
	Total       int         `json:"total"`
	RiskRatio   float64     `json:"risk_ratio"`
	ThreatLevel ThreatLevel `json:"threat_level"`
}

// ScanState is the terminal state of one scoring request.
type ScanState string

const (
	// Scored: fetch succeeded and the full pipeline ran.
	StateScored ScanState = "scored"
	// PartialScored: fetch failed, verdict derived from lexical signal only.
	StatePartialScored ScanState = "partial"
	// Failed: an unexpected error escaped the pipeline and was converted
	// into a structured explanation.
	StateFailed ScanState = "failed"
)

// Verdict is the final output of one scoring request. Created once, never
// mutated after construction.
type Verdict struct {
	ScanID          string             `json:"scan_id"`
	URL             string             `json:"url"`
	State           ScanState          `json:"state"`
	ThreatLevel     ThreatLevel        `json:"threat_level"`
	FinalConfidence float64            `json:"final_confidence"`
	ClassName       Class              `json:"class_name,omitempty"`
	Probabilities   map[Class]float64  `json:"class_probabilities,omitempty"`
	LexicalFeatures FeatureVector      `json:"lexical_features,omitempty"`
	LexicalScore    float64            `json:"url_confidence_score"`
	Reputation      []ReputationReport `json:"reputation,omitempty"`
	Error           string             `json:"error,omitempty"`
	Explanation     *Explanation       `json:"explanation,omitempty"`
	ScannedAt       time.Time          `json:"scanned_at"`
}
