package detect

import "math"

// Weights holds the ensemble mix. Defaults: rule 0.4, anomaly 0.3,
// behavioral 0.3.
type Weights struct {
	Rule       float64
	Anomaly    float64
	Behavioral float64
}

// DefaultWeights returns the standard mix.
func DefaultWeights() Weights {
	return Weights{Rule: 0.4, Anomaly: 0.3, Behavioral: 0.3}
}

// Ensemble combines the three detectors by weighted sum.
type Ensemble struct {
	weights    Weights
	rule       Detector
	anomaly    Detector
	behavioral Detector
}

// NewEnsemble wires the standard detectors. modelDir feeds the anomaly
// detector; zero-valued weights fall back to the defaults.
func NewEnsemble(modelDir string, w Weights) *Ensemble {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Ensemble{
		weights:    w,
		rule:       NewRuleDetector(),
		anomaly:    NewAnomalyDetector(modelDir),
		behavioral: NewBehavioralDetector(),
	}
}

// NewEnsembleWith injects detectors, for tests.
func NewEnsembleWith(w Weights, rule, anomaly, behavioral Detector) *Ensemble {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Ensemble{weights: w, rule: rule, anomaly: anomaly, behavioral: behavioral}
}

// Detect runs all three detectors and returns the weighted score rounded to
// two decimals, plus the per-detector reasons keyed rule/anomaly/behavioral.
func (e *Ensemble) Detect(feats map[string]any, agentID, eventType string) (float64, map[string][]string) {
	rScore, rReasons := e.rule.Detect(feats, agentID, eventType)
	aScore, aReasons := e.anomaly.Detect(feats, agentID, eventType)
	bScore, bReasons := e.behavioral.Detect(feats, agentID, eventType)

	total := rScore*e.weights.Rule + aScore*e.weights.Anomaly + bScore*e.weights.Behavioral
	total = math.Round(total*100) / 100

	return total, map[string][]string{
		"rule":       orEmpty(rReasons),
		"anomaly":    orEmpty(aReasons),
		"behavioral": orEmpty(bReasons),
	}
}

// orEmpty keeps reason lists non-nil so alert details serialise as empty
// arrays rather than null.
func orEmpty(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}
