package detect

import "fmt"

// RuleDetector scores five fixed predicates, +20 each, capped at 100.
// Deterministic and stateless.
type RuleDetector struct {
	rules []func(map[string]any) bool
}

// NewRuleDetector builds the fixed rule set.
func NewRuleDetector() *RuleDetector {
	return &RuleDetector{
		rules: []func(map[string]any) bool{
			// 1. High threat score from enrichment.
			func(f map[string]any) bool { return fnum(f, "threat_score") >= 80 },

			// 2. Known malicious hash.
			func(f map[string]any) bool { return fnum(f, "vt_positives") > 10 },

			// 3. Multiple rule-scanner hits.
			func(f map[string]any) bool { return fnum(f, "yara_hits_count") >= 2 },

			// 4. System parent spawning at high frequency.
			func(f map[string]any) bool {
				return fbool(f, "is_system_parent") && fnum(f, "proc_freq_per_hour") > 5
			},

			// 5. Executing from a temp path.
			func(f map[string]any) bool { return fbool(f, "is_suspicious_path") },
		},
	}
}

// Detect evaluates every predicate; each hit contributes +20 and a
// rule_{i} reason.
func (d *RuleDetector) Detect(feats map[string]any, _, _ string) (float64, []string) {
	score := 0.0
	var reasons []string
	for i, rule := range d.rules {
		if rule(feats) {
			score += 20
			reasons = append(reasons, fmt.Sprintf("rule_%d", i+1))
		}
	}
	if score > 100 {
		score = 100
	}
	return score, reasons
}
