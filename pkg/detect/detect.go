// Package detect implements the three-detector ensemble that scores feature
// maps: fixed rules, a pre-trained isolation forest, and a per-agent online
// behavioral model.
package detect

// Detector is the shared scoring capability. Implementations return a score
// in [0,100] and the reasons that produced it. Detectors never fail: any
// internal error yields a zero contribution.
type Detector interface {
	Detect(feats map[string]any, agentID, eventType string) (float64, []string)
}

// fnum reads a numeric feature tolerating the types extractors emit.
func fnum(feats map[string]any, key string) float64 {
	switch v := feats[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func fbool(feats map[string]any, key string) bool {
	v, _ := feats[key].(bool)
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
