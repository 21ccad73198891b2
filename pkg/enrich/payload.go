package enrich

// Payload accessors tolerant of JSON's number typing: decoded numerics
// arrive as float64, but producers occasionally send ints or numeric
// strings for ids.

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadFloat(p map[string]any, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
