package playbook

import "strings"

// EvaluatePreconditions checks every predicate against the context
// (typically {"alert": <alert map>}). Predicate forms:
//
//	{equals:   {path: "alert.severity", value: "critical"}}
//	{contains: {path: "alert.details.reasons.rule", value: "rule_1"}}
//	{<key>: <value>}  — equality against alert[<key>]
//
// Dotted paths traverse nested maps. All predicates must hold.
func EvaluatePreconditions(conds []map[string]any, ctx map[string]any) bool {
	for _, cond := range conds {
		if eq, ok := cond["equals"].(map[string]any); ok {
			path, _ := eq["path"].(string)
			if lookupPath(ctx, path) != eq["value"] {
				return false
			}
			continue
		}
		if ct, ok := cond["contains"].(map[string]any); ok {
			path, _ := ct["path"].(string)
			if !containsValue(lookupPath(ctx, path), ct["value"]) {
				return false
			}
			continue
		}

		alert, _ := ctx["alert"].(map[string]any)
		for k, v := range cond {
			if alert == nil || alert[k] != v {
				return false
			}
		}
	}
	return true
}

// lookupPath walks dotted keys through nested maps; any miss yields nil.
func lookupPath(obj map[string]any, dotted string) any {
	var cur any = obj
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// containsValue implements the contains predicate over strings and slices.
func containsValue(container, val any) bool {
	switch c := container.(type) {
	case string:
		s, ok := val.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, item := range c {
			if item == val {
				return true
			}
		}
	case []string:
		s, ok := val.(string)
		if !ok {
			return false
		}
		for _, item := range c {
			if item == s {
				return true
			}
		}
	}
	return false
}
