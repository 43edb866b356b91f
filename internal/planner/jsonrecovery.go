package planner

import "strings"

// extractBalancedObject scans s for the first brace-balanced "{...}"
// substring, tolerating surrounding prose ("Here is my plan: {...}"). It is
// the same balanced-scan technique the teacher's API-error payload extractor
// uses, generalized here to recover a PlannerOutput object a model wrapped
// in commentary instead of emitting bare JSON.
func extractBalancedObject(s string) (string, bool) {
	return extractBalanced(s, '{', '}')
}

// extractBalancedArray is extractBalancedObject's counterpart for a raw
// tool-call array ("[{...}, {...}]").
func extractBalancedArray(s string) (string, bool) {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close rune) (string, bool) {
	start := strings.IndexRune(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i, ch := range s[start:] {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : start+i+1], true
			}
		}
	}
	return "", false
}

// stripCodeFence removes a leading/trailing ``` or ```json fence, which
// models reliably wrap structured output in despite being told not to.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.Index(t, "\n"); i >= 0 && i < 10 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
