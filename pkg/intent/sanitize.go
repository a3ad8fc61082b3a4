package intent

import "strings"

// Redacted is the literal that replaces every sensitive value in artifacts.
const Redacted = "[REDACTED]"

// SanitizeContext returns a deep copy of the raw context with every value
// whose key, or any ancestor key, contains a sensitive keyword replaced by
// the redaction literal. Keyword matching is case-insensitive.
func SanitizeContext(raw map[string]any, sensitiveKeywords []string) map[string]any {
	keywords := make([]string, 0, len(sensitiveKeywords))
	for _, k := range sensitiveKeywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	out, _ := sanitizeNode(raw, keywords, false)
	m, ok := out.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

func sanitizeNode(node any, keywords []string, underSensitive bool) (any, bool) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			sensitive := underSensitive || keyIsSensitive(k, keywords)
			sanitized, leaf := sanitizeNode(child, keywords, sensitive)
			if sensitive && leaf {
				out[k] = Redacted
				continue
			}
			out[k] = sanitized
		}
		return out, false
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			sanitized, leaf := sanitizeNode(child, keywords, underSensitive)
			if underSensitive && leaf {
				out = append(out, Redacted)
				continue
			}
			out = append(out, sanitized)
		}
		return out, false
	default:
		return v, true
	}
}

func keyIsSensitive(key string, keywords []string) bool {
	lk := strings.ToLower(key)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lk, kw) {
			return true
		}
	}
	return false
}
