package journal

import (
	"regexp"
	"strings"
)

// sensitiveKeySubstrings lists substrings of payload keys that commonly carry
// credentials. The match is case-insensitive and substring-based so
// "api_key", "apiKey", and "x-api-key" are all caught.
var sensitiveKeySubstrings = []string{"token", "secret", "api_key", "api-key", "apikey", "password", "authorization"}

// bearerPattern matches a bearer-token-shaped value embedded in a string,
// independent of which key it was stored under.
var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)

const redactedPlaceholder = "[redacted]"

// redactPayload returns a copy of payload with sensitive keys and
// bearer-token-shaped string values replaced by a placeholder. The original
// map is never mutated, since callers may still hold a reference to it for
// logging or metrics.
func redactPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v any) any {
	if isSensitiveKey(key) {
		return redactedPlaceholder
	}
	switch val := v.(type) {
	case string:
		if bearerPattern.MatchString(val) {
			return bearerPattern.ReplaceAllString(val, "Bearer "+redactedPlaceholder)
		}
		return val
	case map[string]any:
		return redactPayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue("", item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range sensitiveKeySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
