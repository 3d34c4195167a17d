// Package security keeps credentials out of logs.
package security

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

var (
	secretKeyExpr     = `(?:password|passwd|secret|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*|stream[_-]?key)`
	secretKeyPattern  = regexp.MustCompile(`(?i)^` + secretKeyExpr + `$`)
	kvSecretPattern   = regexp.MustCompile(`(?i)(` + secretKeyExpr + `)\s*[:=]\s*(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"']+)`)
	bearerPattern     = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	rtmpURLPattern    = regexp.MustCompile(`(?i)\b(rtmps?://[^\s/]+/[^\s/]+/)[^\s"']+`)
	credentialURLExpr = regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^\s/@:]+:[^\s/@]+@`)
)

// RedactText masks secret-looking values in free text.
func RedactText(input string) string {
	if input == "" {
		return ""
	}
	out := kvSecretPattern.ReplaceAllStringFunc(input, func(match string) string {
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return redacted
		}
		return match[:idx+1] + " " + redacted
	})
	out = bearerPattern.ReplaceAllString(out, "Bearer "+redacted)
	out = rtmpURLPattern.ReplaceAllString(out, "${1}"+redacted)
	out = credentialURLExpr.ReplaceAllString(out, "${1}"+redacted+"@")
	return out
}

// RedactCommandPayload renders a command payload for logging. Environment
// updates carry secrets by nature, so only their variable names survive.
// Other payloads keep their shape with secret-named fields masked.
func RedactCommandPayload(action string, payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return RedactText(string(payload))
	}
	if action == "update_env" {
		if obj, ok := decoded.(map[string]any); ok {
			names := make([]string, 0, len(obj))
			for name := range obj {
				names = append(names, name)
			}
			sort.Strings(names)
			return "keys=" + strings.Join(names, ",")
		}
		return redacted
	}
	out, err := json.Marshal(redactValue(decoded))
	if err != nil {
		return redacted
	}
	return RedactText(string(out))
}

func redactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for key, inner := range typed {
			if secretKeyPattern.MatchString(key) {
				typed[key] = redacted
				continue
			}
			typed[key] = redactValue(inner)
		}
		return typed
	case []any:
		for i, inner := range typed {
			typed[i] = redactValue(inner)
		}
		return typed
	default:
		return v
	}
}

// MaskAPIKey keeps a short prefix of key for correlating log lines.
func MaskAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", 8)
}
