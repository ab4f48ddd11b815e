package runner

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON value out of raw model output. The whole reply
// is tried first; models often wrap JSON in a fenced code block instead, so
// the first fence tagged json is tried next, then the first fence of any
// kind. Returns false when nothing parses.
func ExtractJSON(raw string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}

	for _, tag := range []string{"```json", "```"} {
		if inner, ok := fencedBlock(raw, tag); ok {
			inner = strings.TrimSpace(inner)
			if json.Valid([]byte(inner)) {
				return json.RawMessage(inner), true
			}
		}
	}

	return nil, false
}

func fencedBlock(raw, opening string) (string, bool) {
	start := strings.Index(raw, opening)
	if start < 0 {
		return "", false
	}

	inner := raw[start+len(opening):]
	// An untagged fence may still carry a language tag; drop the rest of
	// the opening line.
	if nl := strings.Index(inner, "\n"); nl >= 0 {
		first := strings.TrimSpace(inner[:nl])
		if first != "" && !strings.HasPrefix(first, "{") && !strings.HasPrefix(first, "[") {
			inner = inner[nl+1:]
		}
	}

	end := strings.Index(inner, "```")
	if end < 0 {
		return "", false
	}
	return inner[:end], true
}
