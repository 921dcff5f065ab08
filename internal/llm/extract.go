package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// contentToJSON turns the provider's message content into a JSON payload.
// Content may be a plain string, a list of text fragments, or an inline
// structured object (some providers return the object directly when a schema
// format was requested).
func contentToJSON(raw any) (json.RawMessage, error) {
	switch v := raw.(type) {
	case string:
		return ExtractJSONObject(v)
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	case []any:
		var b strings.Builder
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if txt, ok := obj["text"].(string); ok {
				b.WriteString(txt)
				continue
			}
			if txt, ok := obj["content"].(string); ok {
				b.WriteString(txt)
			}
		}
		return ExtractJSONObject(b.String())
	default:
		return nil, errors.New("message content has no extractable text")
	}
}

// ExtractJSONObject extracts a JSON object from free-form model text.
// Strategies in order: direct parse, parse after stripping Markdown code
// fences, then a string/escape-aware scan for the first balanced {...} block.
// This tolerates models that wrap JSON in prose despite instructions.
func ExtractJSONObject(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty content")
	}

	if json.Valid([]byte(raw)) && strings.HasPrefix(raw, "{") {
		return json.RawMessage(raw), nil
	}

	stripped := stripCodeFences(raw)
	if stripped != raw && json.Valid([]byte(stripped)) && strings.HasPrefix(stripped, "{") {
		return json.RawMessage(stripped), nil
	}

	candidate, ok := scanBalancedObject(stripped)
	if !ok {
		candidate, ok = scanBalancedObject(raw)
	}
	if !ok {
		return nil, errors.New("content does not contain a json object")
	}
	if !json.Valid([]byte(candidate)) {
		return nil, errors.New("balanced candidate is not valid json")
	}
	return json.RawMessage(candidate), nil
}

// stripCodeFences removes a surrounding Markdown code fence, including any
// language tag on the opening fence line
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// scanBalancedObject finds the first balanced top-level {...} block in s.
// The scanner tracks string and escape state so that braces inside JSON
// string literals do not affect the depth count.
func scanBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// boundedSnippet returns a prefix and suffix of raw for parse-failure logging
// without dumping the whole output
func boundedSnippet(raw string, radius int) string {
	if len(raw) <= 2*radius {
		return raw
	}
	return raw[:radius] + " ... " + raw[len(raw)-radius:]
}
