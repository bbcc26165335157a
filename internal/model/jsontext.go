package model

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSONObject = errors.New("no json object in model output")

// ExtractJSONObject returns the first JSON object in text. Models often wrap
// their answer in ```json fences or add a sentence before it.
func ExtractJSONObject(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if end := strings.LastIndex(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	for start >= 0 {
		dec := json.NewDecoder(strings.NewReader(trimmed[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
		next := strings.Index(trimmed[start+1:], "{")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSONObject
}
