package prompt

import (
	"bytes"
	"encoding/json"
	"strings"
)

const maxTags = 50

type Result struct {
	Summary        string   `json:"summary"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Tags           []string `json:"tags"`
	Notes          string   `json:"notes"`
}

// extractObject decodes the outermost {...} span of text, or the whole text
// when there is none. It returns nil when nothing decodes to an object.
func extractObject(text string) map[string]any {
	candidate := text
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate = text[start : end+1]
	}
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return obj
}

// ParseResult reads the model text leniently. Missing or mistyped fields fall
// back to empty values, and the prompt falls back to the raw text.
func ParseResult(text string) Result {
	obj := extractObject(text)
	res := Result{Prompt: text, Tags: []string{}}
	if obj == nil {
		return res
	}
	if s, ok := obj["summary"].(string); ok {
		res.Summary = s
	}
	if s, ok := obj["prompt"].(string); ok {
		res.Prompt = s
	}
	if s, ok := obj["negative_prompt"].(string); ok {
		res.NegativePrompt = s
	}
	if s, ok := obj["notes"].(string); ok {
		res.Notes = s
	}
	if list, ok := obj["tags"].([]any); ok {
		for _, v := range list {
			if len(res.Tags) == maxTags {
				break
			}
			res.Tags = append(res.Tags, tagString(v))
		}
	}
	return res
}

func tagString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return ""
		}
		return strings.TrimSpace(buf.String())
	}
}
