package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/revclaw/internal/review"
)

// findingsSchema constrains the JSON reviewer agents must return.
const findingsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["text"],
		"properties": {
			"category": {"type": "string"},
			"text": {"type": "string", "minLength": 1},
			"file_path": {"type": "string"},
			"line": {"type": "integer", "minimum": 0},
			"severity": {"enum": ["low", "medium", "high", "critical"]}
		}
	}
}`

// FindingsValidator extracts the findings array from an agent response and
// validates it against the schema.
type FindingsValidator struct {
	schema *jsonschema.Schema
}

// NewFindingsValidator compiles the findings schema.
func NewFindingsValidator() (*FindingsValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(findingsSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal findings schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("findings.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("findings.json")
	if err != nil {
		return nil, fmt.Errorf("compile findings schema: %w", err)
	}
	return &FindingsValidator{schema: schema}, nil
}

// Parse pulls the findings array out of responseText and returns it decoded.
// Model output wraps JSON in prose or code fences more often than not, so
// extraction is lenient; validation is not.
func (v *FindingsValidator) Parse(responseText string) ([]review.Finding, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return nil, fmt.Errorf("response contains no JSON findings array")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON in response: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("findings fail schema: %w", err)
	}

	var findings []review.Finding
	if err := json.Unmarshal([]byte(jsonStr), &findings); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	return findings, nil
}

// extractJSON finds a JSON array or object in the response text.
func extractJSON(text string) string {
	// 1. Fenced JSON block: ```json\n...\n```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	// 2. Generic fenced block: ```\n...\n```
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	// 3. Raw JSON: first { or [ with a balanced closer.
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON structure from the start of the string.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
