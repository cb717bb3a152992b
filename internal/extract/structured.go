package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quizmill/quizmill/internal/types"
)

// questionSchema is the canonical JSON schema for one extracted
// question. Model responses are validated against it element by element
// so one malformed question never poisons the rest of a chunk.
const questionSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string", "minLength": 1},
    "options": {"type": "array", "items": {"type": "string"}, "minItems": 2},
    "type": {"type": "string", "enum": ["single", "multiple"]},
    "correct_index": {"type": "integer", "minimum": 0},
    "correct_indexes": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "images": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["text", "options", "type"]
}`

var compiledQuestionSchema = jsonschema.MustCompileString("question.json", questionSchema)

// DecodeQuestions parses model output into questions. Elements that fail
// the schema are dropped rather than fatal and their count is returned
// so callers can log it. Output with no parseable JSON array at all is
// an error.
func DecodeQuestions(content string) ([]types.Question, int, error) {
	elems, err := parseQuestionArray(content)
	if err != nil {
		return nil, 0, err
	}

	var out []types.Question
	dropped := 0
	for _, elem := range elems {
		var doc any
		if err := json.Unmarshal(elem, &doc); err != nil {
			dropped++
			continue
		}
		if err := compiledQuestionSchema.Validate(doc); err != nil {
			dropped++
			continue
		}
		var q types.Question
		if err := json.Unmarshal(elem, &q); err != nil {
			dropped++
			continue
		}
		out = append(out, q)
	}
	return out, dropped, nil
}

// parseQuestionArray locates the question array in model output.
// Accepts a bare array or an object wrapping it under "questions".
func parseQuestionArray(content string) ([]json.RawMessage, error) {
	raw, err := parseStructuredJSON(content)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err == nil {
			return arr, nil
		}
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Questions []json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err == nil && wrapper.Questions != nil {
			return wrapper.Questions, nil
		}
	}

	return nil, fmt.Errorf("structured output is not a question array")
}

// parseStructuredJSON parses JSON from model output, with lightweight
// recovery for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}

	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && arrayStart >= 0:
		if objectStart < arrayStart {
			start = objectStart
			closeChar = "}"
		} else {
			start = arrayStart
			closeChar = "]"
		}
	case objectStart >= 0:
		start = objectStart
		closeChar = "}"
	case arrayStart >= 0:
		start = arrayStart
		closeChar = "]"
	default:
		return ""
	}

	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}
