package extract

import "strings"

// systemPrompt frames every extraction call.
const systemPrompt = `You are an expert at extracting multiple-choice quiz questions from exam and textbook material. You respond with JSON only.`

// DefaultPrompt is the instruction block sent with every chunk unless
// overridden by the extraction.prompt setting.
const DefaultPrompt = `Extract every multiple-choice quiz question that appears in the document text below.

Rules:
- Copy question text and options exactly as written, dropping numbering and lettering prefixes like "12." or "(b)".
- "type" is "single" when exactly one option is correct and "multiple" when several are.
- For single answer questions set "correct_index" to the zero-based index of the correct option.
- For multiple answer questions set "correct_indexes" to the zero-based indexes of all correct options.
- When the text marks the answer (answer key, bold option, asterisk) use it; otherwise pick the most plausible option.
- Skip headings, instructions, page furniture, and prose that is not an actual question.

Each question object looks like:
{"text": "...", "options": ["...", "..."], "type": "single", "correct_index": 0}
or
{"text": "...", "options": ["...", "..."], "type": "multiple", "correct_indexes": [0, 2]}

Return a JSON array of question objects and nothing else. Return [] when the text contains no questions.`

// strictJSONReminder is appended when a previous attempt returned
// malformed output.
const strictJSONReminder = `Return ONLY a valid JSON array (no markdown, no commentary) matching the required question shape exactly.`

// BuildPrompt assembles the user prompt for one chunk.
func BuildPrompt(instructions, text string, attempt int) string {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultPrompt
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	if attempt > 1 {
		sb.WriteString("\n\n")
		sb.WriteString(strictJSONReminder)
	}
	sb.WriteString("\n\nDocument text:\n")
	sb.WriteString(text)
	return sb.String()
}
