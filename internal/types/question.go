package types

// QuestionType distinguishes single-answer from multiple-answer questions.
type QuestionType string

const (
	// QuestionSingle has exactly one correct option.
	QuestionSingle QuestionType = "single"
	// QuestionMultiple has one or more correct options.
	QuestionMultiple QuestionType = "multiple"
)

// Question is one extracted quiz question. CorrectIndex is meaningful for
// single questions, CorrectIndexes for multiple; both are 0-based positions
// into Options. Hash is the canonical duplicate-detection fingerprint and
// ChunkIndex records the chunk that first produced the question.
type Question struct {
	Text           string       `json:"text"`
	Options        []string     `json:"options"`
	Type           QuestionType `json:"type"`
	CorrectIndex   int          `json:"correct_index"`
	CorrectIndexes []int        `json:"correct_indexes,omitempty"`
	Images         []string     `json:"images,omitempty"`

	Hash       string `json:"hash,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}
