package types

// Process call statuses. A process call that finds the chunk already
// completed reports done instead of an error, since done is terminal and
// the work it asked for exists.
const (
	ProcessStatusAccepted = "accepted"
	ProcessStatusDone     = "done"
)

// ProcessRequest asks the server to process one chunk on behalf of an
// actor. The actor string scopes the chunk lock.
type ProcessRequest struct {
	Actor string `json:"actor"`
}

// ProcessResponse reports the outcome of a successful process call.
type ProcessResponse struct {
	Status        string `json:"status"`
	JobCompleted  bool   `json:"job_completed,omitempty"`
	QuestionCount int    `json:"question_count,omitempty"`
	Added         int    `json:"added,omitempty"`
	Extracted     int    `json:"extracted,omitempty"`
	Invalid       int    `json:"invalid,omitempty"`
}
