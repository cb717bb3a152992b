package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/svcctx"
	"github.com/quizmill/quizmill/internal/types"
)

// QuestionsResponse is the response for listing a job's questions.
type QuestionsResponse struct {
	JobID     string           `json:"job_id"`
	Count     int              `json:"count"`
	Questions []types.Question `json:"questions"`
}

// QuestionsEndpoint handles GET /api/jobs/{job_id}/questions.
type QuestionsEndpoint struct{}

var _ api.Endpoint = (*QuestionsEndpoint)(nil)

func (e *QuestionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{job_id}/questions", e.handler
}

func (e *QuestionsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List extracted questions
//	@Description	Deduplicated questions collected so far, in extraction order
//	@Tags			questions
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{object}	QuestionsResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id}/questions [get]
func (e *QuestionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	store := svcctx.StoreFrom(r.Context())
	questions, err := store.Questions(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found: "+jobID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, QuestionsResponse{
		JobID:     jobID,
		Count:     len(questions),
		Questions: questions,
	})
}

func (e *QuestionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "questions <job-id>",
		Short: "List the questions extracted for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp QuestionsResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/questions", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
