package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/svcctx"
)

// DeleteJobResponse confirms a job deletion.
type DeleteJobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// DeleteJobEndpoint handles DELETE /api/jobs/{job_id}.
type DeleteJobEndpoint struct{}

var _ api.Endpoint = (*DeleteJobEndpoint)(nil)

func (e *DeleteJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/{job_id}", e.handler
}

func (e *DeleteJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a job
//	@Description	Removes the job, its questions and the stored document. Deleting an absent job is not an error.
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{object}	DeleteJobResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id} [delete]
func (e *DeleteJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	ctx := r.Context()

	store := svcctx.StoreFrom(ctx)
	storageKey, err := store.DeleteJob(ctx, jobID)
	if err != nil && !errors.Is(err, jobstore.ErrJobNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if storageKey != "" {
		if ingester := svcctx.IngesterFrom(ctx); ingester != nil {
			if err := ingester.Remove(storageKey); err != nil {
				svcctx.LoggerFrom(ctx).Warn("failed to remove document file",
					"job_id", jobID, "storage_key", storageKey, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, DeleteJobResponse{Status: "deleted", JobID: jobID})
}

func (e *DeleteJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DeleteJobResponse
			if err := client.Delete(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
