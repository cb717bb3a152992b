package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/svcctx"
)

// JobMetricsEndpoint handles GET /api/jobs/{job_id}/metrics.
type JobMetricsEndpoint struct{}

var _ api.Endpoint = (*JobMetricsEndpoint)(nil)

func (e *JobMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{job_id}/metrics", e.handler
}

func (e *JobMetricsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Job extraction metrics
//	@Description	Aggregated model call counts and token usage for one job
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{object}	jobstore.JobMetrics
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id}/metrics [get]
func (e *JobMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("job_id")

	store := svcctx.StoreFrom(ctx)
	if _, err := store.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found: "+jobID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics, err := store.JobUsage(ctx, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (e *JobMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <job-id>",
		Short: "Show model usage for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var metrics jobstore.JobMetrics
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/metrics", &metrics); err != nil {
				return err
			}
			return api.Output(metrics)
		},
	}
}
