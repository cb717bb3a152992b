package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/extract"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/pipeline"
	"github.com/quizmill/quizmill/internal/svcctx"
	"github.com/quizmill/quizmill/internal/types"
)

// ConflictResponse is the body of a 409 or 429 response. RetryAfterMS,
// when nonzero, is the server's suggested wait before retrying.
type ConflictResponse struct {
	Error        string `json:"error"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// ChunkFailedResponse is the body of a 422 response. JobFailed reports
// that this failure hit the ceiling and aborted the whole job.
type ChunkFailedResponse struct {
	Error     string `json:"error"`
	JobFailed bool   `json:"job_failed"`
}

// ProcessChunkEndpoint handles POST /api/jobs/{job_id}/chunks/{index}/process.
type ProcessChunkEndpoint struct{}

var _ api.Endpoint = (*ProcessChunkEndpoint)(nil)

func (e *ProcessChunkEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{job_id}/chunks/{index}/process", e.handler
}

func (e *ProcessChunkEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Process one chunk
//	@Description	Claims the chunk for the requesting actor, extracts questions from its pages and merges them into the job
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			job_id	path		string				true	"Job ID"
//	@Param			index	path		int					true	"Chunk index"
//	@Param			request	body		types.ProcessRequest	true	"Actor identity"
//	@Success		200		{object}	types.ProcessResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ConflictResponse
//	@Failure		422		{object}	ChunkFailedResponse
//	@Failure		429		{object}	ConflictResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id}/chunks/{index}/process [post]
func (e *ProcessChunkEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("job_id")

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk index: "+r.PathValue("index"))
		return
	}

	var req types.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	processor := svcctx.ProcessorFrom(ctx)
	result, err := processor.ProcessChunk(ctx, jobID, index, req.Actor)
	if err != nil {
		e.writeProcessError(w, r, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, types.ProcessResponse{
		Status:        types.ProcessStatusAccepted,
		JobCompleted:  result.JobCompleted,
		QuestionCount: result.QuestionCount,
		Added:         result.Added,
		Extracted:     result.Extracted,
		Invalid:       result.Invalid,
	})
}

// writeProcessError maps processing failures onto the status codes the
// client retry logic keys off: 409/429 mean "try again later", 422 means
// "this chunk failed", anything else is terminal for the request only.
func (e *ProcessChunkEndpoint) writeProcessError(w http.ResponseWriter, r *http.Request, jobID string, err error) {
	var (
		lockErr  *jobstore.LockConflictError
		rateErr  *extract.RateLimitError
		chunkErr *pipeline.ChunkFailedError
	)

	switch {
	case errors.Is(err, jobstore.ErrChunkDone):
		// Replay or lost race: the work already happened, report success
		// so the caller marks this chunk finished and moves on.
		resp := types.ProcessResponse{Status: types.ProcessStatusDone}
		if job, jerr := svcctx.StoreFrom(r.Context()).GetJob(r.Context(), jobID); jerr == nil {
			resp.JobCompleted = job.Status == types.JobCompleted
			resp.QuestionCount = job.QuestionCount
		}
		writeJSON(w, http.StatusOK, resp)

	case errors.Is(err, jobstore.ErrJobNotFound), errors.Is(err, jobstore.ErrChunkNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.As(err, &lockErr):
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:        lockErr.Error(),
			RetryAfterMS: lockErr.RetryAfter.Milliseconds(),
		})

	case errors.Is(err, jobstore.ErrLockLost):
		writeJSON(w, http.StatusConflict, ConflictResponse{Error: err.Error()})

	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, ConflictResponse{
			Error:        rateErr.Error(),
			RetryAfterMS: rateErr.RetryAfter.Milliseconds(),
		})

	case errors.As(err, &chunkErr):
		writeJSON(w, http.StatusUnprocessableEntity, ChunkFailedResponse{
			Error:     chunkErr.Reason,
			JobFailed: chunkErr.JobFailed,
		})

	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (e *ProcessChunkEndpoint) Command(getServerURL func() string) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "process <job-id> <chunk-index>",
		Short: "Process a single chunk of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("chunk index must be a number, got %q", args[1])
			}
			if actor == "" {
				host, _ := os.Hostname()
				if host == "" {
					host = "client"
				}
				actor = fmt.Sprintf("%s-%d", host, os.Getpid())
			}

			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/jobs/%s/chunks/%d/process", args[0], index)
			var resp types.ProcessResponse
			if err := client.Post(cmd.Context(), path, types.ProcessRequest{Actor: actor}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Lock identity to claim the chunk under (default: hostname-pid)")
	return cmd
}
