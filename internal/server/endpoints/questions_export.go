package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/export"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/svcctx"
)

// ExportQuestionsEndpoint handles GET /api/jobs/{job_id}/questions/export.
type ExportQuestionsEndpoint struct{}

var _ api.Endpoint = (*ExportQuestionsEndpoint)(nil)

func (e *ExportQuestionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{job_id}/questions/export", e.handler
}

func (e *ExportQuestionsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Export questions as a spreadsheet
//	@Description	Downloads the job's questions as an Excel workbook or CSV file
//	@Tags			questions
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Param			job_id	path		string	true	"Job ID"
//	@Param			format	query		string	false	"File format: xlsx (default) or csv"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id}/questions/export [get]
func (e *ExportQuestionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

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

	data, err := export.Render(format, questions)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("quizmill-%s.%s", jobID, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

func (e *ExportQuestionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		format     string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Download a job's questions as xlsx or csv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/jobs/%s/questions/export?format=%s", args[0], f)
			data, err := client.GetRaw(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := outputFile
			if out == "" {
				out = fmt.Sprintf("quizmill-%s.%s", args[0], f)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			cmd.Printf("wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "xlsx", "Export format: xlsx or csv")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: quizmill-<job-id>.<format>)")
	return cmd
}
