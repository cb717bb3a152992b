package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/ingest"
	"github.com/quizmill/quizmill/internal/svcctx"
	"github.com/quizmill/quizmill/internal/types"
)

// DefaultOwner is used when an upload carries no X-Owner header.
const DefaultOwner = "local"

// UploadJobEndpoint handles POST /api/jobs with a multipart PDF upload.
type UploadJobEndpoint struct{}

var _ api.Endpoint = (*UploadJobEndpoint)(nil)

func (e *UploadJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *UploadJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload a PDF and create an extraction job
//	@Description	Upload one PDF; the server stores it, plans the chunks, and returns the job
//	@Tags			jobs
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"PDF to extract questions from"
//	@Param			title	formData	string	false	"Job title (derived from filename if not provided)"
//	@Param			X-Owner	header		string	false	"Owner token (default: local)"
//	@Success		202		{object}	types.Job
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *UploadJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 500 << 20 // 500MB
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s is not a PDF", header.Filename))
		return
	}

	owner := r.Header.Get("X-Owner")
	if owner == "" {
		owner = DefaultOwner
	}

	ingester := svcctx.IngesterFrom(r.Context())
	job, err := ingester.Ingest(r.Context(), ingest.Request{
		Owner:    owner,
		Title:    r.FormValue("title"),
		Filename: header.Filename,
		File:     file,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (e *UploadJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF and create an extraction job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			fields := map[string]string{}
			if title != "" {
				fields["title"] = title
			}

			client := api.NewClient(getServerURL())
			var job types.Job
			if err := client.Upload(cmd.Context(), "/api/jobs", "file", filepath.Base(path), f, fields, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Job title (defaults to the file name)")
	return cmd
}
