package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/svcctx"
)

// StatusResponse summarizes the store and the extraction engines.
type StatusResponse struct {
	Store   *jobstore.Stats `json:"store"`
	Engines EnginesStatus   `json:"engines"`
}

// EnginesStatus lists the registered extraction engines.
type EnginesStatus struct {
	Default    string   `json:"default"`
	Registered []string `json:"registered"`
}

// StatusEndpoint handles GET /api/status.
type StatusEndpoint struct{}

var _ api.Endpoint = (*StatusEndpoint)(nil)

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get store statistics
//	@Description	Job counts by status plus question and extraction totals
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.StoreFrom(r.Context())
	stats, err := store.StoreStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatusResponse{Store: stats}
	if engines := svcctx.EnginesFrom(r.Context()); engines != nil {
		resp.Engines.Default = engines.Default()
		resp.Engines.Registered = engines.Names()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get store statistics and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/api/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
