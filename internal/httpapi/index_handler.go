package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/wanz-bot/Api/internal/utils"
)

type endpointDoc struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var endpointDocs = []endpointDoc{
	{"POST", "/register", `create an account: {"email","password"} -> {"success","api_key"}`},
	{"POST", "/login", `{"email","password"} -> {"success","user"}`},
	{"POST", "/reset-key", `{"email"} -> {"success","api_key"}; the old key stops working`},
	{"GET", "/me", "header X-Email -> account and usage"},
	{"POST", "/ai", `header "Authorization: Bearer <api_key>", body {"model"?,"prompt"}`},
}

// handleIndex describes the API. Unknown paths fall through to it and get 404.
func (d *Dependencies) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		utils.RespondWithError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"name":          "AI gateway",
		"default_model": d.Config.Provider.DefaultModel,
		"endpoints":     endpointDocs,
	})
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		d.logger.Warn("Health check failed", "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
