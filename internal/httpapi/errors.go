package httpapi

import (
	"net/http"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/utils"
)

// writeError maps a domain error to its status code and writes {"error": ...}.
// Unexpected errors are logged and reported as "internal error".
func (d *Dependencies) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := models.StatusCode(err)
	if status == http.StatusInternalServerError {
		d.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	utils.RespondWithError(w, status, models.PublicMessage(err))
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
}
