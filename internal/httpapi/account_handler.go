package httpapi

import (
	"net/http"
	"strings"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/utils"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type apiKeyResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"api_key"`
}

type loginResponse struct {
	Success bool                 `json:"success"`
	User    models.PublicAccount `json:"user"`
}

// MeResponse is the body of GET /me.
type MeResponse struct {
	Email      string              `json:"email"`
	APIKey     string              `json:"api_key"`
	LimitDaily int                 `json:"limit_daily"`
	UsedToday  int                 `json:"used_today"`
	TotalUsed  int                 `json:"total_used"`
	Logs       []models.UsageEntry `json:"logs"`
}

func (d *Dependencies) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (d *Dependencies) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req credentialsRequest
	if !d.decode(w, r, &req) {
		return
	}

	key, err := d.Accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, apiKeyResponse{Success: true, APIKey: key})
}

func (d *Dependencies) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req credentialsRequest
	if !d.decode(w, r, &req) {
		return
	}

	acc, err := d.Accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, loginResponse{Success: true, User: acc.Public()})
}

// handleResetKey issues a new key for an email. Like the rest of the account
// surface it is not authenticated beyond knowing the email.
func (d *Dependencies) handleResetKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req credentialsRequest
	if !d.decode(w, r, &req) {
		return
	}

	key, err := d.Accounts.ResetKey(r.Context(), req.Email)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, apiKeyResponse{Success: true, APIKey: key})
}

func (d *Dependencies) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	email := strings.TrimSpace(r.Header.Get("X-Email"))
	if email == "" {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing X-Email header")
		return
	}

	ctx := r.Context()
	acc, err := d.Accounts.Get(ctx, email)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	usage, err := d.Ledger.Get(ctx, acc.APIKey)
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	logs := usage.RecentLog
	if logs == nil {
		logs = []models.UsageEntry{}
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, MeResponse{
		Email:      acc.Email,
		APIKey:     acc.APIKey,
		LimitDaily: acc.DailyLimit,
		UsedToday:  usage.UsedToday,
		TotalUsed:  usage.TotalUsed,
		Logs:       logs,
	})
}
