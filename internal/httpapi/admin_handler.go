package httpapi

import (
	"net/http"
	"strconv"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/utils"
)

const (
	defaultAdminLogLimit = 50
	maxAdminLogLimit     = 1000
)

type activityResponse struct {
	Count   int                       `json:"count"`
	Entries []models.ActivityLogEntry `json:"entries"`
	Blocked string                    `json:"blocked,omitempty"`
}

type blocklistResponse struct {
	IPs []string `json:"ips"`
}

type blockResponse struct {
	Success bool   `json:"success"`
	IP      string `json:"ip"`
	Blocked bool   `json:"blocked"`
}

// handleAdminDashboard lists recent activity. ?block=<ip> blocks that IP
// first, mirroring the dashboard's inline block links.
func (d *Dependencies) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()

	var blocked string
	if ip := r.URL.Query().Get("block"); ip != "" {
		var err error
		if blocked, err = d.Blocklist.Block(ctx, ip); err != nil {
			d.writeError(w, r, err)
			return
		}
		d.logger.Info("IP blocked", "ip", blocked, "via", "admin")
	}

	entries, err := d.Activity.Recent(ctx, defaultAdminLogLimit)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, activityResponse{Count: len(entries), Entries: entries, Blocked: blocked})
}

func (d *Dependencies) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := defaultAdminLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAdminLogLimit)
	}

	entries, err := d.Activity.Recent(r.Context(), limit)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, activityResponse{Count: len(entries), Entries: entries})
}

func (d *Dependencies) handleAdminBlocklist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ips, err := d.Blocklist.List(r.Context())
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if ips == nil {
		ips = []string{}
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, blocklistResponse{IPs: ips})
}

func (d *Dependencies) handleAdminBlock(w http.ResponseWriter, r *http.Request) {
	d.setBlocked(w, r, true)
}

func (d *Dependencies) handleAdminUnblock(w http.ResponseWriter, r *http.Request) {
	d.setBlocked(w, r, false)
}

func (d *Dependencies) setBlocked(w http.ResponseWriter, r *http.Request, block bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	raw := r.URL.Query().Get("ip")
	if raw == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "ip is required")
		return
	}

	var (
		ip  string
		err error
	)
	if block {
		ip, err = d.Blocklist.Block(r.Context(), raw)
	} else {
		ip, err = d.Blocklist.Unblock(r.Context(), raw)
	}
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	d.logger.Info("Blocklist updated", "ip", ip, "blocked", block, "via", "admin")
	_ = utils.RespondWithJSON(w, http.StatusOK, blockResponse{Success: true, IP: ip, Blocked: block})
}

func (d *Dependencies) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	res, err := d.Gateway.Reset(r.Context())
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	d.logger.Info("Logs reset", "archived", res.Archived, "deleted_logs", res.DeletedLogs, "deleted_usage", res.DeletedUsage)
	_ = utils.RespondWithJSON(w, http.StatusOK, res)
}
