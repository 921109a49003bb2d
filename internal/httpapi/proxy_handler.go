package httpapi

import (
	"net/http"
	"strconv"

	"github.com/wanz-bot/Api/internal/gateway"
	"github.com/wanz-bot/Api/internal/middleware"
	"github.com/wanz-bot/Api/internal/utils"
)

type aiRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// handleAI forwards a prompt to the inference backend.
//
// Flow (inside gateway.Service):
//  1. Blocklist check on the client IP (RealIP resolved it)
//  2. Resolve the Bearer API key
//  3. Validate prompt, default the model
//  4. Daily quota admission
//  5. Provider call under a timeout
//  6. Record usage, log activity, notify
//
// The provider's JSON is returned unchanged.
func (d *Dependencies) handleAI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	apiKey := middleware.APIKeyFromRequest(r)
	ip := middleware.ClientIP(r)

	var body aiRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		// blocked IPs and bad keys are rejected before the body is judged
		if _, authErr := d.Gateway.Authorize(r.Context(), ip, apiKey); authErr != nil {
			d.writeError(w, r, authErr)
			return
		}
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := d.Gateway.HandleRequest(r.Context(), gateway.Request{
		APIKey: apiKey,
		IP:     ip,
		Model:  body.Model,
		Prompt: body.Prompt,
	})
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	if res.DailyLimit > 0 {
		w.Header().Set("X-Quota-Limit", strconv.Itoa(res.DailyLimit))
		w.Header().Set("X-Quota-Used", strconv.Itoa(res.UsedToday))
	}
	utils.RespondWithRawJSON(w, http.StatusOK, res.Body)
}
