package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/wanz-bot/Api/internal/ratelimit"
	"github.com/wanz-bot/Api/internal/utils"
)

// RateLimit throttles each client IP to perMinute requests. perMinute <= 0
// disables it. Limiter errors let the request through.
func RateLimit(limiter ratelimit.Limiter, perMinute int) func(http.Handler) http.Handler {
	logger := utils.NewLogger("ratelimit")
	return func(next http.Handler) http.Handler {
		if perMinute <= 0 || limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			allowed, remaining, resetAt, err := limiter.AllowWithDetails(r.Context(), ip, perMinute)
			if err != nil {
				logger.Error("Rate limit check failed", "ip", ip, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !resetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			}

			if !allowed {
				retry := time.Until(resetAt).Seconds()
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
				utils.RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
