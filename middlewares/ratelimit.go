package middlewares

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/utils"
)

// RateLimit caps each client IP at rps requests per second. Over-limit
// requests get 429 with a JSON error body.
//
// With trustedProxies == 0 the client is the TCP peer and forwarding headers
// are ignored. Otherwise the client is the X-Forwarded-For entry added by the
// outermost trusted proxy; anything the client put in front of it is skipped.
func RateLimit(rps float64, trustedProxies int, logger *zap.Logger) func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lookups := []string{"RemoteAddr"}
	if trustedProxies > 0 {
		lookups = []string{"X-Forwarded-For", "RemoteAddr"}
		lmt.SetForwardedForIndexFromBehind(trustedProxies - 1)
	}
	lmt.SetIPLookups(lookups)

	body, _ := json.Marshal(map[string]string{"error": utils.GenericRateLimitError})
	lmt.SetMessage(string(body))
	lmt.SetMessageContentType("application/json")
	lmt.SetOnLimitReached(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("rate limit reached",
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", r.RemoteAddr),
			zap.String("requestId", RequestIDFromContext(r.Context())),
		)
	})

	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}
