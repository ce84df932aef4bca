package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

// RateLimit throttles each owner to the rate carried by its session token,
// or defaultLimit when the token has none. Requests without a principal
// pass through; Auth runs first and rejects them.
func RateLimit(limiter *ratelimit.Limiter, defaultLimit int) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "ratelimit-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			limit := p.RateLimit
			if limit <= 0 {
				limit = defaultLimit
			}
			allowed, wait := limiter.Allow(p.OwnerID, limit)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				respond.Error(w, logger, apperrors.New(apperrors.ErrRateLimited, http.StatusTooManyRequests, "rate limit exceeded"), "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
