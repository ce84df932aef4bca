// Package middleware provides the HTTP middleware of the pipeline API:
// session authentication, CORS and per-owner rate limiting.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/apikey"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

// Authenticator resolves a raw session token. *apikey.Validator satisfies it.
type Authenticator interface {
	Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error)
}

// Auth rejects requests without a valid session token and stores the
// resulting principal in the request context. Tokens are read from
// Authorization: Bearer, then X-API-Key.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractToken(r)
			if key == "" {
				respond.Error(w, logger, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "missing session token"), "")
				return
			}

			info, err := a.Validate(r.Context(), key)
			switch {
			case errors.Is(err, apikey.ErrInvalidKey):
				respond.Error(w, logger, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "invalid session token"), "")
				return
			case errors.Is(err, apikey.ErrExpiredKey):
				respond.Error(w, logger, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "expired session token"), "")
				return
			case err != nil:
				respond.Error(w, logger, err, "authentication error")
				return
			}

			ctx := auth.WithPrincipal(r.Context(), info.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}
