package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/ratelimit"
)

type fakeAuthenticator map[string]*apikey.KeyInfo

func (f fakeAuthenticator) Validate(_ context.Context, raw string) (*apikey.KeyInfo, error) {
	switch raw {
	case "expired":
		return nil, apikey.ErrExpiredKey
	case "broken":
		return nil, errors.New("db down")
	}
	if k, ok := f[raw]; ok {
		return k, nil
	}
	return nil, apikey.ErrInvalidKey
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte(p.OwnerID))
	})
}

func TestAuth(t *testing.T) {
	a := fakeAuthenticator{"good": {ID: "1", OwnerID: "u1", Role: "user"}}
	h := Auth(a)(principalEcho())

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer good", http.StatusOK},
		{"x-api-key", "X-API-Key", "good", http.StatusOK},
		{"unknown", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"expired", "X-API-Key", "expired", http.StatusUnauthorized},
		{"store error", "X-API-Key", "broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/forms", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && rec.Body.String() != "u1" {
				t.Errorf("principal owner = %q", rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerOwner(t *testing.T) {
	limiter := ratelimit.New(time.Minute)
	defer limiter.Close()
	h := RateLimit(limiter, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(owner string, limit int) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{OwnerID: owner, RateLimit: limit}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	call("u1", 0)
	call("u1", 0)
	rec := call("u1", 0)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := call("u2", 5); rec.Code != http.StatusOK {
		t.Errorf("other owner throttled: %d", rec.Code)
	}

	anon := httptest.NewRecorder()
	h.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/", nil))
	if anon.Code != http.StatusOK {
		t.Errorf("anonymous request status = %d", anon.Code)
	}
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example.com"}
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	pre := httptest.NewRequest(http.MethodOptions, "/api/v1/forms", nil)
	pre.Header.Set("Origin", "https://app.example.com")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight: %d %v", rec.Code, rec.Header())
	}

	other := httptest.NewRequest(http.MethodGet, "/api/v1/forms", nil)
	other.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin received CORS headers")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("request should reach handler, got %d", rec.Code)
	}
}
