package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/approval"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/middleware"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/uploader"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/health"
)

type staticTokens struct{}

func (staticTokens) Validate(_ context.Context, raw string) (*apikey.KeyInfo, error) {
	if raw == "session-1" {
		return &apikey.KeyInfo{ID: "1", OwnerID: "u1", Role: "user", RateLimit: 100}, nil
	}
	return nil, apikey.ErrInvalidKey
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemory()
	err := st.Create(context.Background(), &model.Entity{
		ID: "f1", Kind: model.KindForm, OwnerID: "u1", Status: model.StatusCompleted,
		ExtractedFields: []model.FieldCandidate{{Key: "Plaintiff Name", InferredType: model.FieldText}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	objects := objectstore.NewMemory(time.Minute)
	m := matcher.New("")
	svc := dispatcher.New(dispatcher.Config{}, st, objects, nil, m, nil, nil)
	up := uploader.New(uploader.Config{}, st, objects, nil, nil, nil, nil)
	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)

	notifications := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return New(Deps{
		Uploads:          ingesthandler.New(up, 1<<20),
		Process:          dispatcher.NewHandler(svc, "internal-secret"),
		Notifications:    notifications,
		Approval:         approval.NewHandler(approval.NewProcessor(st, m, nil, nil)),
		API:              gwhandler.New(st, up, svc, objects),
		Health:           health.NewChecker(),
		Authenticator:    staticTokens{},
		Limiter:          limiter,
		DefaultRateLimit: 100,
		CORS:             gwmw.DefaultCORSConfig(),
		RequestTimeout:   5 * time.Second,
	})
}

func TestRoutes(t *testing.T) {
	h := newRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"liveness is open", http.MethodGet, "/health/live", "", nil, http.StatusOK},
		{"list needs session", http.MethodGet, "/api/v1/forms", "", nil, http.StatusUnauthorized},
		{"list with session", http.MethodGet, "/api/v1/forms", "", map[string]string{"Authorization": "Bearer session-1"}, http.StatusOK},
		{"review matches", http.MethodGet, "/api/v1/forms/f1/matches", "", map[string]string{"X-API-Key": "session-1"}, http.StatusOK},
		{"download needs session", http.MethodGet, "/api/v1/forms/f1/download", "", nil, http.StatusUnauthorized},
		{"catalog", http.MethodGet, "/api/v1/variables?category=x", "", map[string]string{"X-API-Key": "session-1"}, http.StatusOK},
		{"approve needs session", http.MethodPost, "/api/v1/forms/approve-matches", `{}`, nil, http.StatusUnauthorized},
		{"process rejects session token", http.MethodPost, "/api/v1/forms/process", `{"id":"f1","ownerId":"u1"}`, map[string]string{"Authorization": "Bearer session-1"}, http.StatusUnauthorized},
		{"process with secret", http.MethodPost, "/api/v1/forms/process", `{"id":"f1","ownerId":"u1"}`, map[string]string{"Authorization": "Bearer internal-secret"}, http.StatusOK},
		{"process needs owner", http.MethodPost, "/api/v1/forms/process", `{"id":"f1"}`, map[string]string{"Authorization": "Bearer internal-secret"}, http.StatusBadRequest},
		{"webhook is open", http.MethodPost, "/api/v1/ocr/notifications", `{}`, nil, http.StatusAccepted},
		{"documents cannot be approved", http.MethodPost, "/api/v1/documents/approve-matches", `{}`, nil, http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/v1/search", "", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing request id header")
			}
		})
	}
}
