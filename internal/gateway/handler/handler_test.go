package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
)

type fakeDeleter struct {
	st      *store.Memory
	deleted []string
}

func (f *fakeDeleter) Delete(ctx context.Context, kind model.Kind, id string, scope store.Scope) error {
	if _, err := f.st.Delete(ctx, kind, id, scope); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type matcherReviewer struct{ st *store.Memory }

func (m matcherReviewer) Matches(ctx context.Context, form *model.Entity) ([]model.MatchProposal, error) {
	catalog, err := m.st.ListVariables(ctx, form.Category)
	if err != nil {
		return nil, err
	}
	return matcher.New("").Match(form.ExtractedFields, form.Category, catalog), nil
}

type fixture struct {
	st      *store.Memory
	objects *objectstore.Memory
	deleter *fakeDeleter
	h       *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	seed := []*model.Entity{
		{ID: "d1", Kind: model.KindDocument, OwnerID: "u1", Status: model.StatusCompleted, StorageKey: "documents/u1/d1.pdf"},
		{ID: "d2", Kind: model.KindDocument, OwnerID: "u2", Status: model.StatusProcessing},
		{ID: "f1", Kind: model.KindForm, OwnerID: "u1", Status: model.StatusCompleted, Category: "Party Info",
			ExtractedFields: []model.FieldCandidate{{Key: "Plaintiff Name", InferredType: model.FieldText}}},
		{ID: "f2", Kind: model.KindForm, OwnerID: "u1", Status: model.StatusProcessing},
	}
	for _, e := range seed {
		if err := st.Create(ctx, e); err != nil {
			t.Fatalf("Create %s: %v", e.ID, err)
		}
	}
	objects := objectstore.NewMemory(time.Minute)
	if _, err := objects.Put(ctx, "documents/u1/d1.pdf", []byte("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	d := &fakeDeleter{st: st}
	return &fixture{st: st, objects: objects, deleter: d, h: New(st, d, matcherReviewer{st: st}, objects)}
}

func serve(h http.HandlerFunc, method, pattern, target string, p *auth.Principal) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(method+" "+pattern, h)
	req := httptest.NewRequest(method, target, nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

var (
	user1 = &auth.Principal{OwnerID: "u1", Role: "user"}
	admin = &auth.Principal{OwnerID: "ops", Role: auth.RoleSuperadmin}
)

func TestGetEntityIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	get := f.h.GetEntity(model.KindDocument)

	tests := []struct {
		name string
		id   string
		p    *auth.Principal
		want int
	}{
		{"own document", "d1", user1, http.StatusOK},
		{"foreign document", "d2", user1, http.StatusNotFound},
		{"superadmin", "d2", admin, http.StatusOK},
		{"missing", "nope", user1, http.StatusNotFound},
		{"anonymous", "d1", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(get, http.MethodGet, "/api/v1/documents/{id}", "/api/v1/documents/"+tt.id, tt.p)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestListEntities(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.h.ListEntities(model.KindForm), http.MethodGet, "/api/v1/forms", "/api/v1/forms?limit=1&offset=0", user1)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Forms []model.Entity `json:"forms"`
		Count int            `json:"count"`
		Limit int            `json:"limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Limit != 1 || len(body.Forms) != 1 {
		t.Errorf("body = %+v", body)
	}

	rec = serve(f.h.ListEntities(model.KindDocument), http.MethodGet, "/api/v1/documents", "/api/v1/documents?limit=500", user1)
	var docs struct {
		Documents []model.Entity `json:"documents"`
		Limit     int            `json:"limit"`
	}
	json.NewDecoder(rec.Body).Decode(&docs)
	if docs.Limit != 20 || len(docs.Documents) != 1 || docs.Documents[0].ID != "d1" {
		t.Errorf("documents = %+v", docs)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.h.DeleteDocument, http.MethodDelete, "/api/v1/documents/{id}", "/api/v1/documents/d2", user1)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d", rec.Code)
	}
	rec = serve(f.h.DeleteDocument, http.MethodDelete, "/api/v1/documents/{id}", "/api/v1/documents/d1", user1)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body)
	}
	if len(f.deleter.deleted) != 1 {
		t.Errorf("deleted = %v", f.deleter.deleted)
	}
	if _, err := f.st.Get(context.Background(), model.KindDocument, "d1", store.Unrestricted); err == nil {
		t.Error("document still present")
	}
}

func TestReviewMatches(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.h.ReviewMatches, http.MethodGet, "/api/v1/forms/{id}/matches", "/api/v1/forms/f2/matches", user1)
	if rec.Code != http.StatusConflict {
		t.Fatalf("processing form status = %d", rec.Code)
	}

	rec = serve(f.h.ReviewMatches, http.MethodGet, "/api/v1/forms/{id}/matches", "/api/v1/forms/f1/matches", user1)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		FormID  string                `json:"formId"`
		Matches []model.MatchProposal `json:"matches"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.FormID != "f1" || len(body.Matches) != 1 || body.Matches[0].ProposedVariable == nil {
		t.Fatalf("body = %+v", body)
	}
	if body.Matches[0].ProposedVariable.Name != "Plaintiff Name" {
		t.Errorf("proposal = %+v", body.Matches[0].ProposedVariable)
	}
}

func TestListVariablesByCategory(t *testing.T) {
	f := newFixture(t)
	err := f.st.InApproval(context.Background(), func(tx store.ApprovalTx) error {
		for _, v := range []model.Variable{
			{Name: "Plaintiff Name", Category: "Party Info"},
			{Name: "Amount", Category: "Claims"},
		} {
			if _, err := tx.InsertVariable(context.Background(), &v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding catalog: %v", err)
	}

	rec := serve(f.h.ListVariables, http.MethodGet, "/api/v1/variables", "/api/v1/variables?category=party%20info", user1)
	var body struct {
		Variables []model.Variable `json:"variables"`
		Count     int              `json:"count"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Count != 1 || body.Variables[0].Name != "Plaintiff Name" {
		t.Errorf("body = %+v", body)
	}

	rec = serve(f.h.ListVariables, http.MethodGet, "/api/v1/variables", "/api/v1/variables", user1)
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Count != 2 {
		t.Errorf("unfiltered count = %d", body.Count)
	}
}

func TestDownloadRedirectsOwner(t *testing.T) {
	f := newFixture(t)
	h := f.h.Download(model.KindDocument)
	const pattern = "/api/v1/documents/{id}/download"

	rec := serve(h, http.MethodGet, pattern, "/api/v1/documents/d1/download", user1)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "memory://documents/u1/d1.pdf?expires=") {
		t.Errorf("location = %q", loc)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("signed redirect must not be cached")
	}

	tests := []struct {
		name   string
		target string
		p      *auth.Principal
		want   int
	}{
		{"no session", "/api/v1/documents/d1/download", nil, http.StatusUnauthorized},
		{"other owner", "/api/v1/documents/d2/download", user1, http.StatusNotFound},
		{"no stored file", "/api/v1/documents/d2/download", admin, http.StatusNotFound},
		{"admin", "/api/v1/documents/d1/download", admin, http.StatusFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(h, http.MethodGet, pattern, tt.target, tt.p); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if err := f.objects.Delete(context.Background(), "documents/u1/d1.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec := serve(h, http.MethodGet, pattern, "/api/v1/documents/d1/download", user1); rec.Code != http.StatusNotFound {
		t.Errorf("missing object status = %d, want 404", rec.Code)
	}
}
