package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/uploader"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
)

type nopTrigger struct{}

func (nopTrigger) Mode() string { return "nop" }
func (nopTrigger) Fire(context.Context, dispatcher.Task) error { return nil }

func multipartBody(t *testing.T, contentType string, data []byte, category string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="summons.pdf"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	if category != "" {
		mw.WriteField("category", category)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func newHandler(maxBytes int64) (*Handler, *store.Memory, *objectstore.Memory) {
	st := store.NewMemory()
	objects := objectstore.NewMemory(time.Minute)
	svc := uploader.New(uploader.Config{Rules: validator.Rules{MaxBytes: maxBytes}}, st, objects, nopTrigger{}, nil, nil, nil)
	return New(svc, maxBytes), st, objects
}

func authed(r *http.Request) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{OwnerID: "u1"}))
}

func TestUploadForm(t *testing.T) {
	h, st, _ := newHandler(0)
	body, ct := multipartBody(t, "application/pdf", []byte("%PDF-1.4 "+strings.Repeat("x", 2048)), "Party Info")
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/forms/upload", body))
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.Upload(model.KindForm)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["formId"] == "" || resp["status"] != "processing" {
		t.Fatalf("response = %v", resp)
	}
	e, err := st.Get(context.Background(), model.KindForm, resp["formId"], store.Scope{OwnerID: "u1"})
	if err != nil || e.Category != "Party Info" {
		t.Errorf("entity = %+v, err = %v", e, err)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        []byte
		maxBytes    int64
		wantField   string
	}{
		{"plain text", "text/plain", []byte("hello"), 0, "file"},
		{"too large", "application/pdf", bytes.Repeat([]byte("x"), 200), 100, "size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, objects := newHandler(tt.maxBytes)
			body, ct := multipartBody(t, tt.contentType, tt.data, "")
			req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body))
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()

			h.Upload(model.KindDocument)(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp struct {
				Fields map[string]string `json:"fields"`
			}
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Fields[tt.wantField] == "" {
				t.Errorf("fields = %v, want %q", resp.Fields, tt.wantField)
			}
			if objects.Len() != 0 {
				t.Error("rejected upload reached storage")
			}
		})
	}
}

func TestUploadRequiresPrincipalAndFile(t *testing.T) {
	h, _, _ := newHandler(0)

	rec := httptest.NewRecorder()
	h.Upload(model.KindDocument)(rec, httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", strings.NewReader("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.Upload(model.KindDocument)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d", rec.Code)
	}
}
