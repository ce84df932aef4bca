package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPEngineExtractSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extract" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing api key header")
		}
		var req extractRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.URL != "https://signed/x.pdf" {
			t.Errorf("url = %q", req.URL)
		}
		w.Write([]byte(`{"fields":[{"key":"Plaintiff Name","type":"text"}],"lines":["Plaintiff Name:"]}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL, APIKey: "k"})
	raw, err := e.ExtractSync(context.Background(), Source{URL: "https://signed/x.pdf", ContentType: "application/pdf"})
	if err != nil {
		t.Fatalf("ExtractSync: %v", err)
	}
	if len(raw.Fields) != 1 || len(raw.Lines) != 1 {
		t.Errorf("raw = %+v", raw)
	}
}

func TestHTTPEngineFallsBackToTextLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"SUMMONS\nCase Number: 42\n"}`))
	}))
	defer srv.Close()

	raw, err := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL}).ExtractSync(context.Background(), Source{})
	if err != nil {
		t.Fatalf("ExtractSync: %v", err)
	}
	if len(raw.Lines) != 2 || len(raw.Fields) != 1 {
		t.Fatalf("raw = %+v", raw)
	}
	var f map[string]string
	json.Unmarshal(raw.Fields[0], &f)
	if f["key"] != "Case Number" || f["value"] != "42" {
		t.Errorf("field = %v", f)
	}
}

func TestHTTPEngineRetriesServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"jobId":"job-1"}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	jobID, err := e.SubmitAsync(context.Background(), Source{URL: "u"}, "entity-1")
	if err != nil || jobID != "job-1" {
		t.Fatalf("SubmitAsync = %q, %v", jobID, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}

	var badCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badCalls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()
	if _, err := NewHTTPEngine(HTTPConfig{BaseURL: bad.URL}).ExtractSync(context.Background(), Source{}); err == nil {
		t.Fatal("expected error")
	}
	if badCalls.Load() != 1 {
		t.Errorf("4xx retried %d times", badCalls.Load())
	}
}

func TestHTTPEngineFetchResultNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-1/result" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"IN_PROGRESS"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL}).FetchResult(context.Background(), "job-1")
	if !errors.Is(err, ErrJobNotReady) {
		t.Fatalf("expected ErrJobNotReady, got %v", err)
	}
}

func TestAsyncDetection(t *testing.T) {
	var e Engine = NewHTTPEngine(HTTPConfig{BaseURL: "http://x"})
	if _, ok := Async(e); !ok {
		t.Error("http engine should support async jobs")
	}
}
