package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/resilience"
)

// HTTPConfig configures the HTTP OCR engine client.
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	NotificationTopic string
	Timeout           time.Duration
	OnBreakerChange   func(name string, from, to resilience.State)
}

// HTTPEngine talks to a remote OCR service:
//
//	POST /v1/extract          {url, contentType}             → {fields, lines}
//	POST /v1/jobs             {url, contentType, tag, topic} → {jobId}
//	GET  /v1/jobs/{id}/result                                → {status, fields, lines}
type HTTPEngine struct {
	baseURL string
	apiKey  string
	topic   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// statusError carries a non-2xx response from the OCR service.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ocr service returned %d: %s", e.code, e.body)
}

// NewHTTPEngine creates an engine client with a circuit breaker and retry
// on transport errors and 5xx responses.
func NewHTTPEngine(cfg HTTPConfig) *HTTPEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		topic:   cfg.NotificationTopic,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("ocr-http", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange:    cfg.OnBreakerChange,
		}),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Retryable:    retryable,
		},
		logger: slog.Default().With("component", "ocr-http"),
	}
}

func (e *HTTPEngine) Name() string { return "http" }

type extractRequest struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Tag         string `json:"tag,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

type extractResponse struct {
	Status string            `json:"status,omitempty"`
	Fields []json.RawMessage `json:"fields"`
	Lines  []string          `json:"lines"`
	Text   string            `json:"text"`
}

func (r extractResponse) raw() model.RawExtraction {
	lines := r.Lines
	if len(lines) == 0 && r.Text != "" {
		lines = SplitLines(r.Text)
	}
	fields := r.Fields
	if len(fields) == 0 {
		fields = FieldsFromLines(lines)
	}
	return model.RawExtraction{Fields: fields, Lines: lines}
}

func (e *HTTPEngine) ExtractSync(ctx context.Context, src Source) (model.RawExtraction, error) {
	var resp extractResponse
	err := e.call(ctx, http.MethodPost, "/v1/extract", extractRequest{URL: src.URL, ContentType: src.ContentType}, &resp)
	if err != nil {
		return model.RawExtraction{}, err
	}
	return resp.raw(), nil
}

func (e *HTTPEngine) SubmitAsync(ctx context.Context, src Source, tag string) (string, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	err := e.call(ctx, http.MethodPost, "/v1/jobs", extractRequest{
		URL:         src.URL,
		ContentType: src.ContentType,
		Tag:         tag,
		Topic:       e.topic,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("ocr service returned no job id")
	}
	return resp.JobID, nil
}

func (e *HTTPEngine) FetchResult(ctx context.Context, jobID string) (model.RawExtraction, error) {
	var resp extractResponse
	err := e.call(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/result", nil, &resp)
	if err != nil {
		return model.RawExtraction{}, err
	}
	switch strings.ToUpper(resp.Status) {
	case "", "SUCCEEDED":
		return resp.raw(), nil
	case "IN_PROGRESS", "PENDING":
		return model.RawExtraction{}, ErrJobNotReady
	}
	return model.RawExtraction{}, fmt.Errorf("ocr job %s ended with status %s", jobID, resp.Status)
}

func (e *HTTPEngine) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding ocr request: %w", err)
		}
	}
	notReady := false
	err := e.breaker.Execute(func() error {
		err := resilience.Retry(ctx, "ocr "+path, e.retry, func() error {
			return e.do(ctx, method, path, payload, out)
		})
		// A running job is a healthy service.
		if errors.Is(err, ErrJobNotReady) {
			notReady = true
			return nil
		}
		return err
	})
	if notReady {
		return ErrJobNotReady
	}
	return err
}

func (e *HTTPEngine) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ocr service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted && method == http.MethodGet {
		return ErrJobNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding ocr response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrJobNotReady) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}
