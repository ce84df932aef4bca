// Package trigger starts OCR processing for a freshly uploaded entity,
// either by queueing a task on Kafka or by calling the internal process
// endpoint over HTTP.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
)

const (
	ModeKafka = "kafka"
	ModeHTTP  = "http"
)

// Trigger delivers a processing task.
type Trigger interface {
	Mode() string
	Fire(ctx context.Context, task dispatcher.Task) error
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Kafka queues tasks on the dispatch topic, keyed by entity id.
type Kafka struct {
	publisher Publisher
}

func NewKafka(p Publisher) *Kafka {
	return &Kafka{publisher: p}
}

func (k *Kafka) Mode() string { return ModeKafka }

func (k *Kafka) Fire(ctx context.Context, task dispatcher.Task) error {
	if task.RequestID == "" {
		task.RequestID = logger.RequestID(ctx)
	}
	return k.publisher.Publish(ctx, kafka.Event{
		Key:     task.ID,
		Value:   task,
		Headers: map[string]string{"kind": string(task.Kind)},
	})
}

// HTTP posts the task to the process endpoint with the shared secret.
type HTTP struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTP(baseURL, secret string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Mode() string { return ModeHTTP }

func (h *HTTP) Fire(ctx context.Context, task dispatcher.Task) error {
	body, err := json.Marshal(dispatcher.ProcessRequest{ID: task.ID, OwnerID: task.OwnerID})
	if err != nil {
		return fmt.Errorf("encoding process request: %w", err)
	}
	url := fmt.Sprintf("%s/api/v1/%s/process", h.baseURL, task.Kind.Table())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.secret)
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling process endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("process endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
