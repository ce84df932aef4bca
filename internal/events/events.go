// Package events publishes pipeline lifecycle events (uploads, status
// changes, approvals) to Kafka in batches for downstream consumers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/kafka"
)

type Type string

const (
	EntityUploaded   Type = "entity.uploaded"
	EntityProcessing Type = "entity.processing"
	EntityCompleted  Type = "entity.completed"
	EntityFailed     Type = "entity.failed"
	JobSubmitted     Type = "ocr.job_submitted"
	FormFinalized    Type = "form.finalized"
)

// Event is the payload written to the pipeline-events topic.
type Event struct {
	Type      Type      `json:"type"`
	Kind      string    `json:"kind"`
	EntityID  string    `json:"entityId"`
	OwnerID   string    `json:"ownerId,omitempty"`
	JobID     string    `json:"jobId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker records events without blocking the caller.
type Tracker interface {
	Track(ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Track(Event) {}

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector buffers events and flushes them when the batch is full or
// the flush interval elapses.
type BatchCollector struct {
	publisher     BatchPublisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

func NewBatchCollector(publisher BatchPublisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "event-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop; it runs until ctx is cancelled.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bc.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("event collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
}

// Track buffers ev keyed by entity id so one entity's events stay ordered
// within a partition.
func (bc *BatchCollector) Track(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{
		Key:     ev.EntityID,
		Value:   ev,
		Headers: map[string]string{"type": string(ev.Type)},
	})
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()
	if full {
		go bc.flush(context.Background())
	}
}

// Close waits for the flush loop to exit after its context is cancelled.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) flush(ctx context.Context) {
	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("event flush failed", "batch_size", len(batch), "error", err)
		bc.mu.Lock()
		bc.buffer = append(batch, bc.buffer...)
		if limit := bc.batchSize * 3; len(bc.buffer) > limit {
			bc.logger.Warn("event buffer overflow, events dropped", "dropped", len(bc.buffer)-limit)
			bc.buffer = bc.buffer[:limit]
		}
		bc.mu.Unlock()
		return
	}
	bc.logger.Debug("events flushed", "events", len(batch))
}
