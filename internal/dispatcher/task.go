package dispatcher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
)

// Task is the queued processing trigger published by the ingestion gateway.
type Task struct {
	ID        string     `json:"id"`
	Kind      model.Kind `json:"kind"`
	OwnerID   string     `json:"ownerId"`
	RequestID string     `json:"requestId,omitempty"`
}

// TaskHandler returns a Kafka message handler that runs Process for each
// task. Application errors are final and are logged instead of retried;
// anything else (store or broker trouble) is returned so the consumer
// retries it.
func TaskHandler(svc *Service) kafka.MessageHandler {
	log := slog.Default().With("component", "dispatch-worker")
	return func(ctx context.Context, key, value []byte) error {
		task, err := kafka.DecodeJSON[Task](value)
		if err != nil {
			log.Error("discarding undecodable task", "key", string(key), "error", err)
			return nil
		}
		kind, ok := model.ParseKind(string(task.Kind))
		if !ok || task.ID == "" {
			log.Error("discarding invalid task", "kind", task.Kind, "entity_id", task.ID)
			return nil
		}
		if task.RequestID != "" {
			ctx = logger.WithRequestID(ctx, task.RequestID)
		}

		res, err := svc.Process(ctx, kind, task.ID, task.OwnerID)
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			log.Warn("task finished with error", "kind", task.Kind, "entity_id", task.ID, "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("task processed", "kind", task.Kind, "entity_id", task.ID, "status", res.Status)
		return nil
	}
}
