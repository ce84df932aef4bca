// Package bootstrap opens the backends shared by the pipeline binaries from
// configuration. Each opener returns a cleanup func that is safe to defer.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/notification"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr/tesseract"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr/vertex"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/resilience"
)

func noop() {}

// Store opens the entity store. The postgres client is returned as well so
// callers can share it with the session token validator; it is nil for the
// memory driver.
func Store(cfg *config.Config) (store.Store, *postgres.Client, func(), error) {
	if cfg.Store.Driver == "memory" {
		slog.Warn("using in-memory entity store; data is lost on restart")
		return store.NewMemory(), nil, noop, nil
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("connecting to postgres: %w", err)
	}
	slog.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	return store.NewPostgres(db), db, func() { db.Close() }, nil
}

// Objects opens the object store named by storage.driver.
func Objects(ctx context.Context, cfg *config.Config) (objectstore.Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		slog.Warn("using in-memory object store; signed urls are not fetchable")
		return objectstore.NewMemory(cfg.Storage.SignedURLTTL), noop, nil
	}
	gcs, err := objectstore.NewGCS(ctx, objectstore.GCSConfig{
		Bucket:          cfg.Storage.Bucket,
		CredentialsFile: cfg.Storage.CredentialsFile,
		SignedURLTTL:    cfg.Storage.SignedURLTTL,
	})
	if err != nil {
		return nil, noop, err
	}
	slog.Info("object store ready", "driver", "gcs", "bucket", cfg.Storage.Bucket)
	return gcs, func() { gcs.Close() }, nil
}

// Engine builds the OCR engine named by ocr.engine. Local engines read
// payloads back through objects.
func Engine(ctx context.Context, cfg *config.Config, objects objectstore.Store, met *metrics.Metrics) (ocr.Engine, func(), error) {
	switch cfg.OCR.Engine {
	case "tesseract":
		return tesseract.New(objects, cfg.OCR.Languages), noop, nil
	case "vertex":
		e, err := vertex.New(ctx, vertex.Config{
			Project: cfg.OCR.VertexProject,
			Region:  cfg.OCR.VertexRegion,
			Model:   cfg.OCR.VertexModel,
		}, objects)
		if err != nil {
			return nil, noop, err
		}
		return e, func() { e.Close() }, nil
	}
	return ocr.NewHTTPEngine(ocr.HTTPConfig{
		BaseURL:           cfg.OCR.BaseURL,
		APIKey:            cfg.OCR.APIKey,
		NotificationTopic: cfg.OCR.NotificationTopic,
		Timeout:           cfg.OCR.SyncTimeout,
		OnBreakerChange:   BreakerGauge(met),
	}), noop, nil
}

// BreakerGauge mirrors circuit breaker transitions into the state gauge.
func BreakerGauge(met *metrics.Metrics) func(name string, from, to resilience.State) {
	return func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		if met != nil {
			met.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
}

// NotificationState returns the subscription and dedup state, backed by
// Redis when enabled. The returned Pinger is nil without Redis.
func NotificationState(cfg *config.Config) (notification.Subscriptions, notification.Deduper, health.Pinger, func(), error) {
	if !cfg.Redis.Enabled {
		slog.Warn("redis disabled; notification state is per process")
		mem := notification.NewMemoryState()
		return mem, mem, nil, noop, nil
	}
	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, nil, nil, noop, fmt.Errorf("connecting to redis: %w", err)
	}
	rs := notification.NewRedisState(client)
	return rs, rs, client, func() { client.Close() }, nil
}
