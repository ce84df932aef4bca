// Package uploader is the ingestion gateway: it stores an upload, records the
// entity, moves it to processing and fires the processing trigger in the
// background.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/inspect"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/trigger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
)

// Config holds upload limits and the trigger deadline.
type Config struct {
	Rules          validator.Rules
	TriggerTimeout time.Duration
}

// Service handles uploads.
type Service struct {
	cfg     Config
	store   store.Store
	objects objectstore.Store
	trigger trigger.Trigger
	pages   inspect.PageCounter
	metrics *metrics.Metrics
	events  events.Tracker
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func New(cfg Config, st store.Store, objects objectstore.Store, tr trigger.Trigger, pages inspect.PageCounter, met *metrics.Metrics, tracker events.Tracker) *Service {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 5 * time.Minute
	}
	if tracker == nil {
		tracker = events.Nop{}
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		objects: objects,
		trigger: tr,
		pages:   pages,
		metrics: met,
		events:  tracker,
		logger:  slog.Default().With("component", "uploader"),
	}
}

// Upload validates u, stores the payload and records the entity in
// processing. The trigger runs after Upload returns; its failure is only
// logged.
func (s *Service) Upload(ctx context.Context, u ingestion.Upload) (*model.Entity, error) {
	if err := validator.ValidateUpload(&u, s.cfg.Rules); err != nil {
		s.countUpload(u.Kind, "rejected")
		return nil, err
	}
	log := logger.FromContext(ctx).With("component", "uploader", "kind", u.Kind, "owner_id", u.OwnerID)

	id := uuid.NewString()
	e := &model.Entity{
		ID:          id,
		Kind:        u.Kind,
		OwnerID:     u.OwnerID,
		Name:        u.Filename,
		ContentType: u.ContentType,
		SizeBytes:   u.Size,
		StorageKey:  fmt.Sprintf("%s/%s/%s%s", u.Kind.Table(), u.OwnerID, uuid.NewString(), validator.Extension(u.ContentType)),
		Status:      model.StatusPending,
	}
	if u.Kind == model.KindForm {
		e.Category = u.Category
	}
	if u.ContentType == "application/pdf" && s.pages != nil {
		if n, err := s.pages.PageCount(u.Data); err != nil {
			log.Warn("could not read pdf page count", "error", err)
		} else {
			e.PageCount = n
		}
	}

	if _, err := s.objects.Put(ctx, e.StorageKey, u.Data, u.ContentType); err != nil {
		s.countUpload(u.Kind, "storage_error")
		log.Error("failed to store upload", "error", err)
		return nil, apperrors.External("failed to store upload")
	}
	if err := s.store.Create(ctx, e); err != nil {
		s.countUpload(u.Kind, "store_error")
		s.removeObject(ctx, e.StorageKey, log)
		return nil, fmt.Errorf("creating %s: %w", u.Kind, err)
	}

	applied, err := s.store.Transition(ctx, e.Kind, e.ID, model.StatusPending, model.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("marking %s %s processing: %w", e.Kind, e.ID, err)
	}
	s.metrics.Transition(string(e.Kind), string(model.StatusProcessing), applied)
	if applied {
		e.Status = model.StatusProcessing
	}

	s.countUpload(u.Kind, "accepted")
	if s.metrics != nil {
		s.metrics.UploadBytes.WithLabelValues(string(u.Kind)).Observe(float64(u.Size))
	}
	s.events.Track(events.Event{Type: events.EntityUploaded, Kind: string(e.Kind), EntityID: e.ID, OwnerID: e.OwnerID})
	log.Info("upload accepted", "entity_id", e.ID, "size", u.Size, "pages", e.PageCount)

	s.fire(ctx, dispatcher.Task{ID: e.ID, Kind: e.Kind, OwnerID: e.OwnerID}, log.With("entity_id", e.ID))
	return e, nil
}

// fire runs the trigger detached from the request so a client disconnect
// cannot cancel it.
func (s *Service) fire(ctx context.Context, task dispatcher.Task, log *slog.Logger) {
	task.RequestID = logger.RequestID(ctx)
	triggerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TriggerTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		outcome := "ok"
		if err := s.trigger.Fire(triggerCtx, task); err != nil {
			outcome = "error"
			log.Error("processing trigger failed", "mode", s.trigger.Mode(), "error", err)
		}
		if s.metrics != nil {
			s.metrics.TriggersTotal.WithLabelValues(s.trigger.Mode(), outcome).Inc()
		}
	}()
}

// Wait blocks until in-flight triggers finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Delete removes an entity and, best-effort, its stored payload.
func (s *Service) Delete(ctx context.Context, kind model.Kind, id string, scope store.Scope) error {
	e, err := s.store.Delete(ctx, kind, id, scope)
	if err != nil {
		return err
	}
	s.removeObject(ctx, e.StorageKey, logger.FromContext(ctx).With("component", "uploader", "entity_id", id))
	return nil
}

func (s *Service) removeObject(ctx context.Context, key string, log *slog.Logger) {
	if key == "" {
		return
	}
	if err := s.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Warn("failed to delete stored object", "key", key, "error", err)
	}
}

func (s *Service) countUpload(kind model.Kind, outcome string) {
	if s.metrics != nil {
		s.metrics.UploadsTotal.WithLabelValues(string(kind), outcome).Inc()
	}
}
