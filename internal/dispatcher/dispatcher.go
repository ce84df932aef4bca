// Package dispatcher runs OCR for uploaded entities. Forms (and documents
// when the engine cannot run jobs) are recognised synchronously; documents
// are otherwise submitted as asynchronous jobs whose completion arrives
// through the notification receiver.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/tracing"
)

const (
	modeSync  = "sync"
	modeAsync = "async"
)

// Result is returned by Process.
type Result struct {
	ID      string                 `json:"id"`
	Kind    model.Kind             `json:"kind"`
	Status  model.Status           `json:"status"`
	JobID   string                 `json:"jobId,omitempty"`
	Fields  []model.FieldCandidate `json:"fields,omitempty"`
	Content string                 `json:"content,omitempty"`
	Matches []model.MatchProposal  `json:"matches,omitempty"`
}

// Config holds dispatcher settings.
type Config struct {
	SyncTimeout time.Duration
}

// Service dispatches entities to the OCR engine and applies the results.
type Service struct {
	store       store.Store
	objects     objectstore.Store
	engine      ocr.Engine
	matcher     *matcher.Matcher
	metrics     *metrics.Metrics
	events      events.Tracker
	syncTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Service. metrics may be nil and tracker defaults to a no-op.
func New(cfg Config, st store.Store, objects objectstore.Store, engine ocr.Engine, m *matcher.Matcher, met *metrics.Metrics, tracker events.Tracker) *Service {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 60 * time.Second
	}
	if tracker == nil {
		tracker = events.Nop{}
	}
	return &Service{
		store:       st,
		objects:     objects,
		engine:      engine,
		matcher:     m,
		metrics:     met,
		events:      tracker,
		syncTimeout: cfg.SyncTimeout,
		logger:      slog.Default().With("component", "dispatcher"),
	}
}

// Process runs OCR for one entity. An empty ownerID skips the owner check;
// the process endpoint always supplies one, queued tasks may not.
func (s *Service) Process(ctx context.Context, kind model.Kind, id, ownerID string) (*Result, error) {
	scope := store.Unrestricted
	if ownerID != "" {
		scope = store.Scope{OwnerID: ownerID}
	}
	ctx, span := tracing.Start(ctx, "dispatcher.process")
	span.SetAttr("kind", string(kind))
	span.SetAttr("entity_id", id)
	defer span.End()

	e, err := s.store.Get(ctx, kind, id, scope)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("component", "dispatcher", "kind", kind, "entity_id", id)

	if e.Status == model.StatusPending {
		applied, err := s.store.Transition(ctx, kind, id, model.StatusPending, model.StatusProcessing)
		if err != nil {
			return nil, err
		}
		s.metrics.Transition(string(kind), string(model.StatusProcessing), applied)
		if e, err = s.store.Get(ctx, kind, id, scope); err != nil {
			return nil, err
		}
	}

	switch e.Status {
	case model.StatusCompleted:
		log.Info("entity already completed, returning stored result")
		return s.storedResult(ctx, e)
	case model.StatusFailed:
		return nil, apperrors.InvalidState("%s %s has failed and cannot be reprocessed", kind, id)
	case model.StatusProcessing:
	default:
		return nil, apperrors.InvalidState("%s %s is %s", kind, id, e.Status)
	}

	if kind == model.KindDocument {
		if async, ok := ocr.Async(s.engine); ok {
			return s.submit(ctx, e, async, log)
		}
		log.Info("engine does not run async jobs, processing document synchronously", "engine", s.engine.Name())
	}
	return s.runSync(ctx, e, log)
}

func (s *Service) submit(ctx context.Context, e *model.Entity, engine ocr.AsyncEngine, log *slog.Logger) (*Result, error) {
	if e.OCRJobID != "" {
		return &Result{ID: e.ID, Kind: e.Kind, Status: model.StatusProcessing, JobID: e.OCRJobID}, nil
	}
	ctx = context.WithoutCancel(ctx)
	src, err := s.source(ctx, e)
	if err != nil {
		return nil, s.failWith(ctx, e, modeAsync, fmt.Errorf("preparing source: %w", err), log)
	}

	var jobID string
	start := time.Now()
	spanCtx, span := tracing.Start(ctx, "ocr.submit_async")
	err = resilience.WithTimeout(spanCtx, s.syncTimeout, "ocr-submit", func(ctx context.Context) error {
		var err error
		jobID, err = engine.SubmitAsync(ctx, src, e.ID)
		return err
	})
	span.End()
	s.observe(modeAsync, start)
	if err != nil {
		return nil, s.failWith(ctx, e, modeAsync, fmt.Errorf("submitting ocr job: %w", err), log)
	}
	if err := s.store.SetJobID(ctx, e.Kind, e.ID, jobID); err != nil {
		return nil, fmt.Errorf("recording job id: %w", err)
	}
	s.events.Track(events.Event{Type: events.JobSubmitted, Kind: string(e.Kind), EntityID: e.ID, OwnerID: e.OwnerID, JobID: jobID})
	log.Info("ocr job submitted", "job_id", jobID)
	return &Result{ID: e.ID, Kind: e.Kind, Status: model.StatusProcessing, JobID: jobID}, nil
}

// runSync outlives its caller. A trigger that gives up waiting must not fail
// an entity whose OCR is still running; only syncTimeout bounds the call.
func (s *Service) runSync(ctx context.Context, e *model.Entity, log *slog.Logger) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	src, err := s.source(ctx, e)
	if err != nil {
		return nil, s.failWith(ctx, e, modeSync, fmt.Errorf("preparing source: %w", err), log)
	}

	var raw model.RawExtraction
	start := time.Now()
	spanCtx, span := tracing.Start(ctx, "ocr.extract_sync")
	span.SetAttr("engine", s.engine.Name())
	err = resilience.WithTimeout(spanCtx, s.syncTimeout, "ocr-sync", func(ctx context.Context) error {
		var err error
		raw, err = s.engine.ExtractSync(ctx, src)
		return err
	})
	span.End()
	s.observe(modeSync, start)
	if err != nil {
		return nil, s.failWith(ctx, e, modeSync, err, log)
	}

	applied, res, err := s.ApplyExtraction(ctx, e, raw)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another delivery finished first; report what it stored.
		current, err := s.store.Get(ctx, e.Kind, e.ID, store.Unrestricted)
		if err != nil {
			return nil, err
		}
		if current.Status != model.StatusCompleted {
			return nil, apperrors.InvalidState("%s %s is %s", e.Kind, e.ID, current.Status)
		}
		return s.storedResult(ctx, current)
	}

	e.Status = model.StatusCompleted
	e.ExtractedFields = res.Fields
	e.Content = res.Content
	return s.storedResult(ctx, e)
}

// ApplyExtraction validates raw engine output and completes the entity. It
// reports false when the entity was no longer processing.
func (s *Service) ApplyExtraction(ctx context.Context, e *model.Entity, raw model.RawExtraction) (bool, extractor.Result, error) {
	log := logger.FromContext(ctx).With("component", "dispatcher", "kind", e.Kind, "entity_id", e.ID)
	res := extractor.Extract(raw, log)
	if s.metrics != nil {
		s.metrics.FieldsExtractedTotal.Add(float64(len(res.Fields)))
		s.metrics.FieldsSkippedTotal.Add(float64(res.Skipped))
	}

	applied, err := s.store.Complete(ctx, e.Kind, e.ID, res.Fields, res.Content)
	if err != nil {
		return false, res, fmt.Errorf("completing %s %s: %w", e.Kind, e.ID, err)
	}
	s.metrics.Transition(string(e.Kind), string(model.StatusCompleted), applied)
	if !applied {
		log.Info("completion skipped, entity no longer processing")
		return false, res, nil
	}
	s.events.Track(events.Event{
		Type:     events.EntityCompleted,
		Kind:     string(e.Kind),
		EntityID: e.ID,
		OwnerID:  e.OwnerID,
		JobID:    e.OCRJobID,
		Count:    len(res.Fields),
	})
	log.Info("extraction completed", "fields", len(res.Fields), "skipped", res.Skipped)
	return true, res, nil
}

// Fail moves a processing entity to failed and reports whether it applied.
func (s *Service) Fail(ctx context.Context, e *model.Entity, reason string) (bool, error) {
	applied, err := s.store.Fail(ctx, e.Kind, e.ID, reason)
	if err != nil {
		return false, fmt.Errorf("failing %s %s: %w", e.Kind, e.ID, err)
	}
	s.metrics.Transition(string(e.Kind), string(model.StatusFailed), applied)
	if applied {
		s.events.Track(events.Event{
			Type:     events.EntityFailed,
			Kind:     string(e.Kind),
			EntityID: e.ID,
			OwnerID:  e.OwnerID,
			JobID:    e.OCRJobID,
			Detail:   reason,
		})
	}
	return applied, nil
}

// Matches runs the matcher for a completed form against the current
// catalog.
func (s *Service) Matches(ctx context.Context, form *model.Entity) ([]model.MatchProposal, error) {
	category := s.matcher.Category(form.Category)
	catalog, err := s.store.ListVariables(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	proposals := s.matcher.Match(form.ExtractedFields, category, catalog)
	if s.metrics != nil {
		existing, proposed := matcher.Summary(proposals)
		s.metrics.MatchProposalsTotal.WithLabelValues("existing").Add(float64(existing))
		s.metrics.MatchProposalsTotal.WithLabelValues("proposed").Add(float64(proposed))
	}
	return proposals, nil
}

func (s *Service) storedResult(ctx context.Context, e *model.Entity) (*Result, error) {
	res := &Result{
		ID:      e.ID,
		Kind:    e.Kind,
		Status:  e.Status,
		JobID:   e.OCRJobID,
		Fields:  e.ExtractedFields,
		Content: e.Content,
	}
	if e.Kind == model.KindForm {
		matches, err := s.Matches(ctx, e)
		if err != nil {
			return nil, err
		}
		res.Matches = matches
	}
	return res, nil
}

// failWith records an OCR failure and returns the external-service error
// reported to the caller.
func (s *Service) failWith(ctx context.Context, e *model.Entity, mode string, cause error, log *slog.Logger) error {
	if s.metrics != nil {
		s.metrics.OCRFailuresTotal.WithLabelValues(s.engine.Name(), mode).Inc()
	}
	reason := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "ocr timed out"
	}
	log.Error("ocr failed", "mode", mode, "error", cause)

	// The failure must be recorded even if the caller has gone away.
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.Fail(failCtx, e, reason); err != nil {
		log.Error("failed to record ocr failure", "error", err)
	}
	return apperrors.External("ocr processing failed for %s %s", e.Kind, e.ID)
}

func (s *Service) source(ctx context.Context, e *model.Entity) (ocr.Source, error) {
	src := ocr.Source{
		Key:         e.StorageKey,
		URI:         s.objects.URI(e.StorageKey),
		ContentType: e.ContentType,
	}
	u, err := s.objects.SignedReadURL(ctx, e.StorageKey)
	if err != nil {
		return src, fmt.Errorf("signing read url: %w", err)
	}
	src.URL = u
	return src, nil
}

func (s *Service) observe(mode string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OCRRequestDuration.WithLabelValues(s.engine.Name(), mode).Observe(time.Since(start).Seconds())
}
