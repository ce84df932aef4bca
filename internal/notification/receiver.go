package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

const maxBodyBytes = 1 << 20

// Outcome describes what a delivery did; it is reported in the response
// body and as a metric label.
type Outcome string

const (
	OutcomeAwaiting    Outcome = "awaiting-confirmation"
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeApplied     Outcome = "applied"
	OutcomeNoop        Outcome = "noop"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUnconfirmed Outcome = "unconfirmed-topic"
	OutcomeUnknown     Outcome = "unknown-entity"
	OutcomeUnhandled   Outcome = "unhandled"
)

// Config controls the receiver.
type Config struct {
	AutoConfirm      bool
	RequireConfirmed bool
	DedupTTL         time.Duration
}

// Receiver applies OCR job notifications to entities.
type Receiver struct {
	cfg      Config
	store    store.Store
	dispatch *dispatcher.Service
	engine   ocr.Engine
	subs     Subscriptions
	dedup    Deduper
	client   *http.Client
	flight   singleflight.Group
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewReceiver(cfg Config, st store.Store, dispatch *dispatcher.Service, engine ocr.Engine, subs Subscriptions, dedup Deduper, met *metrics.Metrics) *Receiver {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &Receiver{
		cfg:      cfg,
		store:    st,
		dispatch: dispatch,
		engine:   engine,
		subs:     subs,
		dedup:    dedup,
		client:   &http.Client{Timeout: 10 * time.Second},
		metrics:  met,
		logger:   slog.Default().With("component", "notification-receiver"),
	}
}

// ServeHTTP handles POST /api/v1/ocr/notifications. Unknown envelope types
// are acknowledged; malformed payloads and processing failures answer 500
// so the publisher redelivers.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rc.fail(w, "unreadable", err)
		return
	}
	env, err := ParseEnvelope(body)
	if err != nil {
		rc.fail(w, "malformed", err)
		return
	}

	outcome, err := rc.Handle(r.Context(), env)
	if err != nil {
		rc.fail(w, env.Type, err)
		return
	}
	rc.count(env.Type, string(outcome))
	respond.JSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// Handle processes one decoded envelope.
func (rc *Receiver) Handle(ctx context.Context, env Envelope) (Outcome, error) {
	log := logger.FromContext(ctx).With("component", "notification-receiver", "message_id", env.MessageID, "topic", env.TopicArn)
	switch env.Type {
	case TypeSubscriptionConfirmation:
		return rc.handleSubscription(ctx, env, log)
	case TypeNotification:
		return rc.handleNotification(ctx, env, log)
	}
	log.Info("unhandled message type", "type", env.Type)
	return OutcomeUnhandled, nil
}

func (rc *Receiver) handleSubscription(ctx context.Context, env Envelope, log *slog.Logger) (Outcome, error) {
	if err := rc.subs.SetState(ctx, env.TopicArn, StateAwaiting); err != nil {
		return "", fmt.Errorf("recording subscription: %w", err)
	}
	if !rc.cfg.AutoConfirm {
		log.Info("subscription awaiting manual confirmation", "subscribe_url", env.SubscribeURL)
		return OutcomeAwaiting, nil
	}
	if err := rc.confirm(ctx, env.SubscribeURL); err != nil {
		return "", fmt.Errorf("confirming subscription: %w", err)
	}
	if err := rc.subs.SetState(ctx, env.TopicArn, StateConfirmed); err != nil {
		return "", fmt.Errorf("recording subscription: %w", err)
	}
	log.Info("subscription confirmed")
	return OutcomeConfirmed, nil
}

func (rc *Receiver) confirm(ctx context.Context, subscribeURL string) error {
	u, err := url.Parse(subscribeURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("invalid SubscribeURL %q", subscribeURL)
	}
	cfg := resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
	return resilience.Retry(ctx, "subscription-confirm", cfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := rc.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("subscribe url returned %d", resp.StatusCode)
		}
		return nil
	})
}

func (rc *Receiver) handleNotification(ctx context.Context, env Envelope, log *slog.Logger) (Outcome, error) {
	if rc.cfg.RequireConfirmed {
		state, err := rc.subs.State(ctx, env.TopicArn)
		if err != nil {
			return "", fmt.Errorf("loading subscription: %w", err)
		}
		if state != StateConfirmed {
			log.Warn("ignoring notification from unconfirmed topic")
			return OutcomeUnconfirmed, nil
		}
	}
	if env.MessageID != "" {
		seen, err := rc.dedup.Seen(ctx, env.MessageID)
		if err != nil {
			// The CAS guard still prevents double application.
			log.Warn("dedup lookup failed", "error", err)
		} else if seen {
			log.Info("duplicate delivery ignored")
			return OutcomeDuplicate, nil
		}
	}
	msg, err := ParseMessage(env)
	if err != nil {
		return "", err
	}

	key := msg.JobID
	if key == "" {
		key = msg.JobTag
	}
	// Concurrent deliveries of one job share a single application.
	v, err, _ := rc.flight.Do(key, func() (any, error) {
		return rc.apply(ctx, msg, log.With("job_id", msg.JobID, "job_tag", msg.JobTag))
	})
	if err != nil {
		return "", err
	}
	outcome := v.(Outcome)

	if env.MessageID != "" {
		if err := rc.dedup.Mark(ctx, env.MessageID, rc.cfg.DedupTTL); err != nil {
			log.Warn("failed to mark message processed", "error", err)
		}
	}
	return outcome, nil
}

func (rc *Receiver) apply(ctx context.Context, msg Message, log *slog.Logger) (Outcome, error) {
	e, err := rc.resolve(ctx, msg)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("notification for unknown entity acknowledged")
		return OutcomeUnknown, nil
	}
	if err != nil {
		return "", err
	}
	log = log.With("kind", e.Kind, "entity_id", e.ID)
	if e.Status != model.StatusProcessing {
		log.Info("entity not processing, notification ignored", "status", e.Status)
		return OutcomeNoop, nil
	}

	switch msg.Status {
	case JobSucceeded:
		raw, err := rc.result(ctx, msg)
		if err != nil {
			return "", err
		}
		applied, _, err := rc.dispatch.ApplyExtraction(ctx, e, raw)
		if err != nil {
			return "", err
		}
		if !applied {
			return OutcomeNoop, nil
		}
		return OutcomeApplied, nil
	case JobFailed, JobError:
		applied, err := rc.dispatch.Fail(ctx, e, fmt.Sprintf("ocr job %s reported %s", msg.JobID, msg.Status))
		if err != nil {
			return "", err
		}
		if !applied {
			return OutcomeNoop, nil
		}
		log.Warn("ocr job failed")
		return OutcomeApplied, nil
	}
	log.Info("ignoring intermediate job status", "status", msg.Status)
	return OutcomeNoop, nil
}

// resolve finds the entity by its tag (the entity id) and falls back to the
// recorded job id. A tagged entity whose recorded job differs from the
// notification's is not resolved by tag.
func (rc *Receiver) resolve(ctx context.Context, msg Message) (*model.Entity, error) {
	kinds := []model.Kind{model.KindDocument, model.KindForm}
	if msg.JobTag != "" {
		for _, kind := range kinds {
			e, err := rc.store.Get(ctx, kind, msg.JobTag, store.Unrestricted)
			if err == nil {
				if e.OCRJobID != "" && msg.JobID != "" && e.OCRJobID != msg.JobID {
					rc.logger.Warn("notification job does not match entity job",
						"entity_id", e.ID, "entity_job_id", e.OCRJobID, "job_id", msg.JobID)
					break
				}
				return e, nil
			}
			if !errors.Is(err, apperrors.ErrNotFound) {
				return nil, err
			}
		}
	}
	if msg.JobID != "" {
		for _, kind := range kinds {
			e, err := rc.store.FindByJobID(ctx, kind, msg.JobID)
			if err == nil {
				return e, nil
			}
			if !errors.Is(err, apperrors.ErrNotFound) {
				return nil, err
			}
		}
	}
	return nil, apperrors.NotFound("no entity for job %s", msg.JobID)
}

func (rc *Receiver) result(ctx context.Context, msg Message) (model.RawExtraction, error) {
	if msg.HasResult() {
		lines := ocr.SplitLines(msg.Text)
		fields := msg.Fields
		if len(fields) == 0 {
			fields = ocr.FieldsFromLines(lines)
		}
		return model.RawExtraction{Fields: fields, Lines: lines}, nil
	}
	async, ok := ocr.Async(rc.engine)
	if !ok {
		return model.RawExtraction{}, fmt.Errorf("notification for job %s has no result and %s cannot fetch one", msg.JobID, rc.engine.Name())
	}
	raw, err := async.FetchResult(ctx, msg.JobID)
	if err != nil {
		return model.RawExtraction{}, fmt.Errorf("fetching result of job %s: %w", msg.JobID, err)
	}
	return raw, nil
}

func (rc *Receiver) fail(w http.ResponseWriter, msgType string, err error) {
	rc.logger.Error("notification processing failed", "type", msgType, "error", err)
	rc.count(msgType, "error")
	respond.Message(w, http.StatusInternalServerError, "notification processing failed")
}

func (rc *Receiver) count(msgType, result string) {
	if rc.metrics == nil {
		return
	}
	switch msgType {
	case TypeSubscriptionConfirmation, TypeNotification, "malformed", "unreadable":
	default:
		msgType = "other"
	}
	rc.metrics.NotificationsTotal.WithLabelValues(msgType, result).Inc()
}
