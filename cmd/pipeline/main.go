// Command pipeline starts the document and form ingestion API.
//
// It serves uploads, the internal process endpoints, the OCR notification
// webhook, match review and approval, and the entity read API. Metrics are
// served on a separate port. Processing triggers go to Kafka or back to the
// process endpoint depending on ingestion.triggerMode.
//
// Usage:
//
//	go run ./cmd/pipeline [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/approval"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/events"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/gateway/router"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/inspect"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/trigger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/uploader"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/notification"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting pipeline service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"storage", cfg.Storage.Driver,
		"ocr_engine", cfg.OCR.Engine,
		"trigger_mode", cfg.Ingestion.TriggerMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("pipeline service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("pipeline service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	met := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	st, db, closeStore, err := bootstrap.Store(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if db == nil {
		// Session tokens always live in postgres.
		if db, err = postgres.New(cfg.Postgres); err != nil {
			return fmt.Errorf("connecting to postgres for session tokens: %w", err)
		}
		defer db.Close()
	}

	objects, closeObjects, err := bootstrap.Objects(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeObjects()

	engine, closeEngine, err := bootstrap.Engine(ctx, cfg, objects, met)
	if err != nil {
		return err
	}
	defer closeEngine()

	subs, dedup, redisPinger, closeState, err := bootstrap.NotificationState(cfg)
	if err != nil {
		return err
	}
	defer closeState()

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PipelineEvents)
	defer eventsProducer.Close()
	// The collector outlives the server so in-flight triggers still publish.
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector := events.NewBatchCollector(eventsProducer, 100, 0)
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		collector.Close()
	}()

	var tr trigger.Trigger
	switch cfg.Ingestion.TriggerMode {
	case trigger.ModeHTTP:
		tr = trigger.NewHTTP(cfg.Internal.ProcessBaseURL, cfg.Internal.Secret, cfg.Ingestion.TriggerTimeout)
	default:
		dispatchProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.OCRDispatch)
		defer dispatchProducer.Close()
		tr = trigger.NewKafka(dispatchProducer)
	}
	if cfg.Internal.Secret == "" {
		slog.Warn("internal.secret is empty; the process endpoints reject every request")
	}

	m := matcher.New(cfg.Matcher.DefaultCategory)
	dispatch := dispatcher.New(dispatcher.Config{SyncTimeout: cfg.OCR.SyncTimeout}, st, objects, engine, m, met, collector)
	up := uploader.New(uploader.Config{
		Rules: validator.Rules{
			MaxBytes:     cfg.Ingestion.MaxUploadBytes,
			AllowedTypes: cfg.Ingestion.AllowedTypes,
		},
		TriggerTimeout: cfg.Ingestion.TriggerTimeout,
	}, st, objects, tr, inspect.NewPDF(), met, collector)
	defer up.Wait()

	receiver := notification.NewReceiver(notification.Config{
		AutoConfirm:      cfg.Webhook.AutoConfirm,
		RequireConfirmed: cfg.Webhook.RequireConfirmed,
		DedupTTL:         cfg.Webhook.DedupTTL,
	}, st, dispatch, engine, subs, dedup, met)

	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st))
	checker.Register("objects", health.PingCheck(objects))
	if redisPinger != nil {
		checker.Register("redis", health.PingCheck(redisPinger))
	}

	limiter := ratelimit.New(cfg.RateLimit.Window)
	defer limiter.Close()

	handler := router.New(router.Deps{
		Uploads:          ingesthandler.New(up, cfg.Ingestion.MaxUploadBytes),
		Process:          dispatcher.NewHandler(dispatch, cfg.Internal.Secret),
		Notifications:    receiver,
		Approval:         approval.NewHandler(approval.NewProcessor(st, m, met, collector)),
		API:              gwhandler.New(st, up, dispatch, objects),
		Health:           checker,
		Authenticator:    apikey.NewValidator(db),
		Limiter:          limiter,
		DefaultRateLimit: cfg.RateLimit.Limit,
		CORS:             gwmw.DefaultCORSConfig(),
		Metrics:          met,
		RequestTimeout:   cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("pipeline service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
