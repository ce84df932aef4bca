// Command dispatcher consumes processing tasks from Kafka and runs OCR for
// each queued document or form. It serves liveness and readiness probes on
// server.port and metrics on metrics.port.
//
// Usage:
//
//	go run ./cmd/dispatcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
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
	slog.Info("starting dispatcher service",
		"topic", cfg.Kafka.Topics.OCRDispatch,
		"group", cfg.Kafka.ConsumerGroup,
		"ocr_engine", cfg.OCR.Engine,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("dispatcher service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("dispatcher service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	met := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	st, _, closeStore, err := bootstrap.Store(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

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

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PipelineEvents)
	defer eventsProducer.Close()
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector := events.NewBatchCollector(eventsProducer, 100, 0)
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		collector.Close()
	}()

	svc := dispatcher.New(dispatcher.Config{SyncTimeout: cfg.OCR.SyncTimeout}, st, objects, engine,
		matcher.New(cfg.Matcher.DefaultCategory), met, collector)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.OCRDispatch, dispatcher.TaskHandler(svc))

	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st))
	checker.Register("objects", health.PingCheck(objects))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	probes := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("dispatcher consuming", "topic", cfg.Kafka.Topics.OCRDispatch)
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		slog.Info("probe server listening", "addr", probes.Addr)
		if err := probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return probes.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
