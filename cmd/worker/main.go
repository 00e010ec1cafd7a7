package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/bootstrap"
	"github.com/hyperdrive-eng/meilisearch/internal/config"
	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/observability/logging"
	"github.com/hyperdrive-eng/meilisearch/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeTaskEnqueued(ctx, func(handlerCtx context.Context, taskUID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.WorkerTaskTimeout)
		defer cancel()

		if task, err := app.ReadUC.GetTask(processCtx, taskUID); err == nil && task.Status == domain.TaskStatusEnqueued {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(task.EnqueuedAt))
		}

		start := time.Now()
		workerMetrics.StartTask()
		err := app.ProcessUC.ProcessTask(processCtx, taskUID)
		workerMetrics.FinishTask(serviceName, time.Since(start), err)
		if err != nil {
			return err
		}

		if task, err := app.ReadUC.GetTask(processCtx, taskUID); err == nil {
			workerMetrics.RecordDocumentsIndexed(serviceName, task.IndexUID, task.IndexedDocuments)
			slog.Info("task_processed",
				"task_uid", task.UID,
				"index", task.IndexUID,
				"status", task.Status,
				"indexed_documents", task.IndexedDocuments,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
