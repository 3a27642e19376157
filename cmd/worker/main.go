package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/furkanyilmaz/ed-triage/internal/bootstrap"
	"github.com/furkanyilmaz/ed-triage/internal/config"
	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewWorker(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		log.Printf("worker metrics listening on :%s", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	log.Printf("worker subscribed to %s", cfg.NATSSubject)
	err = app.Queue.SubscribeFinalized(ctx, func(handlerCtx context.Context, record domain.FinalizedRecord) error {
		workerMetrics.StartRecord()
		workerMetrics.ObserveQueueLag("worker", time.Since(record.FinalizedAt))

		start := time.Now()
		saveCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		saveErr := app.Repo.Save(saveCtx, record)
		workerMetrics.FinishRecord("worker", time.Since(start), saveErr)
		return saveErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
