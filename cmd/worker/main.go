// Package main consumes the Redis sync queue and reconciles every request.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nft-syncer/internal/app"
	"github.com/nft-syncer/internal/config"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/queue"
)

func main() {
	fmt.Println("NFT Syncer Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app.InitLogging(cfg)
	logger := logging.Component("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise")
	}
	defer a.Close()

	consumer := queue.NewConsumer(a.SyncQueue(), a.Service, cfg.Workers.SyncQueueWorkers)
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()
	logger.WithField("workers", cfg.Workers.SyncQueueWorkers).Info("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping worker")
	cancel()
	<-done
}
