// Package main runs one Transfer-log poller per enabled chain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nft-syncer/internal/app"
	"github.com/nft-syncer/internal/config"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/poller"
	"github.com/nft-syncer/internal/types"
)

func main() {
	var (
		dispatch = flag.String("dispatch", "queue", "Where transfers go: queue (Redis sync queue) or inline (reconcile in-process)")
		seedHead = flag.Bool("seed", false, "Create missing checkpoints at the current head before polling")
	)
	flag.Parse()

	fmt.Println("NFT Syncer Poller")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app.InitLogging(cfg)
	logger := logging.Component("poller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise")
	}
	defer a.Close()

	var dispatcher poller.Dispatcher
	switch *dispatch {
	case "queue":
		dispatcher = a.SyncQueue()
	case "inline":
		dispatcher = poller.DispatchFunc(func(ctx context.Context, t types.LogicalTransfer) error {
			return a.Service.HandleSyncRequest(ctx, types.SyncRequest{
				ChainID:         t.ChainID,
				ContractAddress: t.ContractAddress,
				TokenID:         t.TokenID,
				FromAddress:     t.FromAddress,
				ToAddress:       t.ToAddress,
			})
		})
	default:
		logger.Fatalf("Unknown dispatch mode: %s", *dispatch)
	}

	var wg sync.WaitGroup
	for _, name := range cfg.Chains.Enabled {
		cc := cfg.Chains.Chains[name]
		p, err := newPoller(cc, a, dispatcher)
		if err != nil {
			logger.WithError(err).WithField("chain", name).Fatal("Failed to create poller")
		}

		if *seedHead {
			created, err := poller.SeedAtHead(ctx, a.Reader, a.Checkpoints, p.Project(), cc.ID)
			if err != nil {
				logger.WithError(err).WithField("chain", name).Fatal("Failed to seed checkpoint")
			}
			if created {
				logger.WithField("project", p.Project()).Info("Checkpoint seeded at head")
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}
	logger.WithField("chains", len(cfg.Chains.Enabled)).Info("Pollers started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping pollers")
	cancel()
	wg.Wait()
}

func newPoller(cc config.ChainConfig, a *app.App, dispatcher poller.Dispatcher) (*poller.Poller, error) {
	if cc.ID == 0 {
		return nil, errors.New("chain has no id")
	}
	return poller.New(poller.Config{
		ChainID:      cc.ID,
		PollInterval: cc.PollInterval,
		PollingBatch: cc.PollingBatch,
		Whitelist:    cc.EventWhitelist,
	}, a.Reader, a.Checkpoints, dispatcher)
}
