// Package main imports every token of one contract through the chain's NFT provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nft-syncer/internal/app"
	"github.com/nft-syncer/internal/config"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/reconcile"
	"github.com/nft-syncer/internal/types"
)

func main() {
	var (
		chainID  = flag.Int64("chain", 1, "Chain id")
		contract = flag.String("contract", "", "Contract address")
		pageSize = flag.Int("page-size", 100, "NFTs per provider page")
		maxPages = flag.Int("max-pages", 0, "Stop after this many pages (0 = all)")
	)
	flag.Parse()

	if *contract == "" {
		fmt.Fprintln(os.Stderr, "usage: importer -chain <id> -contract <address>")
		os.Exit(2)
	}
	if _, ok := types.LookupChain(types.ChainID(*chainID)); !ok {
		log.Fatalf("Unsupported chain id: %d", *chainID)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app.InitLogging(cfg)
	logger := logging.Component("importer")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise")
	}
	defer a.Close()

	stats, err := a.Service.ImportContract(ctx, a.Gateway, types.ChainID(*chainID), *contract, reconcile.ImportOptions{
		PageSize: *pageSize,
		MaxPages: *maxPages,
	})
	entry := logger.WithFields(map[string]interface{}{
		"pages":     stats.Pages,
		"succeeded": stats.Succeeded,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
	})
	if err != nil {
		entry.WithError(err).Error("Import stopped")
		a.Close()
		os.Exit(1)
	}
	entry.Info("Import finished")
}
