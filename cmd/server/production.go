package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/cacher"
	"github.com/factorio-stats/backend/internal/fetcher"
	"github.com/factorio-stats/backend/internal/server"
	"github.com/factorio-stats/backend/internal/state"
	"github.com/factorio-stats/backend/internal/storage"
	"github.com/factorio-stats/backend/internal/updater"
)

// detailChannelCapacity bounds how many newly observed ids one updater
// step can hand off without blocking; snapshots carry a few hundred new
// ids at the very most.
const detailChannelCapacity = 1 << 14

func newProductionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "production",
		Short: "Run the full pipeline: fetchers, updater, checkpointer, API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProduction()
		},
	}
}

func runProduction() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := api.NewClientFromEnv()
	if err != nil {
		return err
	}
	storageClient, err := newStorageClient(cfg)
	if err != nil {
		return err
	}

	// An empty bucket means first boot; a checkpoint that exists but
	// does not decode means the state cannot be trusted, which is fatal.
	latest, err := storage.LastStatePath(storageClient)
	if err != nil {
		return err
	}
	var ws *storage.WholeState
	if latest == "" {
		log.Printf("[main] no previous checkpoint, starting empty")
		ws = storage.EmptyWholeState()
	} else {
		ws, err = storage.FetchStateFrom(storageClient, latest)
		if err != nil {
			log.Fatalf("[main] cannot load checkpoint %s: %v", latest, err)
		}
	}

	updaterLock := &updater.Lock{S: ws.Updater}
	stateLock := &state.Lock{S: ws.State}
	detailLock := &fetcher.DetailLock{S: ws.Details}

	snapshots := fetcher.NewSnapshotQueue()
	detailsCh := make(chan state.GameID, detailChannelCapacity)
	saverEvents := make(chan storage.SaverEvent, 4)

	ctx := context.Background()
	go fetcher.RunGames(ctx, client, snapshots, cfg.Fetcher.SkipFirstSleep)
	go fetcher.RunDetails(ctx, client, detailLock, stateLock, detailsCh)
	go updater.Run(updaterLock, stateLock, snapshots, detailsCh)
	go storage.RunSaver(storageClient, updaterLock, stateLock, detailLock, saverEvents)
	go storage.RunSaverNotifier(saverEvents, cfg.Saver.Interval)
	go storage.RunBackupPruner(storageClient)

	cache := cacher.NewCache()
	srv := server.New(stateLock, cache)
	go cache.Run(stateLock, srv.Hub().Broadcast)
	srv.SetLoaded()

	// SIGINT triggers exactly one save-then-exit; repeats are ignored
	// while the saver finishes.
	var shutdownRequested atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if shutdownRequested.CompareAndSwap(false, true) {
				log.Printf("[main] shutdown requested, saving state")
				saverEvents <- storage.SaveShutdown
			}
		}
	}()

	return srv.ListenAndServe(cfg.Server.Host, cfg.Server.Port)
}
