package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/factorio-stats/backend/internal/analytics"
	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/cacher"
	"github.com/factorio-stats/backend/internal/fetcher"
	"github.com/factorio-stats/backend/internal/server"
	"github.com/factorio-stats/backend/internal/state"
	"github.com/factorio-stats/backend/internal/storage"
	"github.com/factorio-stats/backend/internal/updater"
)

func newWebServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "web_server",
		Short: "Serve the read-only API over the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storageClient, err := newStorageClient(cfg)
			if err != nil {
				return err
			}
			ws, err := storage.FetchState(storageClient)
			if err != nil {
				return err
			}

			stateLock := &state.Lock{S: ws.State}
			cache := cacher.NewCache()
			srv := server.New(stateLock, cache)
			go cache.Run(stateLock, srv.Hub().Broadcast)
			srv.SetLoaded()
			return srv.ListenAndServe(cfg.Server.Host, cfg.Server.Port)
		},
	}
}

func newAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Print a report over the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storageClient, err := newStorageClient(cfg)
			if err != nil {
				return err
			}
			ws, err := storage.FetchState(storageClient)
			if err != nil {
				return err
			}
			analytics.Report(ws.State, os.Stdout)
			return nil
		},
	}
}

func newCreateStateFromSavedDataCmd() *cobra.Command {
	var numberResponses uint32
	cmd := &cobra.Command{
		Use:   "create_state_from_saved_data",
		Short: "Rebuild a state from saved directory responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return createStateFromSavedData(numberResponses)
		},
	}
	cmd.Flags().Uint32Var(&numberResponses, "number_responses", 0, "how many saved responses to replay")
	cmd.MarkFlagRequired("number_responses")
	return cmd
}

// createStateFromSavedData replays saved listings into a fresh state.
// Detail fetches are faked by a concurrent consumer, so the merge gate
// sees populated sessions at replay speed.
func createStateFromSavedData(numberResponses uint32) error {
	ws := storage.EmptyWholeState()
	stateLock := &state.Lock{S: ws.State}

	snapshots := fetcher.NewSnapshotQueue()
	if err := fetcher.RunGamesOffline(snapshots, numberResponses); err != nil {
		return err
	}
	snapshots.Close()

	detailsCh := make(chan state.GameID, detailChannelCapacity)
	var fakeDetails sync.WaitGroup
	fakeDetails.Add(1)
	go func() {
		defer fakeDetails.Done()
		fetcher.RunDetailsFake(stateLock, detailsCh)
	}()

	for {
		snap, ok := snapshots.Pop()
		if !ok {
			break
		}
		if snap.Time == 2 {
			// let the fake detail fetcher work through the bulk of ids
			// queued by the first snapshot before merges start gating
			time.Sleep(time.Second)
		}
		stateLock.Lock()
		updater.ApplySnapshot(ws.Updater, ws.State, snap.Games, snap.Time, detailsCh)
		stateLock.Unlock()
	}
	close(detailsCh)
	fakeDetails.Wait()

	return storage.SaveToFile(ws, storage.TemporaryStateFile)
}

func newCreateStateCmd() *cobra.Command {
	var numberResponses uint32
	cmd := &cobra.Command{
		Use:   "create_state",
		Short: "Build a state from N live directory polls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return createState(numberResponses)
		},
	}
	cmd.Flags().Uint32Var(&numberResponses, "number_responses", 0, "how many polls to apply")
	cmd.MarkFlagRequired("number_responses")
	return cmd
}

func createState(numberResponses uint32) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := api.NewClientFromEnv()
	if err != nil {
		return err
	}

	ws := storage.EmptyWholeState()
	updaterLock := &updater.Lock{S: ws.Updater}
	stateLock := &state.Lock{S: ws.State}
	detailLock := &fetcher.DetailLock{S: ws.Details}

	snapshots := fetcher.NewSnapshotQueue()
	detailsCh := make(chan state.GameID, detailChannelCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fetcher.RunGames(ctx, client, snapshots, cfg.Fetcher.SkipFirstSleep)
	go fetcher.RunDetails(ctx, client, detailLock, stateLock, detailsCh)

	for i := uint32(0); i < numberResponses; i++ {
		snap, ok := snapshots.Pop()
		if !ok {
			break
		}
		updaterLock.Lock()
		stateLock.Lock()
		updater.ApplySnapshot(ws.Updater, ws.State, snap.Games, snap.Time, detailsCh)
		stateLock.Unlock()
		updaterLock.Unlock()
	}

	updaterLock.RLock()
	stateLock.RLock()
	detailLock.RLock()
	err = storage.SaveToFile(ws, storage.TemporaryStateFile)
	detailLock.RUnlock()
	stateLock.RUnlock()
	updaterLock.RUnlock()
	return err
}

func newConvertStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert_state",
		Short: "Re-serialize a local checkpoint in the current format",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := storage.LoadFromFile(storage.TemporaryStateFile)
			if err != nil {
				return err
			}
			return storage.SaveToFile(ws, storage.TemporaryStateFile)
		},
	}
}

func newCompressStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compress_state",
		Short: "Compact the arenas of a local checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := storage.LoadFromFile(storage.TemporaryStateFile)
			if err != nil {
				return err
			}
			ws.State.Compress()
			return storage.SaveToFile(ws, storage.TemporaryStateFile)
		},
	}
}

func newPruneBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune_backups",
		Short: "Apply the log-rotate retention once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storageClient, err := newStorageClient(cfg)
			if err != nil {
				return err
			}
			return storage.PruneStateBackups(storageClient)
		},
	}
}

func newRecompressBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompress_backups",
		Short: "Convert old lz4 checkpoints to xz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storageClient, err := newStorageClient(cfg)
			if err != nil {
				return err
			}
			return storage.RecompressBackups(storageClient)
		},
	}
}

func newFetchLatestStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch_latest_state",
		Short: "Download the latest checkpoint into the working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storageClient, err := newStorageClient(cfg)
			if err != nil {
				return err
			}
			latest, err := storage.LastStatePath(storageClient)
			if err != nil {
				return err
			}
			if latest == "" {
				return fmt.Errorf("no checkpoint in bucket")
			}
			log.Printf("[main] fetching %s", latest)
			return storageClient.DownloadToFile(latest, path.Base(latest))
		},
	}
}

func newFetchAllStatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch_all_states",
		Short: "Download every checkpoint into the working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			storageClient, err := newStorageClient(cfg)
			if err != nil {
				return err
			}
			paths, err := storage.StatePaths(storageClient)
			if err != nil {
				return err
			}
			for _, p := range paths {
				log.Printf("[main] fetching %s", p)
				if err := storageClient.DownloadToFile(p, path.Base(p)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
