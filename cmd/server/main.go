package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/factorio-stats/backend/internal/config"
	"github.com/factorio-stats/backend/internal/storage"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "factorio-stats",
		Short:         "Observes the public game directory and serves server statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	root.AddCommand(
		newProductionCmd(),
		newWebServerCmd(),
		newAnalyticsCmd(),
		newCreateStateFromSavedDataCmd(),
		newCreateStateCmd(),
		newConvertStateCmd(),
		newPruneBackupsCmd(),
		newFetchLatestStateCmd(),
		newFetchAllStatesCmd(),
		newRecompressBackupsCmd(),
		newCompressStateCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Printf("[main] [error] %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newStorageClient(cfg *config.Config) (*storage.Client, error) {
	return storage.NewClient(cfg.Storage.Endpoint, cfg.Storage.Region, cfg.Storage.Bucket)
}
