package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, threaded from main into
// each activity. Upstream and storage credentials deliberately stay out
// of the file: they come from the environment (FACTORIO_USERNAME,
// FACTORIO_TOKEN, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fetcher FetcherConfig `yaml:"fetcher"`
	Storage StorageConfig `yaml:"storage"`
	Saver   SaverConfig   `yaml:"saver"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FetcherConfig struct {
	// SkipFirstSleep starts the first poll immediately instead of
	// waiting for the next minute boundary. Useful in development.
	SkipFirstSleep bool `yaml:"skip_first_sleep"`
}

type StorageConfig struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
}

type SaverConfig struct {
	// Interval between regular checkpoints.
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses a config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads config from the given path, or returns default
// config if the path doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Endpoint: "https://storage.yandexcloud.net",
			Region:   "us-east-1",
			Bucket:   "factorio-servers-statistics",
		},
		Saver: SaverConfig{
			Interval: time.Hour,
		},
	}
}
