package config

import (
	"os"
	"path/filepath"
	"time"
)

var (
	Port         int
	StorageDir   string // Directory holding the pocketbase data dir
	GlobalConfig Config

	// Worker pool configuration
	MaxParallelWorkers = 1                      // Concurrency used when no run overrides it (1~10)
	LoadTimeout        = 15 * time.Second       // Fallback resolve for page load listeners
	WarmupDelay        = 2 * time.Second        // Settle delay after a new worker window loads
	PollInterval       = 500 * time.Millisecond // Assignment loop tick
	JobsPerMinute      = 0                      // Dispatch pacing across all workers, 0 disables it

	// Browser configuration
	BaseURL     = "https://www.threads.net/"
	Headless    = false
	BrowserBin  = ""
	UserDataDir = ""

	// Notifications
	SlackWebhookURL = ""

	LogLevel = "info"
)

const (
	// HardMaxWorkers bounds the worker table and every concurrency setting.
	HardMaxWorkers = 10

	EnvPrefix = "THREADSWEEPER"
)

var DefaultConfig = Config{
	MaxParallelWorkers: 1,
	LoadTimeoutSeconds: 15,
	WarmupDelayMs:      2000,
	PollIntervalMs:     500,
	BaseURL:            "https://www.threads.net/",
	LogLevel:           "info",
}

type Config struct {
	MaxParallelWorkers int    `mapstructure:"max_parallel_workers" yaml:"max_parallel_workers"`
	LoadTimeoutSeconds int    `mapstructure:"load_timeout_seconds" yaml:"load_timeout_seconds"`
	WarmupDelayMs      int    `mapstructure:"warmup_delay_ms" yaml:"warmup_delay_ms"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	JobsPerMinute      int    `mapstructure:"jobs_per_minute" yaml:"jobs_per_minute"`
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	Headless           bool   `mapstructure:"headless" yaml:"headless"`
	BrowserBin         string `mapstructure:"browser_bin" yaml:"browser_bin,omitempty"`
	UserDataDir        string `mapstructure:"user_data_dir" yaml:"user_data_dir,omitempty"`
	StorageDir         string `mapstructure:"storage_dir" yaml:"storage_dir,omitempty"`
	SlackWebhookURL    string `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url,omitempty"`
	LogLevel           string `mapstructure:"log_level" yaml:"log_level"`
}

// GetDbPath returns the pocketbase data directory
func GetDbPath() string {
	if StorageDir != "" {
		return filepath.Join(StorageDir, "db")
	}
	return ""
}

// GetExportsPath returns the directory archive exports are written to
func GetExportsPath() string {
	if StorageDir != "" {
		return filepath.Join(StorageDir, "exports")
	}
	return ""
}

func GetDefaultStorageDir() string {
	configDir, err := GetConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "."+ConfigDirName)
	}
	return filepath.Join(configDir, "data")
}

// ClampWorkers bounds n to [1, HardMaxWorkers].
func ClampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > HardMaxWorkers {
		return HardMaxWorkers
	}
	return n
}
