package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/utils/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ConfigDirName  = "threadsweeper"
	ConfigFileName = "config.yaml"

	DefaultPort = 20460
)

func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigDirName), nil
}

// LoadConfig loads the config from the config file
// If the config file does not exist, it creates a default config and saves it to the config file
func LoadConfig() {
	// .env is optional
	_ = godotenv.Load()

	configPath, err := GetConfigDir()
	if err != nil {
		logger.Error("Error getting config dir: %v", err)
		return
	}
	configFile := filepath.Join(configPath, ConfigFileName)

	if err := os.MkdirAll(configPath, 0755); err != nil {
		logger.Error("Error creating config path: %v", err)
		return
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		out, err := yaml.Marshal(DefaultConfig)
		if err != nil {
			logger.Error("Error marshaling default config: %v", err)
			return
		}

		if err := os.WriteFile(configFile, out, 0644); err != nil {
			logger.Error("Error writing default config file: %v", err)
			return
		}
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := ReadInto(v, &GlobalConfig); err != nil {
		logger.Error("Error reading config: %v", err)
		return
	}

	Apply(GlobalConfig)
}

// ReadInto reads the configured file, layers THREADSWEEPER_* environment
// variables on top and decodes the result into cfg.
func ReadInto(v *viper.Viper, cfg *Config) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func bindDefaults(v *viper.Viper) {
	v.SetDefault("max_parallel_workers", DefaultConfig.MaxParallelWorkers)
	v.SetDefault("load_timeout_seconds", DefaultConfig.LoadTimeoutSeconds)
	v.SetDefault("warmup_delay_ms", DefaultConfig.WarmupDelayMs)
	v.SetDefault("poll_interval_ms", DefaultConfig.PollIntervalMs)
	v.SetDefault("jobs_per_minute", DefaultConfig.JobsPerMinute)
	v.SetDefault("base_url", DefaultConfig.BaseURL)
	v.SetDefault("headless", DefaultConfig.Headless)
	v.SetDefault("browser_bin", "")
	v.SetDefault("user_data_dir", "")
	v.SetDefault("storage_dir", "")
	v.SetDefault("slack_webhook_url", "")
	v.SetDefault("log_level", DefaultConfig.LogLevel)
}

// Apply copies a decoded Config into the package level settings.
func Apply(cfg Config) {
	MaxParallelWorkers = ClampWorkers(cfg.MaxParallelWorkers)
	if cfg.LoadTimeoutSeconds > 0 {
		LoadTimeout = time.Duration(cfg.LoadTimeoutSeconds) * time.Second
	}
	if cfg.WarmupDelayMs >= 0 {
		WarmupDelay = time.Duration(cfg.WarmupDelayMs) * time.Millisecond
	}
	if cfg.PollIntervalMs > 0 {
		PollInterval = time.Duration(cfg.PollIntervalMs) * time.Millisecond
	}
	if cfg.JobsPerMinute >= 0 {
		JobsPerMinute = cfg.JobsPerMinute
	}
	if cfg.BaseURL != "" {
		BaseURL = cfg.BaseURL
	}
	Headless = cfg.Headless
	BrowserBin = cfg.BrowserBin
	UserDataDir = cfg.UserDataDir
	SlackWebhookURL = cfg.SlackWebhookURL
	if cfg.LogLevel != "" {
		LogLevel = cfg.LogLevel
	}
	logger.SetLevel(LogLevel)

	if cfg.StorageDir != "" {
		StorageDir = cfg.StorageDir
	} else if StorageDir == "" {
		StorageDir = GetDefaultStorageDir()
	}
}

// SaveConfig saves the config to the config file
func SaveConfig() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, ConfigFileName)

	out, err := yaml.Marshal(GlobalConfig)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, out, 0644)
}

// SetupStorage creates the directories the server writes to
func SetupStorage(dir string) error {
	if dir != "" {
		StorageDir = dir
	}
	if StorageDir == "" {
		StorageDir = GetDefaultStorageDir()
	}

	for _, path := range []string{GetDbPath(), GetExportsPath()} {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil
}
