package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Log        LogConfig        `mapstructure:"log"`
}

// StorageConfig selects and tunes the physical backend.
type StorageConfig struct {
	// Backend is one of "memory", "json", "sqlite".
	Backend string `mapstructure:"backend"`
	// DataDir holds per-patient JSON documents for the json backend.
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `mapstructure:"sqlite_path"`
	// Backup controls the json backend's backup-on-save.
	Backup bool `mapstructure:"backup"`
	// CacheTTLSeconds bounds the patient read cache; zero keeps records
	// until reload.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
	// Visibility is the read-time alarm predicate: "all", "strict" or
	// "admission-open".
	Visibility string `mapstructure:"visibility"`
	// FlushQueueSize bounds the write-behind flush queue.
	FlushQueueSize int `mapstructure:"flush_queue_size"`
	// FlushRetryAttempts and FlushRetryDelaySeconds tune flush retries.
	FlushRetryAttempts     int `mapstructure:"flush_retry_attempts"`
	FlushRetryDelaySeconds int `mapstructure:"flush_retry_delay_seconds"`
}

type MatcherConfig struct {
	// WindowMinutes is the half-window for nursing-record matching.
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ClassifierConfig struct {
	// ReferencePath points at the true-alarm reference table (.tsv or
	// .xlsx). Missing file means an empty table.
	ReferencePath string `mapstructure:"reference_path"`
}

type FilterConfig struct {
	NursingEnabled   bool `mapstructure:"nursing_enabled"`
	TechnicalEnabled bool `mapstructure:"technical_enabled"`
	// TechnicalLabelsPath points at the technical-alarm label list.
	TechnicalLabelsPath string `mapstructure:"technical_labels_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("storage.backend", "json")
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.sqlite_path", "./data/alarms.db")
	viper.SetDefault("storage.backup", true)
	viper.SetDefault("storage.visibility", "all")
	viper.SetDefault("matcher.window_minutes", 30)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
