// Command autoclassify runs one batch auto-classification pass over every
// patient in the configured store and prints a run report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/alarmfilter"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/classifier"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/config"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository/jsonfile"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository/memory"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository/sqlite"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/store"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/logger"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatal(err, "failed to open storage backend", "backend", cfg.Storage.Backend)
	}

	m := metrics.NewMetrics("sicu", "autoclassify")
	s := store.New(backend, store.Config{
		CacheTTL:      time.Duration(cfg.Storage.CacheTTLSeconds) * time.Second,
		WindowMinutes: cfg.Matcher.WindowMinutes,
		Visibility:    store.VisibilityMode(cfg.Storage.Visibility),
		Flush: store.FlushConfig{
			QueueSize:     cfg.Storage.FlushQueueSize,
			RetryAttempts: cfg.Storage.FlushRetryAttempts,
			RetryDelay:    time.Duration(cfg.Storage.FlushRetryDelaySeconds) * time.Second,
		},
	}, log, m)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	s.Start(ctx)

	table, err := classifier.LoadReferenceTable(cfg.Classifier.ReferencePath)
	if err != nil {
		log.Fatal(err, "failed to load reference table", "path", cfg.Classifier.ReferencePath)
	}
	if table.Len() == 0 {
		log.Warn("reference table is empty, every unlabeled alarm will be classified false",
			"path", cfg.Classifier.ReferencePath)
	}

	// Loaded here only to fail fast on a malformed file; filtering itself
	// happens in the interactive frontend.
	if _, err := alarmfilter.LoadLabelSet(cfg.Filter.TechnicalLabelsPath); err != nil {
		log.Fatal(err, "failed to load technical label list", "path", cfg.Filter.TechnicalLabelsPath)
	}

	engine := classifier.NewEngine(s, table, log, m)
	report, err := engine.Run(ctx)
	if err != nil {
		log.Error(err, "classification run aborted")
	}

	if err := s.Close(); err != nil {
		log.Error(err, "failed to close store")
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		os.Exit(1)
	}
}

func newBackend(cfg *config.Config) (repository.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.New(), nil
	case "json":
		return jsonfile.New(cfg.Storage.DataDir, jsonfile.WithBackup(cfg.Storage.Backup))
	case "sqlite":
		return sqlite.Open(cfg.Storage.SQLitePath)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
