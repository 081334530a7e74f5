// Command epcloader imports EPC certificates from a zip archive into a
// relational store.
//
//	epcloader [flags] <archive.zip>
//
// main stays small: it loads configuration, handles -validate and usage
// errors, and delegates to run, whose side effects all come through Deps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"epcloader/internal/config"
	"epcloader/internal/datasource/archive"
	"epcloader/internal/domain"
	"epcloader/internal/metrics"
	"epcloader/internal/metrics/datadog"
	"epcloader/internal/metrics/prompush"
	"epcloader/internal/pipeline"
	"epcloader/internal/skiplog"
	"epcloader/internal/storage"

	// register all backends with the storage factory.
	_ "epcloader/internal/storage/all"
)

// Deps holds the boundaries run depends on. Tests pass fakes; production
// uses defaultDeps.
type Deps struct {
	Connect     func(ctx context.Context, cfg storage.Config, rc storage.RetryConfig) (storage.Store, error)
	ReadArchive func(ctx context.Context, path string, opts archive.Options, emit archive.EmitFunc) (int, error)
	NewMetrics  func(cfg *config.Config) (metrics.Backend, error)
	NewSkipLog  func(path string) (*skiplog.Log, error)
}

func defaultDeps() Deps {
	return Deps{
		Connect:     storage.Connect,
		ReadArchive: archive.Read,
		NewMetrics:  newMetricsBackend,
		NewSkipLog:  skiplog.New,
	}
}

// newMetricsBackend selects the backend named by cfg.MetricsBackend. A nil
// backend means metrics are disabled.
func newMetricsBackend(cfg *config.Config) (metrics.Backend, error) {
	switch cfg.MetricsBackend {
	case "", "none":
		return nil, nil
	case "pushgateway":
		return prompush.NewBackend(cfg.JobName, cfg.PushgatewayURL)
	case "datadog":
		return datadog.NewBackend(datadog.Config{
			Addr:       cfg.DogStatsDAddr,
			GlobalTags: []string{"job:" + cfg.JobName},
		})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}

func storeConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Kind:     cfg.DBDriver,
		DSN:      cfg.DSN,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
	}
}

// run validates cfg, wires metrics, the skip log and the store into a
// coordinator, and imports cfg.ArchivePath.
func run(ctx context.Context, cfg *config.Config, deps Deps) (pipeline.Stats, error) {
	issues := config.Validate(cfg)
	for _, iss := range issues {
		log.Printf("config: %s: %s: %s", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return pipeline.Stats{}, errors.New("invalid configuration")
	}
	log.Printf("epcloader: %s", cfg)

	backend, err := deps.NewMetrics(cfg)
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", cfg.MetricsBackend, err)
		backend = nil
	}
	rec := metrics.New(cfg.JobName, backend)
	defer func() {
		if err := rec.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	var onDrop func(domain.RawRow)
	if cfg.SkippedLog != "" {
		sl, err := deps.NewSkipLog(cfg.SkippedLog)
		if err != nil {
			return pipeline.Stats{}, err
		}
		defer func() {
			if err := sl.Close(); err != nil {
				log.Printf("skiplog: close: %v", err)
			}
		}()
		onDrop = sl.Add
	}

	retry := storage.RetryConfig{Attempts: cfg.ConnectRetries, Delay: cfg.ConnectDelay}
	coord := pipeline.New(pipeline.Config{
		Workers:      cfg.Threads,
		QueueSize:    cfg.QueueSize,
		ProcessDelay: cfg.ProcessDelay,
		PollInterval: cfg.PollInterval,
		MaxRecords:   cfg.MaxRecords,
	}, pipeline.Deps{
		Connect: func(ctx context.Context) (storage.Store, error) {
			return deps.Connect(ctx, storeConfig(cfg), retry)
		},
		ReadSource: func(ctx context.Context, path string, maxRecords int, emit func(context.Context, domain.RawRow) error) (int, error) {
			return deps.ReadArchive(ctx, path, archive.Options{MaxRecords: maxRecords}, emit)
		},
		OnDrop:  onDrop,
		Metrics: rec,
	})
	return coord.Run(ctx, cfg.ArchivePath)
}

func main() {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrMissingArchive) && !cfg.Validate {
		fmt.Fprintln(os.Stderr, "usage: epcloader [flags] <archive.zip>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, config.ErrMissingArchive) {
		fatalf("config: %v", err)
	}

	if cfg.Validate {
		issues := config.Validate(cfg)
		for _, iss := range issues {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			log.Printf("configuration is invalid")
			os.Exit(1)
		}
		log.Printf("configuration is valid")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_, err = run(ctx, cfg, defaultDeps())
	stop()
	if err != nil {
		fatalf("epcloader: %v", err)
	}
}

func fatalf(format string, a ...any) {
	log.Printf(format, a...)
	os.Exit(1)
}
