package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"spotcheck/internal/analysis"
	"spotcheck/internal/api"
	"spotcheck/internal/config"
	"spotcheck/internal/ingest"
	"spotcheck/internal/logging"
	"spotcheck/internal/metrics"
	"spotcheck/internal/storage"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case "serve":
		err = serve(args[1:], stderr)
	case "analyze":
		err = analyze(args[1:], stdin, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
	case "-h", "-help", "--help", "help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "spotcheck:", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: spotcheck <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  serve     run the HTTP API and optional Kafka consumer")
	fmt.Fprintln(w, "  analyze   analyze a CSV export and print the result")
	fmt.Fprintln(w, "  version   print the build version")
}

// loadManager returns a file-backed manager, or defaults when path is empty.
func loadManager(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(path))
}

func serve(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML or JSON config file")
	addr := fs.String("addr", "", "Override the API listen address; disables config reload")
	watch := fs.Duration("watch", 3*time.Second, "Config file poll interval, 0 disables reload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr, err := loadManager(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg := *mgr.Get()
		cfg.API.Addr = *addr
		cfg.API.Enabled = true
		mgr = config.NewStaticManager(&cfg)
	}
	cfg := mgr.Get()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg, metrics.NewStore(0))

	svc := analysis.NewService(analysis.Options{
		Config:    mgr,
		Store:     store,
		Collector: collector,
		Logger:    logger,
	})

	if *watch > 0 && mgr.Path() != "" {
		go mgr.Watch(ctx, *watch, func(c *config.Config) {
			logger.Info("config reloaded", "path", mgr.Path(), "window_minutes", c.Analysis.TimeWindowMinutes)
		}, func(err error) {
			logger.Warn("config reload failed", "path", mgr.Path(), "err", err)
		})
	}

	httpServer := api.Start(ctx, api.Options{
		Service:  svc,
		Gatherer: reg,
		Logger:   logger,
		Version:  version,
	})
	consumer := ingest.StartKafka(ctx, mgr, svc, collector, logger)
	if httpServer == nil && consumer == nil {
		return errors.New("nothing to serve: enable api or kafka")
	}

	logger.Info("spotcheck started", "version", version)
	<-ctx.Done()
	logger.Info("spotcheck stopping")
	return nil
}
