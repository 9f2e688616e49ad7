package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/planete-oui-connector/config"
	"github.com/aluiziolira/planete-oui-connector/models"
	"github.com/aluiziolira/planete-oui-connector/pipeline"
	"github.com/aluiziolira/planete-oui-connector/reporting"
	"github.com/aluiziolira/planete-oui-connector/scraper"
	"github.com/aluiziolira/planete-oui-connector/store"
)

var version = "dev"

func main() {
	defaultCfg := config.DefaultConfig()
	configDefault, _ := config.EnvString("CONNECTOR_CONFIG")
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("CONNECTOR_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	sentryDefault := defaultCfg.SentryDSN
	if value, ok := config.EnvString("CONNECTOR_SENTRY_DSN"); ok {
		sentryDefault = value
	}

	configPath := flag.String("config", configDefault, "YAML configuration file")
	flag.String("base-url", defaultCfg.BaseURL, "Portal base URL")
	flag.String("login", "", "Portal login (email)")
	flag.String("password", "", "Portal password")
	flag.String("folder", defaultCfg.FolderPath, "Root folder for the downloaded bills")
	flag.String("variant", defaultCfg.Variant, "Portal variant: multi or single")
	flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, xlsx, or sqlite")
	flag.String("identifiers", strings.Join(defaultCfg.Identifiers, ","), "Comma-separated bank operation labels")
	flag.Duration("timeout", defaultCfg.Timeout, "HTTP request timeout")
	flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	flag.String("sentry-dsn", sentryDefault, "Sentry DSN for fatal errors (empty disables)")
	flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg, err := loadConfig(*configPath, metricsDefault, sentryDefault)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	reporter, err := reporting.New(cfg.SentryDSN, version)
	if err != nil {
		slog.Error("error reporting disabled", slog.Any("error", err))
	}
	fatal := func(stage string, err error) {
		slog.Error(stage+" failed", slog.Any("error", err))
		reporter.Capture(err, map[string]string{
			"stage":      stage,
			"error_type": scraper.ErrorType(err),
			"variant":    cfg.Variant,
		})
		reporter.Flush(5 * time.Second)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fatal("configuration", err)
	}

	slog.Info("starting connector",
		slog.String("base_url", cfg.BaseURL),
		slog.String("variant", cfg.Variant),
		slog.String("folder", cfg.FolderPath),
		slog.String("format", cfg.OutputFormat),
		slog.Bool("error_reporting", reporter.Enabled()),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		fatal("initialising scraper", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after the current request")
	}()

	if err := pipeline.EnsureFolder(cfg.FolderPath); err != nil {
		fatal("creating folder", err)
	}
	outputFile := outputPath(cfg)
	writer, err := createWriter(context.WithoutCancel(ctx), cfg, outputFile)
	if err != nil {
		fatal("creating writer", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.SinkWorkers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		_ = p.Close()
		fatal("scrape", err)
	}

	if err := p.Close(); err != nil {
		fatal("pipeline shutdown", err)
	}

	if err := writer.Validate(); err != nil {
		fatal("output validation", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), outputFile, p.GetMetrics(), writer)
}

// loadConfig layers defaults, the YAML file, the host fields from the
// environment and finally the flags the user actually set.
func loadConfig(path, metricsAddr, sentryDSN string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	fields, err := config.LoadFields()
	if err != nil {
		return nil, err
	}
	cfg.ApplyFields(fields)
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if sentryDSN != "" {
		cfg.SentryDSN = sentryDSN
	}

	var applyErr error
	flag.Visit(func(f *flag.Flag) {
		if applyErr != nil {
			return
		}
		applyErr = applyFlag(cfg, f)
	})
	if applyErr != nil {
		return nil, applyErr
	}

	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	cfg.Variant = strings.ToLower(cfg.Variant)
	return cfg, nil
}

func applyFlag(cfg *config.Config, f *flag.Flag) error {
	value := f.Value.String()
	switch f.Name {
	case "base-url":
		cfg.BaseURL = value
	case "login":
		cfg.Login = value
	case "password":
		cfg.Password = value
	case "folder":
		cfg.FolderPath = value
	case "variant":
		cfg.Variant = value
	case "format":
		cfg.OutputFormat = value
	case "identifiers":
		cfg.ApplyFields(config.Fields{Identifiers: strings.Split(value, ",")})
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid -timeout: %w", err)
		}
		cfg.Timeout = d
	case "metrics-addr":
		cfg.MetricsAddr = value
	case "sentry-dsn":
		cfg.SentryDSN = value
	case "v":
		cfg.Verbose = value == "true"
	}
	return nil
}

func outputPath(cfg *config.Config) string {
	ext := map[string]string{
		"csv":    ".csv",
		"json":   ".jsonl",
		"dual":   ".csv",
		"xlsx":   ".xlsx",
		"sqlite": ".db",
	}[cfg.OutputFormat]
	return filepath.Join(cfg.FolderPath, cfg.OutputName+ext)
}

func createWriter(ctx context.Context, cfg *config.Config, filename string) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	case "xlsx":
		return pipeline.NewXLSXWriter(filename)
	case "sqlite":
		return store.Open(ctx, filename, cfg.Identifiers)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func printSummary(result *models.RunResult, duration time.Duration, outputFile string, metrics map[string]interface{}, writer pipeline.OutputWriter) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Import complete")

	totalItems := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		totalItems = processed
	}

	fmt.Printf("  Accounts:      %d\n", result.Accounts)
	fmt.Printf("  Rows scraped:  %d\n", result.RowsScraped)
	fmt.Printf("  Records:       %d\n", totalItems)
	fmt.Printf("  Documents:     %d downloaded, %d already present\n", result.Downloaded, result.AlreadyPresent)
	if len(result.Dropped) > 0 {
		fmt.Printf("  Dropped rows:  %v\n", result.Dropped)
	}
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	if bs, ok := writer.(*store.BillStore); ok {
		stats := bs.Stats()
		fmt.Printf("  Stored:        %d new, %d already known, %d bank matches (run %s)\n",
			stats.Inserted, stats.Duplicates, stats.Matched, bs.RunID())
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
