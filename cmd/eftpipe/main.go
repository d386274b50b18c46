// EFT Pipeline CLI
// This application validates, cleans, deduplicates and aggregates batches of
// electronic funds transfer records, and reports on their data quality.
//
// Usage:
//
//	eftpipe process --input transactions.csv --output ./output
//	eftpipe serve --port 8080
//	eftpipe generate --records 5000 --output sample.csv
//
// For detailed help on any command, use: eftpipe <command> --help
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/johnayoung/go-eft-pipeline/internal/api"
	"github.com/johnayoung/go-eft-pipeline/internal/config"
	apperrors "github.com/johnayoung/go-eft-pipeline/internal/errors"
	"github.com/johnayoung/go-eft-pipeline/internal/ingest"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/metrics"
	"github.com/johnayoung/go-eft-pipeline/internal/pipeline"
	"github.com/johnayoung/go-eft-pipeline/internal/sample"
	"github.com/johnayoung/go-eft-pipeline/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "eftpipe"
	ConfigFile = "eftpipe.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitServerError = 3
	ExitDataError   = 4
	ExitInterrupt   = 130
)

const shutdownTimeout = 10 * time.Second

// usageError marks bad command line input.
type usageError struct {
	error
}

func usageErrorf(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// CLI represents the main CLI application
type CLI struct {
	config     *config.AppConfig
	logs       *logger.LoggerManager
	logger     *slog.Logger
	metrics    *metrics.Collector
	classifier *apperrors.ErrorClassifier
	out        io.Writer
}

// main is the entry point for the CLI application
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return ExitUsageError
	}

	command := args[0]
	args = args[1:]

	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return ExitSuccess
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return ExitSuccess
	case "process", "serve", "generate":
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}

	if wantsHelp(args) {
		printCommandHelp(command)
		return ExitSuccess
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{out: os.Stdout}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		return ExitConfigError
	}
	defer cli.close()

	var err error
	switch command {
	case "process":
		err = cli.handleProcess(ctx, args)
	case "serve":
		err = cli.handleServe(ctx, args)
	case "generate":
		err = cli.handleGenerate(ctx, args)
	}
	if err == nil {
		return ExitSuccess
	}

	var usage usageError
	switch {
	case errors.As(err, &usage):
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printCommandHelp(command)
		return ExitUsageError
	case ctx.Err() != nil:
		cli.logger.Warn("Interrupted", "command", command)
		return ExitInterrupt
	case command == "serve":
		cli.logger.Error("Server failed", "error", err)
		return ExitServerError
	default:
		cli.logger.Error("Command failed", "command", command, "error", err)
		return ExitDataError
	}
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	// A missing .env file is normal; anything else is worth knowing about.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := os.Getenv("EFTPIPE_CONFIG")
	if configPath == "" {
		configPath = ConfigFile
	}

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.NewConfigManager(configPath, bootstrap).LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()

	cli.metrics = metrics.NewCollector(cfg.Metrics, cli.logger)
	cli.classifier = apperrors.NewErrorClassifier(cfg.ErrorHandling, cli.logger)
	return nil
}

func (cli *CLI) close() {
	if cli.logs != nil {
		_ = cli.logs.Close()
	}
}

// openStore builds, initializes and wraps the result store.
func (cli *CLI) openStore(ctx context.Context, cfg config.StorageConfig) (storage.ResultStore, error) {
	store, err := storage.New(cfg, cli.logger)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}

	var timeout time.Duration
	if cfg.QueryTimeout != "" {
		timeout, _ = time.ParseDuration(cfg.QueryTimeout)
	}
	return storage.NewRetryingStore(store, cfg.Type, cli.classifier, cli.metrics, timeout), nil
}

// handleProcess handles the 'process' command: read one batch, run it and save the results
func (cli *CLI) handleProcess(ctx context.Context, args []string) error {
	flags, err := parseProcessFlags(args)
	if err != nil {
		return err
	}
	if flags.Input == "" {
		return usageErrorf("--input is required")
	}

	storeCfg, err := resolveStorage(cli.config.Storage, flags.Store, flags.Output)
	if err != nil {
		return err
	}

	batch, checksum, err := ingest.ReadFile(flags.Input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	ctx = logger.WithSource(ctx, filepath.Base(flags.Input))
	cli.logger.Info("Processing batch",
		"input", flags.Input,
		"records", batch.Len(),
		"store", storeCfg.Type)

	processor := pipeline.New(cli.config.Pipeline, cli.logger).WithMetrics(cli.metrics)
	result, err := processor.Process(ctx, batch)
	if err != nil {
		if violations := apperrors.SchemaViolations(err); len(violations) > 0 {
			fmt.Fprintln(os.Stderr, "Schema validation failed:")
			for _, v := range violations {
				fmt.Fprintf(os.Stderr, "  - %s\n", v)
			}
		}
		return err
	}

	store, err := cli.openStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	saved, err := store.SaveRun(ctx, &storage.RunRecord{
		RunID:      result.RunID,
		Source:     flags.Input,
		Checksum:   checksum,
		ReceivedAt: time.Now().UTC(),
		Aggregates: result.Aggregates,
		Report:     result.Report,
		Anomalies:  result.Anomalies,
	})
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	if flags.JSON {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSummary(cli.out, result, saved)
	return nil
}

// handleServe handles the 'serve' command: run the HTTP API until interrupted
func (cli *CLI) handleServe(ctx context.Context, args []string) error {
	flags, err := parseServeFlags(args, cli.config.Server.Port)
	if err != nil {
		return err
	}

	storeCfg, err := resolveStorage(cli.config.Storage, flags.Store, "")
	if err != nil {
		return err
	}
	store, err := cli.openStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	processor := pipeline.New(cli.config.Pipeline, cli.logger).WithMetrics(cli.metrics)
	readTimeout, _ := time.ParseDuration(cli.config.Server.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cli.config.Server.WriteTimeout)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", flags.Port),
		Handler:      api.NewRouter(processor, store, cli.metrics, cli.config.Server, cli.logger),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		cli.logger.Info("Starting HTTP server", "addr", server.Addr, "store", storeCfg.Type)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	cli.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleGenerate handles the 'generate' command: write a synthetic batch
func (cli *CLI) handleGenerate(ctx context.Context, args []string) error {
	flags, err := parseGenerateFlags(args)
	if err != nil {
		return err
	}
	if flags.Output == "" {
		return usageErrorf("--output is required")
	}
	format, err := ingest.FormatForPath(flags.Output)
	if err != nil {
		return usageError{err}
	}

	opts := sample.DefaultOptions(flags.Records)
	opts.Seed = flags.Seed
	batch := sample.Generate(opts)

	if dir := filepath.Dir(flags.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(flags.Output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	switch format {
	case ingest.FormatJSON:
		err = json.NewEncoder(f).Encode(map[string]any{"records": batch.Records})
	default:
		err = ingest.WriteCSV(f, batch)
	}
	if err != nil {
		return fmt.Errorf("failed to write sample data: %w", err)
	}

	cli.logger.InfoContext(ctx, "Generated sample data", "path", flags.Output, "records", batch.Len())
	fmt.Fprintf(cli.out, "Wrote %s records to %s\n", formatCount(batch.Len()), flags.Output)
	return nil
}

// resolveStorage applies the --store and --output overrides. An output
// directory without an explicit store selects the file sink.
func resolveStorage(base config.StorageConfig, storeType, output string) (config.StorageConfig, error) {
	cfg := base
	if storeType == "" && output != "" {
		storeType = "file"
	}
	if storeType != "" {
		cfg.Type = storeType
	}
	if output != "" {
		cfg.OutputDir = output
	}

	switch cfg.Type {
	case "duckdb", "sqlite", "memory", "file":
	default:
		return cfg, usageErrorf("unknown store %q (use duckdb, sqlite, memory or file)", cfg.Type)
	}
	if (cfg.Type == "duckdb" || cfg.Type == "sqlite") && cfg.DatabaseURL != ":memory:" {
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return cfg, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	return cfg, nil
}

// printSummary prints the end-of-run report
func printSummary(w io.Writer, result *pipeline.Result, saved *storage.SaveResult) {
	rule := strings.Repeat("=", 50)
	report := result.Report

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "PROCESSING SUMMARY")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run ID: %s\n", result.RunID)
	fmt.Fprintf(w, "Original records: %s\n", formatCount(report.TotalRecords))
	fmt.Fprintf(w, "Valid records: %s\n", formatCount(report.ValidRecords))
	fmt.Fprintf(w, "Quality score: %s%%\n", strconv.FormatFloat(report.QualityScore, 'f', -1, 64))
	fmt.Fprintf(w, "Quality level: %s\n", report.QualityLevel)
	fmt.Fprintf(w, "Anomalies detected: %s\n", formatCount(report.AnomalyCount))
	fmt.Fprintf(w, "Final aggregated records: %s\n", formatCount(len(result.Aggregates)))
	if saved != nil {
		fmt.Fprintf(w, "Stored aggregates: %s new, %s already present\n",
			formatCount(saved.AggregatesInserted), formatCount(saved.AggregatesSkipped))
	}
	fmt.Fprintln(w, rule)

	for _, s := range result.Stages {
		fmt.Fprintf(w, "  %-10s in=%-8d out=%-8d dropped=%d\n", s.Name, s.In, s.Out, s.Dropped)
	}
}

// formatCount renders n with thousands separators.
func formatCount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}

// Flag structures for each command

// ProcessFlags represents flags for the process command
type ProcessFlags struct {
	Input  string
	Output string
	Store  string
	JSON   bool
}

// ServeFlags represents flags for the serve command
type ServeFlags struct {
	Port  int
	Store string
}

// GenerateFlags represents flags for the generate command
type GenerateFlags struct {
	Records int
	Output  string
	Seed    int64
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func flagValue(args []string, i int) (string, error) {
	if i+1 >= len(args) {
		return "", usageErrorf("%s requires a value", args[i])
	}
	return args[i+1], nil
}

// parseProcessFlags parses command line arguments for the process command
func parseProcessFlags(args []string) (*ProcessFlags, error) {
	flags := &ProcessFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input", "-i":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Input = v
			i++
		case "--output", "-o":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Output = v
			i++
		case "--store", "-s":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Store = v
			i++
		case "--json":
			flags.JSON = true
		default:
			return nil, usageErrorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseServeFlags parses command line arguments for the serve command
func parseServeFlags(args []string, defaultPort int) (*ServeFlags, error) {
	flags := &ServeFlags{Port: defaultPort}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--port", "-p":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			port, err := strconv.Atoi(v)
			if err != nil || port <= 0 || port > 65535 {
				return nil, usageErrorf("invalid port: %s", v)
			}
			flags.Port = port
			i++
		case "--store", "-s":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Store = v
			i++
		default:
			return nil, usageErrorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseGenerateFlags parses command line arguments for the generate command
func parseGenerateFlags(args []string) (*GenerateFlags, error) {
	flags := &GenerateFlags{
		Records: 5000, // Default record count
		Seed:    42,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--records", "-n":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, usageErrorf("invalid records value: %s", v)
			}
			flags.Records = n
			i++
		case "--output", "-o":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			flags.Output = v
			i++
		case "--seed":
			v, err := flagValue(args, i)
			if err != nil {
				return nil, err
			}
			seed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, usageErrorf("invalid seed value: %s", v)
			}
			flags.Seed = seed
			i++
		default:
			return nil, usageErrorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - EFT Transaction Pipeline v%s

USAGE:
    %s <command> [options]

COMMANDS:
    process     Validate, clean and aggregate one batch file
    serve       Start the HTTP submission API
    generate    Write a synthetic batch with known quality problems

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Process a CSV batch and write CSV/JSON results to ./output
    %s process --input transactions.csv --output ./output

    # Process a JSON batch into the configured DuckDB database
    %s process --input transactions.json --store duckdb

    # Serve the API on port 9090
    %s serve --port 9090

    # Generate 5,000 sample transactions
    %s generate --records 5000 --output sample.csv

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format, path overridable with EFTPIPE_CONFIG)
    - Environment variables, also read from .env
      (e.g., STORAGE_TYPE, DATABASE_URL, PIPELINE_ANOMALY_THRESHOLD_STD)

    Example config file:
    {
        "storage": {"type": "sqlite", "database_url": "./data/eft.db"},
        "pipeline": {"anomaly_threshold_std": 3.0, "max_transaction_amount": 1000000},
        "logging": {"level": "info", "format": "json"}
    }

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "process":
		fmt.Printf(`%s process - Run the pipeline over one batch file

USAGE:
    %s process [options]

OPTIONS:
    --input, -i <file>        Batch file to process (required)
                              Format is picked by extension: .csv or .json

    --output, -o <dir>        Directory for the file sink. Selects the file
                              store unless --store is given

    --store, -s <type>        Result store: duckdb, sqlite, memory, file
                              (default: storage.type from configuration)

    --json                    Print the full run result as JSON instead of
                              the summary

    --help, -h                Show this help message

EXAMPLES:
    %s process --input transactions.csv --output ./output
    %s process --input transactions.csv --store sqlite

NOTES:
    - Only a schema failure (missing columns, empty batch) fails the run
    - Aggregates already stored for a (bank, date) are kept, not replaced
`, AppName, AppName, AppName, AppName)

	case "serve":
		fmt.Printf(`%s serve - Start the HTTP submission API

USAGE:
    %s serve [options]

OPTIONS:
    --port, -p <port>         Port to listen on (default: server.port)
    --store, -s <type>        Result store: duckdb, sqlite, memory, file
    --help, -h                Show this help message

ENDPOINTS:
    POST /api/v1/batches      Submit a batch (Content-Type text/csv or application/json)
    GET  /api/v1/aggregates   Stored aggregates (?bank_id=&from=&to=)
    GET  /api/v1/health       Store health
    GET  /api/v1/metrics      Metrics snapshot
`, AppName, AppName)

	case "generate":
		fmt.Printf(`%s generate - Write a synthetic batch

USAGE:
    %s generate [options]

OPTIONS:
    --records, -n <count>     Number of base records (default: 5000)
    --output, -o <file>       Output file, .csv or .json (required)
    --seed <n>                Random seed (default: 42)
    --help, -h                Show this help message

NOTES:
    - About 5%% of records get a null amount or bank_id, 50 get a negative
      amount, 30 exceed the maximum and 100 are appended as duplicates
`, AppName, AppName)

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
