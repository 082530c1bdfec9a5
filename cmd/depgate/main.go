package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daimoniac/depgate/internal/config"
	"github.com/daimoniac/depgate/internal/exceptions"
	"github.com/daimoniac/depgate/internal/gate"
	"github.com/daimoniac/depgate/internal/observability"
	"github.com/daimoniac/depgate/internal/policy"
	"github.com/daimoniac/depgate/internal/scanner"
	"github.com/daimoniac/depgate/internal/statestore"
	"github.com/daimoniac/depgate/internal/summary"
	"github.com/joho/godotenv"
)

const pushTimeout = 10 * time.Second

type flags struct {
	noColor  bool
	skipScan bool
	check    bool
	history  int
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("depgate", flag.ContinueOnError)
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&f.skipScan, "skip-scan", false, "Gate an existing report without running dependency-check")
	fs.BoolVar(&f.check, "check", false, "Run preflight checks and exit")
	fs.IntVar(&f.history, "history", 0, "Print the last N recorded runs and exit")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(gate.ExitFailed)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return gate.ExitPassed, nil
	}
	if err != nil {
		return gate.ExitFailed, err
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return gate.ExitFailed, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.noColor {
		cfg.Output.NoColor = true
	}
	if opts.skipScan {
		cfg.Scanner.Skip = true
	}

	if err := cfg.Validate(); err != nil {
		return gate.ExitFailed, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting depgate",
		"project", cfg.Scanner.ProjectName,
		"exceptions_file", cfg.ExceptionsPath,
		"report", cfg.ReportPath,
		"skip_scan", cfg.Scanner.Skip,
		"log_level", cfg.Observability.LogLevel)

	summary.SetNoColor(cfg.Output.NoColor)
	out := summary.NewWriter(os.Stdout, summary.Options{
		MaxListed:      cfg.Output.MaxListed,
		ExceptionsPath: cfg.ExceptionsPath,
		HTMLReportPath: cfg.Output.HTMLReportPath,
	})

	var store statestore.StateStore
	if cfg.StateStore.SQLitePath != "" {
		logger.Debug("initializing state store", "path", cfg.StateStore.SQLitePath)
		sqliteStore, err := statestore.NewSQLiteStore(cfg.StateStore.SQLitePath)
		if err != nil {
			// Run history is optional
			logger.Error("failed to initialize sqlite store, run history disabled",
				"path", cfg.StateStore.SQLitePath,
				"error", err)
		} else {
			store = sqliteStore
			defer sqliteStore.Close()
		}
	}

	if opts.history > 0 {
		return printHistory(ctx, out, store, cfg.Scanner.ProjectName, opts.history)
	}

	var depScanner scanner.Scanner
	if !cfg.Scanner.Skip {
		cfg.Scanner.Logger = logger
		dc, err := scanner.NewDependencyCheckScanner(cfg.Scanner)
		if err != nil {
			return gate.ExitFailed, fmt.Errorf("failed to initialize dependency-check scanner: %w", err)
		}
		depScanner = dc
	}

	loader := exceptions.NewLoader(logger)
	loader.SetExpiryWarningWindow(cfg.Policy.ExpiryWarningWindow)

	if opts.check {
		return preflight(ctx, out, logger, cfg, loader, depScanner, store)
	}

	if depScanner != nil {
		if err := depScanner.HealthCheck(ctx); err != nil {
			logger.Warn("dependency-check health check failed",
				"version_constraint", cfg.Scanner.VersionConstraint,
				"error", err)
		}
	}

	engine, err := policy.NewEngine(logger, policy.PolicyConfig{
		Expression:     cfg.Policy.Expression,
		FailureMessage: cfg.Policy.FailureMessage,
	})
	if err != nil {
		return gate.ExitFailed, fmt.Errorf("failed to create policy engine: %w", err)
	}

	metrics := observability.NewMetrics()

	g, err := gate.NewGate(gate.Options{
		Project:        cfg.Scanner.ProjectName,
		ExceptionsPath: cfg.ExceptionsPath,
		ReportPath:     cfg.ReportPath,
		MaxRuns:        cfg.StateStore.MaxRuns,
	}, gate.Dependencies{
		Scanner: depScanner,
		Loader:  loader,
		Engine:  engine,
		Store:   store,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return gate.ExitFailed, fmt.Errorf("failed to create gate: %w", err)
	}

	result, runErr := g.Run(ctx)
	if runErr != nil {
		logger.Error("dependency gate failed", "error", runErr)
		if err := out.WriteError(runErr); err != nil {
			logger.Error("failed to write summary", "error", err)
		}
	} else if err := out.WriteResult(result); err != nil {
		logger.Error("failed to write summary", "error", err)
	}

	pushMetrics(ctx, logger, cfg, metrics)

	return gate.ExitCode(result, runErr), nil
}

// pushMetrics sends the run's metrics to the Pushgateway when configured
func pushMetrics(ctx context.Context, logger *slog.Logger, cfg *config.Config, metrics *observability.Metrics) {
	if cfg.Observability.PushgatewayURL == "" {
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	grouping := map[string]string{"project": cfg.Scanner.ProjectName}
	if err := metrics.Push(pushCtx, cfg.Observability.PushgatewayURL, cfg.Observability.JobName, grouping); err != nil {
		logger.Warn("failed to push metrics",
			"pushgateway", cfg.Observability.PushgatewayURL,
			"error", err)
		return
	}
	logger.Debug("metrics pushed", "pushgateway", cfg.Observability.PushgatewayURL)
}

// preflight checks every configured component without running the gate
func preflight(ctx context.Context, out *summary.Writer, logger *slog.Logger, cfg *config.Config, loader *exceptions.Loader, depScanner scanner.Scanner, store statestore.StateStore) (int, error) {
	checks := map[string]observability.HealthCheckFunc{
		"config": func(ctx context.Context) error { return nil },
		"exceptions": func(ctx context.Context) error {
			_, err := loader.Load(cfg.ExceptionsPath, time.Now())
			return err
		},
		"policy": func(ctx context.Context) error {
			_, err := policy.NewEngine(logger, policy.PolicyConfig{
				Expression:     cfg.Policy.Expression,
				FailureMessage: cfg.Policy.FailureMessage,
			})
			return err
		},
	}
	if depScanner != nil {
		checks["dependency-check"] = depScanner.HealthCheck
	}
	if cfg.StateStore.SQLitePath != "" {
		checks["statestore"] = func(ctx context.Context) error {
			if store == nil {
				return fmt.Errorf("sqlite store at %s could not be opened", cfg.StateStore.SQLitePath)
			}
			return store.Ping(ctx)
		}
	}

	status := observability.NewHealthChecker(logger).CheckAll(ctx, checks)
	if err := out.WriteHealth(status); err != nil {
		return gate.ExitFailed, err
	}
	if status.Status != observability.StatusHealthy {
		return gate.ExitFailed, nil
	}
	return gate.ExitPassed, nil
}

// printHistory prints the most recent recorded runs for the project
func printHistory(ctx context.Context, out *summary.Writer, store statestore.StateStore, project string, limit int) (int, error) {
	if store == nil {
		return gate.ExitFailed, fmt.Errorf("run history requires DEPGATE_STATE_DB")
	}

	runs, err := store.ListRuns(ctx, statestore.RunFilter{Project: project, Limit: limit})
	if err != nil {
		return gate.ExitFailed, fmt.Errorf("failed to list runs: %w", err)
	}
	if err := out.WriteHistory(runs); err != nil {
		return gate.ExitFailed, err
	}
	return gate.ExitPassed, nil
}
