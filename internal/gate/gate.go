package gate

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/daimoniac/depgate/internal/errors"
	"github.com/daimoniac/depgate/internal/exceptions"
	"github.com/daimoniac/depgate/internal/observability"
	"github.com/daimoniac/depgate/internal/policy"
	"github.com/daimoniac/depgate/internal/report"
	"github.com/daimoniac/depgate/internal/scanner"
	"github.com/daimoniac/depgate/internal/statestore"
	"github.com/daimoniac/depgate/internal/types"
)

const (
	// ExitPassed means no actionable critical or high findings
	ExitPassed = 0
	// ExitFailed means actionable critical or high findings, or a fatal error
	ExitFailed = 1
)

// Options configures a gate run
type Options struct {
	Project        string
	ExceptionsPath string
	ReportPath     string
	MaxRuns        int // Runs kept per project in the state store, 0 keeps all
}

// Dependencies are the collaborators of a gate run. Scanner, Store and
// Metrics are optional: a nil Scanner gates an existing report, a nil Store
// disables history and nil Metrics disables instrumentation.
type Dependencies struct {
	Scanner scanner.Scanner
	Loader  *exceptions.Loader
	Engine  policy.PolicyEngine
	Store   statestore.StateStore
	Metrics *observability.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Result is the outcome of a completed gate run
type Result struct {
	Decision *policy.Decision
	Rules    *exceptions.RuleSet
	Findings []types.Finding

	// Scan is nil when the scanner was skipped
	Scan       *scanner.ScanResult
	ReportPath string
	// ReportProblem is a missing or malformed report, logged and treated as zero findings
	ReportProblem error

	// NewActionable lists actionable findings absent from the previous run.
	// Only meaningful when HasHistory is true.
	NewActionable []types.Finding
	HasHistory    bool
	RunID         int64

	StartedAt time.Time
	Duration  time.Duration
}

// Passed reports whether the gate passed
func (r *Result) Passed() bool {
	return r != nil && r.Decision != nil && r.Decision.Passed
}

// Gate runs the scan, exception and policy phases for one project
type Gate struct {
	opts      Options
	scanner   scanner.Scanner
	loader    *exceptions.Loader
	engine    policy.PolicyEngine
	store     statestore.StateStore
	metrics   *observability.Metrics
	converter *types.FindingConverter
	logger    *slog.Logger
	now       func() time.Time
}

// NewGate creates a new gate
func NewGate(opts Options, deps Dependencies) (*Gate, error) {
	if deps.Engine == nil {
		return nil, errors.NewPermanentf("policy engine is not configured")
	}
	if opts.ExceptionsPath == "" {
		return nil, errors.NewPermanentf("exceptions path is not configured")
	}
	if opts.ReportPath == "" {
		return nil, errors.NewPermanentf("report path is not configured")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loader := deps.Loader
	if loader == nil {
		loader = exceptions.NewLoader(logger)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Gate{
		opts:      opts,
		scanner:   deps.Scanner,
		loader:    loader,
		engine:    deps.Engine,
		store:     deps.Store,
		metrics:   deps.Metrics,
		converter: types.NewFindingConverter(),
		logger:    logger,
		now:       now,
	}, nil
}

// Run executes the gate. A returned error is fatal and means exit code 1;
// otherwise the result's decision decides the exit code.
func (g *Gate) Run(ctx context.Context) (*Result, error) {
	startTime := g.now()
	result := &Result{
		StartedAt:  startTime,
		ReportPath: g.opts.ReportPath,
	}

	g.logger.Info("starting dependency gate",
		"project", g.opts.Project,
		"exceptions_file", g.opts.ExceptionsPath,
		"scan", g.scanner != nil)

	// Phase 1: Scan
	if err := g.scanPhase(ctx, result); err != nil {
		return nil, err
	}

	// Phase 2: Exception rules
	rules, err := g.rulesPhase(startTime)
	if err != nil {
		return nil, err
	}
	result.Rules = rules

	// Phase 3: Report
	if err := g.reportPhase(result); err != nil {
		return nil, err
	}

	// Phase 4: Policy evaluation
	decision, err := g.engine.Evaluate(ctx, result.Findings, rules)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	result.Decision = decision
	result.Duration = g.now().Sub(startTime)

	// Phase 5: Persistence
	if err := g.persistencePhase(ctx, result); err != nil {
		// Log error but don't fail - the decision is already made
		g.logger.Error("failed to persist gate run", "project", g.opts.Project, "error", err)
	}

	// Phase 6: Metrics
	g.recordMetrics(result)

	g.logCompletion(result)
	return result, nil
}

// scanPhase runs the external scanner unless it is skipped
func (g *Gate) scanPhase(ctx context.Context, result *Result) error {
	if g.scanner == nil {
		g.logger.Info("scan skipped, gating existing report", "report", g.opts.ReportPath)
		return nil
	}

	scanResult, err := g.scanner.Scan(ctx)
	if err != nil {
		kind := failureKind(err)
		if g.metrics != nil {
			g.metrics.ScanFailures.WithLabelValues(kind).Inc()
		}
		g.logger.Error("dependency scan failed",
			"kind", kind,
			"retryable", kind == failureTransient,
			"error", err)
		return fmt.Errorf("failed to run dependency scan: %w", err)
	}

	result.Scan = scanResult
	if scanResult.ReportPath != "" {
		result.ReportPath = scanResult.ReportPath
	}
	if g.metrics != nil {
		g.metrics.ScanDuration.Set(scanResult.Duration.Seconds())
	}

	g.logger.Info("dependency scan completed",
		"report", result.ReportPath,
		"exit_code", scanResult.ExitCode,
		"duration", scanResult.Duration)
	return nil
}

// rulesPhase loads the exception rule set. Only a malformed rule set is fatal.
func (g *Gate) rulesPhase(now time.Time) (*exceptions.RuleSet, error) {
	rules, err := g.loader.Load(g.opts.ExceptionsPath, now)
	if err != nil {
		g.logger.Error("invalid exception rule set",
			"path", g.opts.ExceptionsPath,
			"error", err)
		return nil, fmt.Errorf("failed to load exception rules: %w", err)
	}

	g.logger.Info("exception rules loaded",
		"path", rules.Source(),
		"active", rules.Len(),
		"expired", len(rules.Expired()),
		"review_required", len(rules.ReviewRequired()),
		"expiring_soon", len(rules.ExpiringSoon()))
	return rules, nil
}

// reportPhase reads findings. Missing or malformed reports yield zero findings;
// any other read failure is fatal.
func (g *Gate) reportPhase(result *Result) error {
	findings, err := report.Load(result.ReportPath, g.logger)
	switch {
	case err == nil:
		result.Findings = findings
		g.logger.Info("vulnerability report loaded",
			"path", result.ReportPath,
			"findings", len(findings))
		return nil
	case stderrors.Is(err, errors.ErrNotFound):
		g.logger.Warn("vulnerability report not found, continuing with zero findings",
			"path", result.ReportPath)
	case errors.IsReportError(err):
		g.logger.Warn("vulnerability report malformed, continuing with zero findings",
			"path", result.ReportPath,
			"error", err)
	default:
		g.logger.Error("vulnerability report unreadable",
			"path", result.ReportPath,
			"error", err)
		return fmt.Errorf("failed to load vulnerability report: %w", err)
	}

	result.ReportProblem = err
	result.Findings = nil
	return nil
}

// persistencePhase compares with the previous run and records this one
func (g *Gate) persistencePhase(ctx context.Context, result *Result) error {
	if g.store == nil {
		return nil
	}

	previous, err := g.store.GetLastRun(ctx, g.opts.Project)
	switch {
	case err == nil:
		result.HasHistory = true
		result.NewActionable = newSince(previous, result.Decision.Actionable)
		if len(result.NewActionable) > 0 {
			g.logger.Warn("new actionable findings since last run",
				"project", g.opts.Project,
				"previous_run", previous.RunAt,
				"new", len(result.NewActionable))
		}
	case stderrors.Is(err, statestore.ErrRunNotFound):
		g.logger.Debug("no previous run recorded", "project", g.opts.Project)
	default:
		return fmt.Errorf("failed to load previous run: %w", err)
	}

	record := g.buildRunRecord(result)
	if err := g.store.RecordRun(ctx, record); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	result.RunID = record.ID

	if g.opts.MaxRuns > 0 {
		if err := g.store.CleanupExcessRuns(ctx, g.opts.Project, g.opts.MaxRuns); err != nil {
			return fmt.Errorf("failed to clean up old runs: %w", err)
		}
	}

	g.logger.Debug("gate run recorded", "project", g.opts.Project, "run_id", record.ID)
	return nil
}

// buildRunRecord constructs a RunRecord from the gate results
func (g *Gate) buildRunRecord(result *Result) *statestore.RunRecord {
	decision := result.Decision

	excepted := make([]types.ExceptedFindingRecord, 0, len(decision.Excepted))
	for _, c := range decision.Excepted {
		excepted = append(excepted, g.converter.ToExceptedFindingRecord(c.Finding, *c.Rule, result.StartedAt))
	}

	record := &statestore.RunRecord{
		Project:             g.opts.Project,
		ExceptionsFile:      g.opts.ExceptionsPath,
		ReportPath:          result.ReportPath,
		RunAt:               result.StartedAt,
		DurationMs:          result.Duration.Milliseconds(),
		CriticalCount:       decision.Counts.Critical,
		HighCount:           decision.Counts.High,
		OtherCount:          decision.Counts.Other,
		ExceptedCount:       len(decision.Excepted),
		ExpiredRules:        len(result.Rules.Expired()),
		ReviewRequiredRules: len(result.Rules.ReviewRequired()),
		Passed:              decision.Passed,
		Reason:              decision.Reason,
		Actionable:          g.converter.ToFindingRecords(decision.Actionable, result.StartedAt),
		Excepted:            excepted,
	}
	if result.ReportProblem != nil {
		record.ErrorMessage = result.ReportProblem.Error()
	}
	return record
}

// recordMetrics copies the run outcome into the metric set
func (g *Gate) recordMetrics(result *Result) {
	if g.metrics == nil {
		return
	}
	m := g.metrics
	decision := result.Decision

	for _, tier := range []types.Tier{types.TierCritical, types.TierHigh, types.TierOther} {
		m.FindingsTotal.WithLabelValues(tier.String()).Add(0)
	}
	for _, f := range result.Findings {
		m.FindingsTotal.WithLabelValues(f.Tier().String()).Inc()
	}
	m.ExceptedFindings.Add(float64(len(decision.Excepted)))

	m.ActionableFindings.WithLabelValues(types.TierCritical.String()).Set(float64(decision.Counts.Critical))
	m.ActionableFindings.WithLabelValues(types.TierHigh.String()).Set(float64(decision.Counts.High))
	m.ActionableFindings.WithLabelValues(types.TierOther.String()).Set(float64(decision.Counts.Other))

	m.ExceptionRules.Set(float64(result.Rules.Len()))
	m.ExpiredExceptions.Set(float64(len(result.Rules.Expired())))
	m.ReviewRequiredExceptions.Set(float64(len(result.Rules.ReviewRequired())))
	m.ExpiringExceptions.Set(float64(len(result.Rules.ExpiringSoon())))

	if decision.Passed {
		m.GatePassed.Set(1)
	} else {
		m.GatePassed.Set(0)
	}
	m.LastRunTimestamp.Set(float64(result.StartedAt.Unix()))
}

// logCompletion logs the final gate outcome
func (g *Gate) logCompletion(result *Result) {
	decision := result.Decision
	g.logger.Info("dependency gate completed",
		"project", g.opts.Project,
		"passed", decision.Passed,
		"critical", decision.Counts.Critical,
		"high", decision.Counts.High,
		"other", decision.Counts.Other,
		"excepted", len(decision.Excepted),
		"duration", result.Duration,
		"reason", decision.Reason)
}

// newSince returns findings not present in the previous run's actionable set
func newSince(previous *statestore.RunRecord, actionable []types.Finding) []types.Finding {
	seen := make(map[string]bool, len(previous.Actionable))
	for _, f := range previous.Actionable {
		seen[f.CVEID+"\x00"+f.Package] = true
	}

	var fresh []types.Finding
	for _, f := range actionable {
		if !seen[f.ID+"\x00"+f.Package] {
			fresh = append(fresh, f)
		}
	}
	return fresh
}

const (
	failureTransient = "transient"
	failurePermanent = "permanent"
)

// failureKind classifies a scan failure. A timeout is transient; a missing
// binary, bad arguments or an unknown error are permanent.
func failureKind(err error) string {
	if errors.IsTransient(err) && !errors.IsPermanent(err) {
		return failureTransient
	}
	return failurePermanent
}

// ExitCode maps a gate outcome to the process exit code
func ExitCode(result *Result, err error) int {
	if err != nil || !result.Passed() {
		return ExitFailed
	}
	return ExitPassed
}
