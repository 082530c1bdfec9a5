package scanner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/daimoniac/depgate/internal/config"
	"github.com/daimoniac/depgate/internal/errors"
)

const (
	// JSONReportName is the file name Dependency-Check uses for --format JSON
	JSONReportName = "dependency-check-report.json"
	// HTMLReportName is the file name Dependency-Check uses for --format HTML
	HTMLReportName = "dependency-check-report.html"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// commandResult is the outcome of a process that ran to completion
type commandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// commandRunner runs an external command. A non-zero exit is reported through
// commandResult.ExitCode, err is reserved for failures to start or wait.
type commandRunner func(ctx context.Context, name string, args ...string) (commandResult, error)

func execRunner(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, err
}

// DependencyCheckScanner implements Scanner using the OWASP Dependency-Check CLI
type DependencyCheckScanner struct {
	binary      string
	projectName string
	scanPath    string
	reportDir   string
	excludes    []string
	timeout     time.Duration
	constraint  string
	logger      *slog.Logger
	run         commandRunner
}

// NewDependencyCheckScanner creates a new Dependency-Check scanner
func NewDependencyCheckScanner(cfg config.ScannerConfig) (*DependencyCheckScanner, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Binary == "" {
		return nil, errors.NewPermanentf("scanner binary is required")
	}

	if cfg.VersionConstraint != "" {
		if _, err := semver.NewConstraint(cfg.VersionConstraint); err != nil {
			return nil, errors.NewPermanentf("invalid scanner version constraint %q: %w", cfg.VersionConstraint, err)
		}
	}

	scanPath := cfg.ScanPath
	if scanPath == "" {
		scanPath = "."
	}
	reportDir := cfg.ReportDir
	if reportDir == "" {
		reportDir = "reports"
	}

	return &DependencyCheckScanner{
		binary:      cfg.Binary,
		projectName: cfg.ProjectName,
		scanPath:    scanPath,
		reportDir:   reportDir,
		excludes:    append([]string(nil), cfg.Excludes...),
		timeout:     cfg.Timeout,
		constraint:  cfg.VersionConstraint,
		logger:      logger,
		run:         execRunner,
	}, nil
}

// Args returns the command line passed to Dependency-Check
func (s *DependencyCheckScanner) Args() []string {
	args := []string{
		"--project", s.projectName,
		"--scan", s.scanPath,
		"--format", "JSON",
		"--format", "HTML",
		"--out", s.reportDir,
		"--failOnCVSS", "0",
		"--enableExperimental",
	}
	for _, pattern := range s.excludes {
		args = append(args, "--exclude", pattern)
	}
	return args
}

// Scan runs Dependency-Check over the configured source tree
func (s *DependencyCheckScanner) Scan(ctx context.Context) (*ScanResult, error) {
	startTime := time.Now()

	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return nil, errors.NewPermanentf("failed to create report directory %s: %w", s.reportDir, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := s.Args()
	s.logger.Info("running dependency-check",
		"binary", s.binary,
		"scan_path", s.scanPath,
		"report_dir", s.reportDir,
		"excludes", len(s.excludes))
	s.logger.Debug("dependency-check arguments", "args", strings.Join(args, " "))

	result, err := s.run(ctx, s.binary, args...)
	duration := time.Since(startTime)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			s.logger.Error("dependency-check timed out", "timeout", s.timeout, "duration", duration)
			return nil, errors.NewTransientf("dependency-check did not finish within %s: %w", s.timeout, errors.ErrTimeout)
		}
		return nil, fmt.Errorf("dependency-check interrupted: %w", ctxErr)
	}

	if err != nil {
		if isNotFound(err) {
			s.logger.Error("dependency-check not found", "binary", s.binary)
			return nil, errors.NewPermanentf("dependency-check binary %q: %w (install it from https://owasp.org/www-project-dependency-check/)", s.binary, errors.ErrNotFound)
		}
		return nil, errors.NewPermanentf("failed to run dependency-check: %w", err)
	}

	switch result.ExitCode {
	case 0, 1:
	default:
		s.logger.Error("dependency-check failed",
			"exit_code", result.ExitCode,
			"duration", duration,
			"stderr", strings.TrimSpace(string(result.Stderr)))
		return nil, errors.NewPermanentf("dependency-check exited with code %d: %s",
			result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}

	s.logger.Info("dependency-check completed",
		"exit_code", result.ExitCode,
		"duration", duration)

	return &ScanResult{
		ReportPath:     filepath.Join(s.reportDir, JSONReportName),
		HTMLReportPath: filepath.Join(s.reportDir, HTMLReportName),
		ExitCode:       result.ExitCode,
		Duration:       duration,
		ScannedAt:      time.Now().UTC(),
	}, nil
}

// HealthCheck verifies the binary runs and satisfies the version constraint
func (s *DependencyCheckScanner) HealthCheck(ctx context.Context) error {
	result, err := s.run(ctx, s.binary, "--version")
	if err != nil {
		if isNotFound(err) {
			return errors.NewPermanentf("dependency-check binary %q: %w", s.binary, errors.ErrNotFound)
		}
		return errors.NewPermanentf("dependency-check command not available: %w", err)
	}
	if result.ExitCode != 0 {
		return errors.NewPermanentf("dependency-check --version exited with code %d", result.ExitCode)
	}

	version, err := ParseVersion(string(result.Stdout))
	if err != nil {
		return err
	}

	s.logger.Debug("dependency-check version detected", "version", version.String())

	if s.constraint == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(s.constraint)
	if err != nil {
		return errors.NewPermanentf("invalid scanner version constraint %q: %w", s.constraint, err)
	}
	if !constraint.Check(version) {
		return errors.NewPermanentf("dependency-check %s does not satisfy %q", version, s.constraint)
	}
	return nil
}

// ParseVersion extracts the first x.y.z version from `dependency-check --version` output
func ParseVersion(output string) (*semver.Version, error) {
	match := versionPattern.FindString(output)
	if match == "" {
		return nil, errors.NewPermanentf("no version in dependency-check output %q: %w", strings.TrimSpace(output), errors.ErrInvalidInput)
	}
	version, err := semver.NewVersion(match)
	if err != nil {
		return nil, errors.NewPermanentf("invalid dependency-check version %q: %w", match, err)
	}
	return version, nil
}

func isNotFound(err error) bool {
	return stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist)
}
