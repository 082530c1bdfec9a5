package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/daimoniac/depgate/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	ExceptionsPath string
	ReportPath     string
	Scanner        ScannerConfig
	Policy         PolicyConfig
	StateStore     StateStoreConfig
	Observability  ObservabilityConfig
	Output         OutputConfig
}

// ScannerConfig configures the Dependency-Check invocation
type ScannerConfig struct {
	Skip              bool
	Binary            string
	ProjectName       string
	ScanPath          string
	ReportDir         string
	Excludes          []string
	Timeout           time.Duration
	VersionConstraint string
	Logger            *slog.Logger // Logger instance for structured logging
}

// PolicyConfig configures exception handling and the pass/fail expression
type PolicyConfig struct {
	Expression          string
	FailureMessage      string
	ExpiryWarningWindow time.Duration
}

// StateStoreConfig configures the optional run history store
type StateStoreConfig struct {
	SQLitePath string
	MaxRuns    int // Runs kept per project, 0 keeps all
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel       string
	PushgatewayURL string
	JobName        string
}

// OutputConfig configures the human-readable summary
type OutputConfig struct {
	NoColor        bool
	MaxListed      int
	HTMLReportPath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	reportDir := getEnv("DEPGATE_REPORT_DIR", "reports")

	expiryWindow, err := getEnvInterval("DEPGATE_EXPIRY_WARNING_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, errors.NewPermanentf("invalid DEPGATE_EXPIRY_WARNING_WINDOW: %w", err)
	}

	cfg := &Config{
		ExceptionsPath: getEnv("DEPGATE_EXCEPTIONS_FILE", ".security/vulnerability-exceptions.yml"),
		ReportPath:     getEnv("DEPGATE_REPORT_FILE", filepath.Join(reportDir, "dependency-check-report.json")),
		Scanner: ScannerConfig{
			Skip:              getEnvBool("DEPGATE_SKIP_SCAN", false),
			Binary:            getEnv("DEPGATE_SCANNER_BINARY", "dependency-check"),
			ProjectName:       getEnv("DEPGATE_PROJECT_NAME", "depgate"),
			ScanPath:          getEnv("DEPGATE_SCAN_PATH", "."),
			ReportDir:         reportDir,
			Excludes:          getEnvList("DEPGATE_SCAN_EXCLUDES", []string{"**/.security/**", "**/node_modules/**", "**/dist/**"}),
			Timeout:           getEnvDuration("DEPGATE_SCAN_TIMEOUT", 30*time.Minute),
			VersionConstraint: getEnv("DEPGATE_SCANNER_VERSION_CONSTRAINT", ">= 12.1.0"),
		},
		Policy: PolicyConfig{
			Expression:          getEnv("DEPGATE_POLICY_EXPRESSION", ""),
			FailureMessage:      getEnv("DEPGATE_POLICY_FAILURE_MESSAGE", ""),
			ExpiryWarningWindow: expiryWindow,
		},
		StateStore: StateStoreConfig{
			SQLitePath: getEnv("DEPGATE_STATE_DB", ""),
			MaxRuns:    getEnvInt("DEPGATE_STATE_MAX_RUNS", 100),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			PushgatewayURL: getEnv("DEPGATE_PUSHGATEWAY_URL", ""),
			JobName:        getEnv("DEPGATE_METRICS_JOB", "depgate"),
		},
		Output: OutputConfig{
			NoColor:        getEnv("NO_COLOR", "") != "",
			MaxListed:      getEnvInt("DEPGATE_MAX_LISTED", 10),
			HTMLReportPath: filepath.Join(reportDir, "dependency-check-report.html"),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ExceptionsPath == "" {
		return errors.NewPermanentf("exceptions file path is required")
	}

	if c.ReportPath == "" {
		return errors.NewPermanentf("report file path is required")
	}

	if !c.Scanner.Skip {
		if c.Scanner.Binary == "" {
			return errors.NewPermanentf("DEPGATE_SCANNER_BINARY must not be empty unless DEPGATE_SKIP_SCAN is set")
		}
		if c.Scanner.Timeout <= 0 {
			return errors.NewPermanentf("scanner timeout must be positive, got %s", c.Scanner.Timeout)
		}
		if c.Scanner.VersionConstraint != "" {
			if _, err := semver.NewConstraint(c.Scanner.VersionConstraint); err != nil {
				return errors.NewPermanentf("invalid scanner version constraint %q: %w", c.Scanner.VersionConstraint, err)
			}
		}
	}

	if c.Output.MaxListed < 0 {
		return errors.NewPermanentf("DEPGATE_MAX_LISTED must not be negative, got %d", c.Output.MaxListed)
	}

	if c.StateStore.MaxRuns < 0 {
		return errors.NewPermanentf("DEPGATE_STATE_MAX_RUNS must not be negative, got %d", c.StateStore.MaxRuns)
	}

	if c.Observability.PushgatewayURL != "" && c.Observability.JobName == "" {
		return errors.NewPermanentf("metrics job name is required when a pushgateway is configured")
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewPermanentf("invalid log level: %s (must be debug, info, warn, or error)", c.Observability.LogLevel)
	}

	return nil
}
