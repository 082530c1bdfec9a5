package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"DEPGATE_EXCEPTIONS_FILE", "DEPGATE_REPORT_FILE", "DEPGATE_REPORT_DIR",
	"DEPGATE_SKIP_SCAN", "DEPGATE_SCANNER_BINARY", "DEPGATE_SCAN_EXCLUDES",
	"DEPGATE_EXPIRY_WARNING_WINDOW", "DEPGATE_STATE_DB", "DEPGATE_STATE_MAX_RUNS", "DEPGATE_MAX_LISTED",
	"DEPGATE_SCANNER_VERSION_CONSTRAINT", "DEPGATE_SCAN_TIMEOUT", "NO_COLOR", "LOG_LEVEL",
}

// clearEnv blanks variables that would otherwise leak in from the CI environment
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ExceptionsPath != ".security/vulnerability-exceptions.yml" {
		t.Errorf("Expected default exceptions path, got %s", cfg.ExceptionsPath)
	}

	if cfg.ReportPath != filepath.Join("reports", "dependency-check-report.json") {
		t.Errorf("Expected default report path, got %s", cfg.ReportPath)
	}

	if cfg.Scanner.Skip {
		t.Error("Expected scanner to run by default")
	}

	if cfg.Scanner.Binary != "dependency-check" {
		t.Errorf("Expected dependency-check binary, got %s", cfg.Scanner.Binary)
	}

	if len(cfg.Scanner.Excludes) != 3 {
		t.Errorf("Expected 3 default excludes, got %v", cfg.Scanner.Excludes)
	}

	if cfg.Policy.ExpiryWarningWindow != 7*24*time.Hour {
		t.Errorf("Expected 7d expiry warning window, got %v", cfg.Policy.ExpiryWarningWindow)
	}

	if cfg.Output.MaxListed != 10 {
		t.Errorf("Expected 10 listed findings, got %d", cfg.Output.MaxListed)
	}

	if cfg.StateStore.SQLitePath != "" {
		t.Errorf("Expected state store disabled by default, got %s", cfg.StateStore.SQLitePath)
	}

	if cfg.StateStore.MaxRuns != 100 {
		t.Errorf("Expected 100 retained runs, got %d", cfg.StateStore.MaxRuns)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEPGATE_EXCEPTIONS_FILE", "custom/exceptions.yml")
	t.Setenv("DEPGATE_REPORT_DIR", "out")
	t.Setenv("DEPGATE_SKIP_SCAN", "true")
	t.Setenv("DEPGATE_SCAN_EXCLUDES", "**/vendor/**, ,**/testdata/**")
	t.Setenv("DEPGATE_SCAN_TIMEOUT", "45m")
	t.Setenv("DEPGATE_EXPIRY_WARNING_WINDOW", "14d")
	t.Setenv("DEPGATE_POLICY_EXPRESSION", "criticalCount == 0")
	t.Setenv("DEPGATE_STATE_DB", "depgate.db")
	t.Setenv("DEPGATE_MAX_LISTED", "25")
	t.Setenv("NO_COLOR", "1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ExceptionsPath != "custom/exceptions.yml" {
		t.Errorf("ExceptionsPath = %s", cfg.ExceptionsPath)
	}
	if cfg.ReportPath != filepath.Join("out", "dependency-check-report.json") {
		t.Errorf("ReportPath = %s, want report inside DEPGATE_REPORT_DIR", cfg.ReportPath)
	}
	if cfg.Output.HTMLReportPath != filepath.Join("out", "dependency-check-report.html") {
		t.Errorf("HTMLReportPath = %s", cfg.Output.HTMLReportPath)
	}
	if !cfg.Scanner.Skip {
		t.Error("Expected scanner to be skipped")
	}
	if strings.Join(cfg.Scanner.Excludes, "|") != "**/vendor/**|**/testdata/**" {
		t.Errorf("Excludes = %v", cfg.Scanner.Excludes)
	}
	if cfg.Scanner.Timeout != 45*time.Minute {
		t.Errorf("Timeout = %v", cfg.Scanner.Timeout)
	}
	if cfg.Policy.ExpiryWarningWindow != 14*24*time.Hour {
		t.Errorf("ExpiryWarningWindow = %v", cfg.Policy.ExpiryWarningWindow)
	}
	if cfg.Policy.Expression != "criticalCount == 0" {
		t.Errorf("Expression = %s", cfg.Policy.Expression)
	}
	if cfg.StateStore.SQLitePath != "depgate.db" {
		t.Errorf("SQLitePath = %s", cfg.StateStore.SQLitePath)
	}
	if cfg.Output.MaxListed != 25 || !cfg.Output.NoColor {
		t.Errorf("Output = %+v", cfg.Output)
	}
}

func TestLoadInvalidExpiryWindow(t *testing.T) {
	t.Setenv("DEPGATE_EXPIRY_WARNING_WINDOW", "soon")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid expiry warning window")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ExceptionsPath: "exceptions.yml",
			ReportPath:     "report.json",
			Scanner: ScannerConfig{
				Binary:            "dependency-check",
				Timeout:           time.Minute,
				VersionConstraint: ">= 12.1.0",
			},
			Observability: ObservabilityConfig{LogLevel: "info", JobName: "depgate"},
			Output:        OutputConfig{MaxListed: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing exceptions path", func(c *Config) { c.ExceptionsPath = "" }, "exceptions file path is required"},
		{"missing report path", func(c *Config) { c.ReportPath = "" }, "report file path is required"},
		{"missing binary", func(c *Config) { c.Scanner.Binary = "" }, "DEPGATE_SCANNER_BINARY"},
		{"missing binary but skipped", func(c *Config) { c.Scanner.Binary = ""; c.Scanner.Skip = true }, ""},
		{"zero timeout", func(c *Config) { c.Scanner.Timeout = 0 }, "timeout must be positive"},
		{"bad constraint", func(c *Config) { c.Scanner.VersionConstraint = ">= banana" }, "invalid scanner version constraint"},
		{"empty constraint", func(c *Config) { c.Scanner.VersionConstraint = "" }, ""},
		{"negative max listed", func(c *Config) { c.Output.MaxListed = -1 }, "DEPGATE_MAX_LISTED"},
		{"negative max runs", func(c *Config) { c.StateStore.MaxRuns = -1 }, "DEPGATE_STATE_MAX_RUNS"},
		{"pushgateway without job", func(c *Config) {
			c.Observability.PushgatewayURL = "http://pushgateway:9091"
			c.Observability.JobName = ""
		}, "job name is required"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
