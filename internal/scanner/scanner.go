package scanner

import (
	"context"
	"time"
)

// Scanner defines the interface for producing a dependency vulnerability report
type Scanner interface {
	// Scan runs the external scanner and leaves its JSON report on disk
	Scan(ctx context.Context) (*ScanResult, error)

	// HealthCheck verifies the scanner is installed and recent enough
	HealthCheck(ctx context.Context) error
}

// ScanResult describes a completed scanner invocation
type ScanResult struct {
	ReportPath     string        // JSON report written by the scanner
	HTMLReportPath string        // HTML report written by the scanner
	ExitCode       int           // 0 = clean, 1 = vulnerabilities found
	Duration       time.Duration // Wall time of the scanner process
	ScannedAt      time.Time
}
