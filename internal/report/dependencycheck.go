package report

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/daimoniac/depgate/internal/errors"
	"github.com/daimoniac/depgate/internal/types"
)

// Defaults used when the report omits a field
const (
	UnknownID       = "UNKNOWN"
	UnknownPackage  = "unknown"
	UnknownSeverity = "UNKNOWN"
)

// dependencyCheckReport represents the JSON output of OWASP Dependency-Check
type dependencyCheckReport struct {
	Dependencies []dependency `json:"dependencies"`
}

type dependency struct {
	FileName        string          `json:"fileName"`
	FilePath        string          `json:"filePath"`
	Vulnerabilities []vulnerability `json:"vulnerabilities"`
}

type vulnerability struct {
	Name        string  `json:"name"`
	Severity    string  `json:"severity"`
	CVSSv3      *cvssV3 `json:"cvssv3"`
	CVSSv2      *cvssV2 `json:"cvssv2"`
	Description string  `json:"description"`
}

type cvssV3 struct {
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

type cvssV2 struct {
	Score    float64 `json:"score"`
	Severity string  `json:"severity"`
}

// Load reads a Dependency-Check JSON report. A missing file returns an error
// wrapping errors.ErrNotFound and malformed JSON returns a *errors.ReportError.
// Any other read failure is a permanent error.
func Load(path string, logger *slog.Logger) ([]types.Finding, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("report %s: %w", path, errors.ErrNotFound)
		}
		return nil, errors.NewPermanentf("failed to read report %s: %w", path, err)
	}

	findings, err := Parse(data)
	if err != nil {
		return nil, errors.NewReportError(path, err)
	}

	logger.Debug("vulnerability report parsed",
		"path", path,
		"findings", len(findings))

	return findings, nil
}

// Parse extracts findings from a Dependency-Check JSON document in report
// order.
func Parse(data []byte) ([]types.Finding, error) {
	var report dependencyCheckReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse dependency-check JSON: %w", err)
	}

	var findings []types.Finding
	for _, dep := range report.Dependencies {
		pkg := dep.FileName
		if pkg == "" {
			pkg = UnknownPackage
		}

		for _, vuln := range dep.Vulnerabilities {
			findings = append(findings, types.Finding{
				ID:          orDefault(vuln.Name, UnknownID),
				Package:     pkg,
				Severity:    orDefault(vuln.Severity, UnknownSeverity),
				Score:       score(vuln),
				Description: vuln.Description,
			})
		}
	}

	return findings, nil
}

// score prefers CVSS v3. A present v3 block without a base score counts as 0
// rather than falling back to v2.
func score(v vulnerability) float64 {
	switch {
	case v.CVSSv3 != nil:
		return v.CVSSv3.BaseScore
	case v.CVSSv2 != nil:
		return v.CVSSv2.Score
	default:
		return 0
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
