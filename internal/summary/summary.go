package summary

import (
	"fmt"
	"io"
	"time"

	"github.com/daimoniac/depgate/internal/gate"
	"github.com/daimoniac/depgate/internal/observability"
	"github.com/daimoniac/depgate/internal/statestore"
)

const (
	// DefaultMaxListed caps the actionable findings printed
	DefaultMaxListed = 10
	// DescriptionLimit is the rune limit for finding descriptions
	DescriptionLimit = 150
	// JustificationLimit is the rune limit for exception justifications
	JustificationLimit = 100
)

const rule = "=================================================="

// Options controls what the summary prints
type Options struct {
	MaxListed      int
	ExceptionsPath string
	HTMLReportPath string
}

// Writer renders gate results for humans
type Writer struct {
	w    io.Writer
	opts Options
	err  error
}

// NewWriter creates a summary writer. A negative MaxListed is treated as the default.
func NewWriter(w io.Writer, opts Options) *Writer {
	if opts.MaxListed < 0 {
		opts.MaxListed = DefaultMaxListed
	}
	return &Writer{w: w, opts: opts}
}

func (s *Writer) printf(format string, args ...interface{}) {
	if s.err != nil {
		return
	}
	_, s.err = fmt.Fprintf(s.w, format, args...)
}

func (s *Writer) line(label string, value interface{}) {
	s.printf("%s %s\n", LabelStyle.Render(fmt.Sprintf("%-22s", label)), ValueStyle.Render(fmt.Sprint(value)))
}

// WriteResult prints counts, the capped actionable list, excepted findings,
// rule set warnings and the verdict.
func (s *Writer) WriteResult(result *gate.Result) error {
	decision := result.Decision

	s.printf("\n%s\n%s\n", TitleStyle.Render("DEPENDENCY ANALYSIS SUMMARY"), rule)
	s.line("Critical (actionable):", decision.Counts.Critical)
	s.line("High (actionable):", decision.Counts.High)
	s.line("Other (actionable):", decision.Counts.Other)
	s.line("Total actionable:", len(decision.Actionable))
	s.line("Excepted:", len(decision.Excepted))
	if result.HasHistory {
		s.line("New since last run:", len(result.NewActionable))
	}

	if result.ReportProblem != nil {
		s.printf("\n%s %s\n", WarnStyle.Render("! report problem:"), result.ReportProblem)
	}

	if len(decision.Actionable) > 0 {
		s.printf("\n%s\n", SectionStyle.Render("ACTIONABLE VULNERABILITIES"))
		limit := s.opts.MaxListed
		if limit > len(decision.Actionable) {
			limit = len(decision.Actionable)
		}
		for _, f := range decision.Actionable[:limit] {
			s.printf("\n- %s (CVSS: %s)\n", IDStyle.Render(f.ID), formatScore(f.Score))
			s.printf("  Package: %s\n", f.Package)
			s.printf("  Severity: %s\n", SeverityStyle(f.Severity).Render(f.Severity))
			s.printf("  Description: %s\n", Truncate(f.Description, DescriptionLimit))
		}
		if rest := len(decision.Actionable) - limit; rest > 0 {
			s.printf("\n... and %d more\n", rest)
		}
	}

	if len(decision.Excepted) > 0 {
		s.printf("\n%s\n", SectionStyle.Render("EXCEPTED VULNERABILITIES"))
		for _, c := range decision.Excepted {
			s.printf("- %s on %s: %s (approved by %s)\n",
				IDStyle.Render(c.Finding.ID),
				c.Finding.Package,
				Truncate(c.Rule.Justification, JustificationLimit),
				orUnknown(c.Rule.ApprovedBy))
		}
	}

	if review := decision.ReviewBlocked; len(review) > 0 {
		s.printf("\n%s\n", WarnStyle.Render("EXCEPTIONS REQUIRING REVIEW"))
		for _, c := range review {
			s.printf("- %s on %s, review was due %s (approved by %s)\n",
				c.ReviewBlocked.ID,
				c.ReviewBlocked.Package,
				formatDate(c.ReviewBlocked.ReviewDate),
				orUnknown(c.ReviewBlocked.ApprovedBy))
		}
	}

	if rules := result.Rules; rules != nil {
		if expiring := rules.ExpiringSoon(); len(expiring) > 0 {
			s.printf("\n%s\n", WarnStyle.Render("EXCEPTIONS EXPIRING SOON"))
			for _, e := range expiring {
				s.printf("- %s on %s expires %s (%d days)\n",
					e.Rule.ID, e.Rule.Package, e.ExpiresAt.UTC().Format("2006-01-02"), e.DaysUntil)
			}
		}

		if expired := rules.Expired(); len(expired) > 0 {
			s.printf("\n%s\n", MutedStyle.Render("Expired exceptions ignored:"))
			for _, r := range expired {
				s.printf("- %s on %s expired %s\n", r.ID, r.Package, formatDate(r.ExpiryDate))
			}
		}
	}

	if s.opts.HTMLReportPath != "" {
		s.printf("\nFull report: %s\n", s.opts.HTMLReportPath)
	}

	if decision.Passed {
		s.printf("\n%s\n", PassStyle.Render("PASSED: dependency analysis passed (exceptions applied)"))
	} else {
		s.printf("\n%s\n", FailStyle.Render("FAILED: "+decision.Reason))
		if s.opts.ExceptionsPath != "" {
			s.printf("  To add exceptions, edit: %s\n", s.opts.ExceptionsPath)
		}
	}

	return s.err
}

// WriteError prints the verdict for a run that stopped on a fatal error
func (s *Writer) WriteError(err error) error {
	s.printf("\n%s\n", FailStyle.Render("FAILED: "+err.Error()))
	if s.opts.ExceptionsPath != "" {
		s.printf("  Exceptions file: %s\n", s.opts.ExceptionsPath)
	}
	return s.err
}

// WriteHistory prints recorded gate runs, newest first
func (s *Writer) WriteHistory(runs []*statestore.RunRecord) error {
	s.printf("\n%s\n%s\n", TitleStyle.Render("GATE RUN HISTORY"), rule)
	if len(runs) == 0 {
		s.printf("%s\n", MutedStyle.Render("no runs recorded"))
		return s.err
	}

	for _, run := range runs {
		verdict := PassStyle.Render("PASSED")
		if !run.Passed {
			verdict = FailStyle.Render("FAILED")
		}
		s.printf("#%d %s %s %s critical=%d high=%d other=%d excepted=%d\n",
			run.ID,
			run.RunAt.UTC().Format(time.RFC3339),
			run.Project,
			verdict,
			run.CriticalCount, run.HighCount, run.OtherCount, run.ExceptedCount)
	}
	return s.err
}

// WriteHealth prints the preflight check results
func (s *Writer) WriteHealth(status observability.HealthStatus) error {
	s.printf("\n%s\n%s\n", TitleStyle.Render("PREFLIGHT CHECK"), rule)
	for _, name := range status.Names() {
		component := status.Components[name]
		state := PassStyle.Render(string(component.Status))
		if component.Status != observability.StatusHealthy {
			state = FailStyle.Render(string(component.Status))
		}
		s.printf("%s %s", LabelStyle.Render(fmt.Sprintf("%-22s", name)), state)
		if component.Message != "" {
			s.printf(" %s", component.Message)
		}
		s.printf("\n")
	}
	return s.err
}

// Truncate shortens s to limit runes and appends "..." when it was cut
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.1f", score)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format("2006-01-02")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
