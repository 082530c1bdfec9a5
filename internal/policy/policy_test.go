package policy

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/daimoniac/depgate/internal/exceptions"
	"github.com/daimoniac/depgate/internal/types"
)

var axiosFinding = types.Finding{
	ID:          "CVE-2021-3749",
	Package:     "axios",
	Severity:    "HIGH",
	Score:       7.5,
	Description: "axios is vulnerable to Inefficient Regular Expression Complexity",
}

func newTestEngine(t *testing.T, cfg PolicyConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(slog.Default(), cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEngine_Evaluate_ActiveExceptionPasses(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})
	rules := exceptions.NewRuleSet("test", types.ExceptionRule{
		ID:            "CVE-2021-3749",
		Package:       "axios",
		Justification: "ReDoS only reachable from trusted admin input",
		ApprovedBy:    "security-team",
	})

	decision, err := engine.Evaluate(context.Background(), []types.Finding{axiosFinding}, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decision.Passed {
		t.Errorf("expected policy to pass, got failed: %s", decision.Reason)
	}
	if decision.Counts.Critical != 0 || decision.Counts.High != 0 {
		t.Errorf("expected zero tier counts, got %+v", decision.Counts)
	}
	if len(decision.Excepted) != 1 {
		t.Fatalf("expected 1 excepted finding, got %d", len(decision.Excepted))
	}
	if decision.Excepted[0].Rule.ApprovedBy != "security-team" {
		t.Errorf("expected audit info from matching rule, got %+v", decision.Excepted[0].Rule)
	}
	if len(decision.Actionable) != 0 {
		t.Errorf("expected no actionable findings, got %d", len(decision.Actionable))
	}
}

func TestEngine_Evaluate_EmptyRuleSetFails(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})

	decision, err := engine.Evaluate(context.Background(), []types.Finding{axiosFinding}, exceptions.Empty("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Passed {
		t.Error("expected policy to fail, got passed")
	}
	if decision.Counts.High != 1 {
		t.Errorf("expected high count 1, got %d", decision.Counts.High)
	}
	if len(decision.Actionable) != 1 {
		t.Errorf("expected 1 actionable finding, got %d", len(decision.Actionable))
	}
}

func TestEngine_Evaluate_ReviewRequiredIsActionable(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})

	loader := exceptions.NewLoader(slog.Default())
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	rules, err := loader.Parse("test.yml", []byte(`
exceptions:
  - id: CVE-2021-3749
    package: axios
    justification: accepted last year
    approved_by: security-team
    review_date: 2026-01-01
`), now)
	if err != nil {
		t.Fatal(err)
	}

	decision, err := engine.Evaluate(context.Background(), []types.Finding{axiosFinding}, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Passed {
		t.Error("expected policy to fail when the matching exception needs review")
	}
	if decision.Counts.High != 1 {
		t.Errorf("expected high count 1, got %d", decision.Counts.High)
	}
	if len(decision.ReviewBlocked) != 1 {
		t.Errorf("expected 1 review-blocked finding, got %d", len(decision.ReviewBlocked))
	}
}

func TestEngine_Evaluate_NoFindingsPasses(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})

	decision, err := engine.Evaluate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Passed {
		t.Errorf("expected pass with no findings, got %s", decision.Reason)
	}
	if decision.Counts != (TierCounts{}) {
		t.Errorf("expected zero counts, got %+v", decision.Counts)
	}
}

func TestEngine_Evaluate_LowerSeverityOnlyPasses(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})
	findings := []types.Finding{
		{ID: "CVE-2024-0001", Package: "pkg1", Severity: "MEDIUM", Score: 5.3},
		{ID: "CVE-2024-0002", Package: "pkg2", Severity: "LOW", Score: 2.1},
	}

	decision, err := engine.Evaluate(context.Background(), findings, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Passed {
		t.Errorf("expected pass with only lower-severity findings, got %s", decision.Reason)
	}
	if decision.Counts.Other != 2 || len(decision.Actionable) != 2 {
		t.Errorf("expected 2 actionable other-tier findings, got %+v", decision.Counts)
	}
}

func TestEngine_Evaluate_TierCounting(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})
	findings := []types.Finding{
		{ID: "CVE-1", Package: "a", Severity: "MEDIUM", Score: 9.8},
		{ID: "CVE-2", Package: "b", Severity: "CRITICAL", Score: 0},
		{ID: "CVE-3", Package: "c", Severity: "HIGH", Score: 5},
		{ID: "CVE-4", Package: "d", Severity: "MEDIUM", Score: 7.0},
		{ID: "CVE-5", Package: "e", Severity: "LOW", Score: 1},
	}

	decision, err := engine.Evaluate(context.Background(), findings, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := TierCounts{Critical: 2, High: 2, Other: 1}
	if decision.Counts != want {
		t.Errorf("Counts = %+v, want %+v", decision.Counts, want)
	}
	if decision.Passed {
		t.Error("expected fail")
	}
	for i, f := range decision.Actionable {
		if f.ID != findings[i].ID {
			t.Errorf("actionable[%d] = %s, want report order %s", i, f.ID, findings[i].ID)
		}
	}
}

func TestEngine_Evaluate_PackageMustMatch(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})
	rules := exceptions.NewRuleSet("test", types.ExceptionRule{ID: "CVE-2021-3749", Package: "axios-retry"})

	decision, err := engine.Evaluate(context.Background(), []types.Finding{axiosFinding}, rules)
	if err != nil {
		t.Fatal(err)
	}
	if len(decision.Excepted) != 0 || decision.Passed {
		t.Error("rule for a different package must not except the finding")
	}
}

func TestEngine_CustomExpression(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{
		Expression:     `criticalCount == 0`,
		FailureMessage: "critical vulnerabilities found",
	})

	decision, err := engine.Evaluate(context.Background(), []types.Finding{axiosFinding}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Passed {
		t.Error("critical-only policy should pass with a single high finding")
	}

	decision, err = engine.Evaluate(context.Background(), []types.Finding{{ID: "CVE-9", Package: "x", Score: 9.1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Passed {
		t.Error("critical-only policy should fail with a critical finding")
	}
	if !strings.HasPrefix(decision.Reason, "critical vulnerabilities found") {
		t.Errorf("Reason = %q, want configured failure message", decision.Reason)
	}
}

func TestEngine_ExpressionOverFindings(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{
		Expression: `!findings.exists(f, !f.excepted && f["package"] == "axios")`,
	})

	decision, err := engine.Evaluate(context.Background(), []types.Finding{axiosFinding}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Passed {
		t.Error("expected fail for actionable axios finding")
	}
}

func TestNewEngine_InvalidExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", "criticalCount =="},
		{"unknown variable", "mediumCount == 0"},
		{"non-boolean", "criticalCount + highCount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(nil, PolicyConfig{Expression: tt.expr}); err == nil {
				t.Errorf("expected error for expression %q", tt.expr)
			}
		})
	}
}

func TestEngine_Evaluate_CancelledContext(t *testing.T) {
	engine := newTestEngine(t, PolicyConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Evaluate(ctx, []types.Finding{axiosFinding}, nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	rules := []types.ExceptionRule{
		{ID: "CVE-2021-3749", Package: "axios", Justification: "needs review", NeedsReview: true},
		{ID: "CVE-2021-3749", Package: "axios", Justification: "first active"},
		{ID: "CVE-2021-3749", Package: "axios", Justification: "second active"},
	}

	c := Classify(axiosFinding, rules)
	if !c.Excepted {
		t.Fatal("expected finding to be excepted")
	}
	if c.Rule.Justification != "first active" {
		t.Errorf("Rule = %q, want first active rule in document order", c.Rule.Justification)
	}
	if c.ReviewBlocked == nil || c.ReviewBlocked.Justification != "needs review" {
		t.Errorf("expected review-blocked rule to be reported, got %+v", c.ReviewBlocked)
	}
}

func TestClassify_NoRules(t *testing.T) {
	c := Classify(axiosFinding, nil)
	if c.Excepted || c.Rule != nil || c.ReviewBlocked != nil {
		t.Errorf("expected actionable finding with no rule, got %+v", c)
	}
}
