package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/daimoniac/depgate/internal/exceptions"
	"github.com/daimoniac/depgate/internal/types"
	"github.com/google/cel-go/cel"
)

// DefaultExpression fails the gate on any actionable critical or high finding
const DefaultExpression = `criticalCount == 0 && highCount == 0`

// PolicyEngine defines the interface for policy evaluation
type PolicyEngine interface {
	// Evaluate classifies every finding against the rule set and decides pass/fail
	Evaluate(ctx context.Context, findings []types.Finding, rules *exceptions.RuleSet) (*Decision, error)
}

// PolicyConfig defines a CEL-based policy configuration
type PolicyConfig struct {
	// Expression is the CEL expression that must evaluate to true for the gate to pass
	// Available variables:
	//   - findings: list of findings with fields:
	//       id, package, severity, score, tier, excepted, justification, approvedBy
	//     ("package" is a CEL reserved word, select it as f["package"])
	//   - criticalCount: number of actionable critical findings
	//   - highCount: number of actionable high findings
	//   - otherCount: number of actionable findings below high
	//   - exceptedCount: number of excepted findings
	Expression string `yaml:"expression" json:"expression"`

	// FailureMessage is the message to return when the policy fails (optional)
	FailureMessage string `yaml:"failureMessage" json:"failureMessage"`
}

// TierCounts holds actionable finding counts per severity tier
type TierCounts struct {
	Critical int
	High     int
	Other    int
}

// Decision represents the result of policy evaluation
type Decision struct {
	Passed bool
	Reason string
	Counts TierCounts

	// Actionable findings in report order
	Actionable []types.Finding
	// Excepted findings with the rule that covered them
	Excepted []Classification
	// ReviewBlocked findings were covered by a rule that needs review and are
	// therefore also in Actionable
	ReviewBlocked []Classification
}

// Classification is the outcome for a single finding
type Classification struct {
	Finding  types.Finding
	Excepted bool
	// Rule is the matching rule when Excepted is true
	Rule *types.ExceptionRule
	// ReviewBlocked is the first rule that named this finding but was skipped
	// because its review date had passed
	ReviewBlocked *types.ExceptionRule
}

// Classify checks a finding against rules in order. The first rule with the
// same vulnerability ID and package that does not need review wins.
func Classify(finding types.Finding, rules []types.ExceptionRule) Classification {
	c := Classification{Finding: finding}
	for i := range rules {
		rule := rules[i]
		if !rule.Covers(finding) {
			continue
		}
		if rule.NeedsReview {
			if c.ReviewBlocked == nil {
				c.ReviewBlocked = &rule
			}
			continue
		}
		c.Excepted = true
		c.Rule = &rule
		return c
	}
	return c
}

// Engine implements the PolicyEngine interface using CEL expressions
type Engine struct {
	logger     *slog.Logger
	config     PolicyConfig
	celEnv     *cel.Env
	celProgram cel.Program
}

// NewEngine creates a new policy engine with a CEL-based policy
func NewEngine(logger *slog.Logger, config PolicyConfig) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if config.Expression == "" {
		config.Expression = DefaultExpression
		if config.FailureMessage == "" {
			config.FailureMessage = "actionable critical or high vulnerabilities found"
		}
	}

	env, err := cel.NewEnv(
		cel.Variable("findings", cel.ListType(cel.MapType(cel.StringType, cel.AnyType))),
		cel.Variable("criticalCount", cel.IntType),
		cel.Variable("highCount", cel.IntType),
		cel.Variable("otherCount", cel.IntType),
		cel.Variable("exceptedCount", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(config.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression must return a boolean, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Engine{
		logger:     logger,
		config:     config,
		celEnv:     env,
		celProgram: program,
	}, nil
}

// Expression returns the compiled policy expression
func (e *Engine) Expression() string {
	return e.config.Expression
}

// Evaluate classifies findings once each and decides pass/fail
func (e *Engine) Evaluate(ctx context.Context, findings []types.Finding, rules *exceptions.RuleSet) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active := rules.Rules()
	decision := &Decision{
		Actionable:    make([]types.Finding, 0),
		Excepted:      make([]Classification, 0),
		ReviewBlocked: make([]Classification, 0),
	}
	celFindings := make([]map[string]interface{}, 0, len(findings))

	for _, finding := range findings {
		c := Classify(finding, active)
		tier := finding.Tier()

		entry := map[string]interface{}{
			"id":       finding.ID,
			"package":  finding.Package,
			"severity": finding.Severity,
			"score":    finding.Score,
			"tier":     tier.String(),
			"excepted": c.Excepted,
		}

		if c.Excepted {
			entry["justification"] = c.Rule.Justification
			entry["approvedBy"] = c.Rule.ApprovedBy
			decision.Excepted = append(decision.Excepted, c)

			e.logger.Info("vulnerability excepted",
				"cve_id", finding.ID,
				"package", finding.Package,
				"severity", finding.Severity,
				"justification", c.Rule.Justification,
				"approved_by", c.Rule.ApprovedBy)
		} else {
			decision.Actionable = append(decision.Actionable, finding)
			switch tier {
			case types.TierCritical:
				decision.Counts.Critical++
			case types.TierHigh:
				decision.Counts.High++
			default:
				decision.Counts.Other++
			}

			if c.ReviewBlocked != nil {
				decision.ReviewBlocked = append(decision.ReviewBlocked, c)
				e.logger.Warn("exception requires review, finding treated as actionable",
					"cve_id", finding.ID,
					"package", finding.Package,
					"approved_by", c.ReviewBlocked.ApprovedBy)
			}
		}

		celFindings = append(celFindings, entry)
	}

	celInput := map[string]interface{}{
		"findings":      celFindings,
		"criticalCount": decision.Counts.Critical,
		"highCount":     decision.Counts.High,
		"otherCount":    decision.Counts.Other,
		"exceptedCount": len(decision.Excepted),
	}

	out, _, err := e.celProgram.Eval(celInput)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("policy expression did not return a boolean: %v", out.Value())
	}
	decision.Passed = passed

	counts := fmt.Sprintf("critical=%d, high=%d, other=%d (excepted=%d)",
		decision.Counts.Critical, decision.Counts.High, decision.Counts.Other, len(decision.Excepted))

	if passed {
		decision.Reason = "policy passed: " + counts
		e.logger.Info("policy evaluation passed",
			"critical", decision.Counts.Critical,
			"high", decision.Counts.High,
			"other", decision.Counts.Other,
			"excepted", len(decision.Excepted))
	} else {
		if e.config.FailureMessage != "" {
			decision.Reason = e.config.FailureMessage + ": " + counts
		} else {
			decision.Reason = "policy failed: " + counts
		}
		e.logger.Warn("policy evaluation failed",
			"critical", decision.Counts.Critical,
			"high", decision.Counts.High,
			"other", decision.Counts.Other,
			"excepted", len(decision.Excepted),
			"expression", e.config.Expression)
	}

	return decision, nil
}
