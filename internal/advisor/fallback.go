package advisor

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fallback actions served when the remote advisor is unavailable.
const (
	ActionFreeze  = "Freeze account for 24 hours and review manually."
	ActionMonitor = "Monitor account activity and notify user."
	ActionAlert   = "Send alert to user and flag for review."
	ActionNone    = "No immediate action required. Monitor for unusual activity."
)

// DefaultRules is the built-in risk-score ladder.
func DefaultRules() []domain.AdvisorRule {
	return []domain.AdvisorRule{
		{Expression: "risk_score >= 80", Action: ActionFreeze},
		{Expression: "risk_score >= 60", Action: ActionMonitor},
		{Expression: "risk_score >= 40", Action: ActionAlert},
		{Expression: "true", Action: ActionNone},
	}
}

type compiledRule struct {
	rule    domain.AdvisorRule
	program cel.Program
}

// FallbackTable maps a request to an action by evaluating CEL predicates
// in order; the first one that holds wins.
type FallbackTable struct {
	rules []compiledRule
}

// NewFallbackTable compiles rules against the variables risk_score (int),
// amount (double), hour (int) and city (string). An empty rule list
// selects DefaultRules.
func NewFallbackTable(rules []domain.AdvisorRule) (*FallbackTable, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("city", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	t := &FallbackTable{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Action == "" {
			return nil, fmt.Errorf("fallback rule %d: action is required", i)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile fallback rule %d: %w", i, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("fallback rule %d: expression must return bool, got %s", i, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for fallback rule %d: %w", i, err)
		}
		t.rules = append(t.rules, compiledRule{rule: r, program: program})
	}
	return t, nil
}

// Action returns the first matching rule's action, or ActionNone when no
// rule matches. Rules that fail to evaluate are skipped.
func (t *FallbackTable) Action(req Request) string {
	activation := map[string]any{
		"risk_score": int64(req.RiskScore),
		"amount":     req.Amount,
		"hour":       int64(req.hour()),
		"city":       req.City,
	}
	for _, r := range t.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			return r.rule.Action
		}
	}
	return ActionNone
}

// Rules returns the configured rules in evaluation order.
func (t *FallbackTable) Rules() []domain.AdvisorRule {
	out := make([]domain.AdvisorRule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.rule
	}
	return out
}
