// Package rules provides the CEL-Go based wallet rule evaluator.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// Engine evaluates the fixed wallet rule table. Rules are compiled once in
// NewEngine; the engine is read-only afterwards and safe for concurrent use.
type Engine struct {
	env   *cel.Env
	rules []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Definition domain.RuleDefinition
	Program    cel.Program
}

// intParameters are declared as CEL ints; every other parameter is a double.
var intParameters = map[string]bool{
	"unique_senders_max":   true,
	"unique_receivers_max": true,
}

// Verdict is the outcome of evaluating all rules against one wallet.
type Verdict struct {
	// Fraudulent is the logical OR of every rule.
	Fraudulent bool

	// Results holds one entry per rule, in table order.
	Results []domain.RuleResult

	// Triggered lists the IDs of violated rules, in table order.
	Triggered []string
}

// NewEngine compiles the rule table built from cfg.
func NewEngine(cfg domain.RiskConfig) (*Engine, error) {
	env, err := cel.NewEnv(
		// Wallet metrics
		cel.Variable("window_size", cel.IntType),
		cel.Variable("mean_amount", cel.DoubleType),
		cel.Variable("interval_seconds", cel.DoubleType),
		cel.Variable("unique_senders", cel.IntType),
		cel.Variable("unique_receivers", cel.IntType),
		cel.Variable("total_sent", cel.DoubleType),
		cel.Variable("total_received", cel.DoubleType),
		cel.Variable("ratio_defined", cel.BoolType),
		cel.Variable("ratio_in_out", cel.DoubleType),
		cel.Variable("big_count", cel.IntType),
		cel.Variable("small_count", cel.IntType),
		cel.Variable("big_small_ratio_defined", cel.BoolType),
		cel.Variable("big_small_ratio", cel.DoubleType),
		// Rule parameters
		cel.Variable("mean_amount_max", cel.DoubleType),
		cel.Variable("interval_min_seconds", cel.DoubleType),
		cel.Variable("unique_senders_max", cel.IntType),
		cel.Variable("unique_receivers_max", cel.IntType),
		cel.Variable("ratio_min", cel.DoubleType),
		cel.Variable("ratio_max", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	for _, def := range Table(cfg) {
		compiled, err := e.compileRule(def)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}

	return e, nil
}

// Table returns the canonical, ordered rule table for cfg.
func Table(cfg domain.RiskConfig) []domain.RuleDefinition {
	return []domain.RuleDefinition{
		{
			ID:          domain.RuleMeanAmountHigh,
			Name:        "Mean amount too high",
			Description: fmt.Sprintf("Mean transaction amount must not exceed %g", cfg.MeanAmountMax),
			Expression:  "mean_amount > mean_amount_max",
			Parameters: []domain.RuleParameter{
				{Name: "mean_amount_max", Value: cfg.MeanAmountMax},
			},
		},
		{
			ID:          domain.RuleIntervalTooShort,
			Name:        "Activity too rapid",
			Description: fmt.Sprintf("Interval between transactions must be at least %g seconds (%s)", cfg.IntervalMinSeconds, cfg.IntervalPolicy),
			Expression:  "interval_seconds < interval_min_seconds",
			Parameters: []domain.RuleParameter{
				{Name: "interval_min_seconds", Value: cfg.IntervalMinSeconds},
			},
		},
		{
			ID:          domain.RuleUniqueSendersHigh,
			Name:        "Too many counterparties (in)",
			Description: fmt.Sprintf("Unique senders must not exceed %d", cfg.UniqueSendersMax),
			Expression:  "unique_senders > unique_senders_max",
			Parameters: []domain.RuleParameter{
				{Name: "unique_senders_max", Value: float64(cfg.UniqueSendersMax)},
			},
		},
		{
			ID:          domain.RuleUniqueReceiversHigh,
			Name:        "Too many counterparties (out)",
			Description: fmt.Sprintf("Unique receivers must not exceed %d", cfg.UniqueReceiversMax),
			Expression:  "unique_receivers > unique_receivers_max",
			Parameters: []domain.RuleParameter{
				{Name: "unique_receivers_max", Value: float64(cfg.UniqueReceiversMax)},
			},
		},
		{
			ID:          domain.RuleRatioOutOfRange,
			Name:        "Fan ratio anomalous",
			Description: fmt.Sprintf("Sent/received ratio must be defined and within [%g, %g]", cfg.RatioMin, cfg.RatioMax),
			Expression:  "!ratio_defined || ratio_in_out < ratio_min || ratio_in_out > ratio_max",
			Parameters: []domain.RuleParameter{
				{Name: "ratio_min", Value: cfg.RatioMin},
				{Name: "ratio_max", Value: cfg.RatioMax},
			},
		},
	}
}

// Evaluate runs every rule against m and ORs the outcomes.
// An undefined ratio is never an error; the ratio rule treats it as violated.
func (e *Engine) Evaluate(m domain.WalletMetrics) (Verdict, error) {
	activation := e.activation(m)

	verdict := Verdict{
		Results: make([]domain.RuleResult, 0, len(e.rules)),
	}

	for _, rule := range e.rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			return Verdict{}, fmt.Errorf("rule %s: evaluation error: %w", rule.Definition.ID, err)
		}

		violated, ok := out.(types.Bool)
		if !ok {
			return Verdict{}, fmt.Errorf("rule %s: expected bool, got %s", rule.Definition.ID, out.Type().TypeName())
		}

		result := domain.RuleResult{
			RuleID:     rule.Definition.ID,
			SubRuleRef: domain.RuleOutcomePass,
		}
		if violated {
			result.SubRuleRef = domain.RuleOutcomeFail
			result.Reason = rule.Definition.Description
			verdict.Fraudulent = true
			verdict.Triggered = append(verdict.Triggered, rule.Definition.ID)
		}
		verdict.Results = append(verdict.Results, result)
	}

	return verdict, nil
}

// activation maps metrics and rule parameters onto CEL variables.
func (e *Engine) activation(m domain.WalletMetrics) map[string]any {
	activation := map[string]any{
		"window_size":             int64(m.WindowSize),
		"mean_amount":             m.MeanAmount.InexactFloat64(),
		"interval_seconds":        m.IntervalSeconds,
		"unique_senders":          int64(m.UniqueSenders),
		"unique_receivers":        int64(m.UniqueReceivers),
		"total_sent":              m.TotalSent.InexactFloat64(),
		"total_received":          m.TotalReceived.InexactFloat64(),
		"ratio_defined":           m.RatioInOut.Valid,
		"ratio_in_out":            0.0,
		"big_count":               int64(m.BigCount),
		"small_count":             int64(m.SmallCount),
		"big_small_ratio_defined": m.BigSmallRatio.Valid,
		"big_small_ratio":         0.0,
	}
	if m.RatioInOut.Valid {
		activation["ratio_in_out"] = m.RatioInOut.Decimal.InexactFloat64()
	}
	if m.BigSmallRatio.Valid {
		activation["big_small_ratio"] = m.BigSmallRatio.Decimal.InexactFloat64()
	}

	for _, rule := range e.rules {
		for _, p := range rule.Definition.Parameters {
			if intParameters[p.Name] {
				activation[p.Name] = int64(p.Value)
				continue
			}
			activation[p.Name] = p.Value
		}
	}

	return activation
}

// Definitions returns a copy of the loaded rule table, in evaluation order.
func (e *Engine) Definitions() []domain.RuleDefinition {
	defs := make([]domain.RuleDefinition, len(e.rules))
	for i, rule := range e.rules {
		def := rule.Definition
		def.Parameters = append([]domain.RuleParameter(nil), def.Parameters...)
		defs[i] = def
	}
	return defs
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

func (e *Engine) compileRule(def domain.RuleDefinition) (*CompiledRule, error) {
	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", def.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.ID, err)
	}

	return &CompiledRule{
		Definition: def,
		Program:    program,
	}, nil
}
