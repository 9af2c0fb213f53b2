package domain

// RuleDefinition is one entry of the fixed wallet rule table.
// Expression is a CEL boolean over metric variables and the rule's own
// parameters; true means the rule is violated.
type RuleDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Expression  string          `json:"expression"`
	Parameters  []RuleParameter `json:"parameters"`
}

// RuleParameter is a named numeric threshold of a rule.
type RuleParameter struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RuleResult is the outcome of evaluating one rule against one wallet.
type RuleResult struct {
	RuleID     string `json:"ruleId"`
	SubRuleRef string `json:"subRuleRef"` // ".pass" or ".fail"
	Reason     string `json:"reason"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass = ".pass"
	RuleOutcomeFail = ".fail"
)

// Rule identifiers of the canonical rule table.
const (
	RuleMeanAmountHigh      = "mean-amount-high"
	RuleIntervalTooShort    = "interval-too-short"
	RuleUniqueSendersHigh   = "unique-senders-high"
	RuleUniqueReceiversHigh = "unique-receivers-high"
	RuleRatioOutOfRange     = "ratio-out-of-range"
)
