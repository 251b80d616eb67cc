package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps real spend in USD for a project per period.
type BudgetPolicy struct {
	Project    string       `json:"project" yaml:"project"`
	MaxCostUSD float64      `json:"max_cost_usd" yaml:"max_cost_usd"`
	Period     BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current spend against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	SpentUSD  float64      `json:"spent_usd"`
	Remaining float64      `json:"remaining_usd"`
}
