// Package budget enforces USD spend caps per project.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
)

// ErrBudgetExceeded is returned when a project has used up a policy.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Spender reports real spend. The ledger implements it.
type Spender interface {
	TotalCost(ctx context.Context, project string, since time.Time) (float64, error)
}

// Enforcer checks real spend against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	spender  Spender
	now      func() time.Time
}

// New creates an Enforcer with the given policies.
func New(policies []models.BudgetPolicy, s Spender) *Enforcer {
	return &Enforcer{policies: policies, spender: s, now: time.Now}
}

// SetClock overrides the time source used for period boundaries.
func (e *Enforcer) SetClock(now func() time.Time) {
	e.now = now
}

// Check returns an error wrapping ErrBudgetExceeded if project has reached
// any applicable policy. A "*" policy caps every project individually.
func (e *Enforcer) Check(ctx context.Context, project string) error {
	for _, p := range e.policies {
		if p.Project != "*" && p.Project != project {
			continue
		}
		spent, err := e.spender.TotalCost(ctx, usageKey(p, project), periodStart(p.Period, e.now()))
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if spent >= p.MaxCostUSD {
			return fmt.Errorf("%w: project %q spent $%.4f of $%.2f %s", ErrBudgetExceeded, project, spent, p.MaxCostUSD, p.Period)
		}
	}
	return nil
}

// Status returns spend against every policy that applies to project. An
// empty project reports "*" policies across all projects.
func (e *Enforcer) Status(ctx context.Context, project string) ([]models.BudgetStatus, error) {
	policies := e.applicablePolicies(project)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		spent, err := e.spender.TotalCost(ctx, usageKey(p, project), periodStart(p.Period, e.now()))
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			SpentUSD:  spent,
			Remaining: max(p.MaxCostUSD-spent, 0),
		})
	}
	return statuses, nil
}

func (e *Enforcer) applicablePolicies(project string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Project == "*" || p.Project == project || project == "" {
			result = append(result, p)
		}
	}
	return result
}

func usageKey(p models.BudgetPolicy, project string) string {
	if project == "" {
		return p.Project
	}
	return project
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
