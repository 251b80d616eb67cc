package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/models"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*ledger.SQLiteLedger, context.Context) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "budget_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	l.SetClock(func() time.Time { return testNow })
	return l, context.Background()
}

func spend(t *testing.T, l *ledger.SQLiteLedger, project string, cost float64, at time.Time) {
	t.Helper()
	_, err := l.Record(context.Background(), models.LedgerEntry{
		Timestamp: at, Project: project, Operation: "code_review",
		Model: "claude-sonnet-4-6", PromptHash: "h", CostUSD: cost,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func newEnforcer(policies []models.BudgetPolicy, l *ledger.SQLiteLedger) *Enforcer {
	e := New(policies, l)
	e.SetClock(func() time.Time { return testNow })
	return e
}

func TestCheckUnderBudget(t *testing.T) {
	l, ctx := setup(t)
	spend(t, l, "alpha", 0.50, testNow)

	e := newEnforcer([]models.BudgetPolicy{{Project: "*", MaxCostUSD: 1, Period: models.BudgetDaily}}, l)
	if err := e.Check(ctx, "alpha"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	l, ctx := setup(t)
	spend(t, l, "alpha", 0.70, testNow)
	spend(t, l, "alpha", 0.40, testNow)

	e := newEnforcer([]models.BudgetPolicy{{Project: "alpha", MaxCostUSD: 1, Period: models.BudgetDaily}}, l)
	err := e.Check(ctx, "alpha")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
	if err := e.Check(ctx, "beta"); err != nil {
		t.Errorf("policy for alpha must not apply to beta: %v", err)
	}
}

func TestWildcardIsPerProject(t *testing.T) {
	l, ctx := setup(t)
	spend(t, l, "alpha", 0.60, testNow)
	spend(t, l, "beta", 0.60, testNow)

	e := newEnforcer([]models.BudgetPolicy{{Project: "*", MaxCostUSD: 1, Period: models.BudgetDaily}}, l)
	if err := e.Check(ctx, "alpha"); err != nil {
		t.Errorf("alpha is under its own cap: %v", err)
	}
}

func TestPeriods(t *testing.T) {
	l, ctx := setup(t)
	spend(t, l, "alpha", 0.90, testNow.AddDate(0, 0, -3))

	daily := newEnforcer([]models.BudgetPolicy{{Project: "alpha", MaxCostUSD: 0.5, Period: models.BudgetDaily}}, l)
	if err := daily.Check(ctx, "alpha"); err != nil {
		t.Errorf("spend from three days ago is outside the daily window: %v", err)
	}

	monthly := newEnforcer([]models.BudgetPolicy{{Project: "alpha", MaxCostUSD: 0.5, Period: models.BudgetMonthly}}, l)
	if err := monthly.Check(ctx, "alpha"); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected monthly cap to trip, got %v", err)
	}
}

func TestCacheHitsAreFree(t *testing.T) {
	l, ctx := setup(t)
	spend(t, l, "alpha", 0.40, testNow)
	for range 5 {
		_, err := l.Record(ctx, models.LedgerEntry{
			Project: "alpha", Operation: "code_review", PromptHash: "h", IsCacheHit: true,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	e := newEnforcer([]models.BudgetPolicy{{Project: "alpha", MaxCostUSD: 0.5, Period: models.BudgetDaily}}, l)
	if err := e.Check(ctx, "alpha"); err != nil {
		t.Errorf("hits must not count toward spend: %v", err)
	}
}

func TestStatus(t *testing.T) {
	l, ctx := setup(t)
	spend(t, l, "alpha", 0.25, testNow)

	e := newEnforcer([]models.BudgetPolicy{
		{Project: "*", MaxCostUSD: 1, Period: models.BudgetDaily},
		{Project: "alpha", MaxCostUSD: 10, Period: models.BudgetMonthly},
		{Project: "beta", MaxCostUSD: 5, Period: models.BudgetMonthly},
	}, l)

	statuses, err := e.Status(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].SpentUSD != 0.25 || statuses[0].Remaining != 0.75 {
		t.Errorf("unexpected daily status: %+v", statuses[0])
	}

	all, err := e.Status(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("empty project lists every policy, got %d", len(all))
	}
}
