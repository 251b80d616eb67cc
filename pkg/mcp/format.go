package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/router"
)

func formatResponse(r models.Response) string {
	var b strings.Builder
	b.WriteString(r.Text)
	if r.Source == models.SourceExecuted {
		fmt.Fprintf(&b, "\n\n[%s via %s in:%d out:%d $%.4f]", r.Model, r.Backend, r.TokensIn, r.TokensOut, r.CostUSD)
	} else {
		fmt.Fprintf(&b, "\n\n[%s cache hit, %s, $0]", r.Source, r.Model)
	}
	return b.String()
}

func formatSpend(sum models.SpendSummary, byModel []models.ModelSpend) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Real calls:  %s\n", humanize.Comma(sum.Calls))
	fmt.Fprintf(&b, "Tokens:      %s in / %s out\n", humanize.Comma(sum.TokensIn), humanize.Comma(sum.TokensOut))
	fmt.Fprintf(&b, "Cost:        $%.4f\n", sum.CostUSD)
	fmt.Fprintf(&b, "Cache hits:  %s (saved $%.4f)\n", humanize.Comma(sum.CacheHits), sum.SavedUSD)
	if len(byModel) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-32s %8s %12s %12s %10s\n", "Model", "Calls", "In", "Out", "Cost")
	b.WriteString(strings.Repeat("-", 78) + "\n")
	for _, m := range byModel {
		fmt.Fprintf(&b, "%-32s %8d %12s %12s %10.4f\n",
			m.Model, m.Calls, humanize.Comma(m.TokensIn), humanize.Comma(m.TokensOut), m.CostUSD)
	}
	return b.String()
}

func formatCacheStats(st models.CacheStats, sem *models.SemanticStats, freshTTL int) string {
	var b strings.Builder
	b.WriteString("Exact cache\n")
	fmt.Fprintf(&b, "  Stored responses: %d (%d within %dh)\n", st.StoredResponses, st.FreshResponses, freshTTL)
	fmt.Fprintf(&b, "  Hits:             %d of %d requests\n", st.Hits, st.Hits+st.RealCalls)
	fmt.Fprintf(&b, "  Hit rate:         %.1f%%\n", st.HitRate*100)
	fmt.Fprintf(&b, "  Saved:            %s in / %s out tokens, $%.4f\n",
		humanize.Comma(st.SavedTokensIn), humanize.Comma(st.SavedTokensOut), st.SavedUSD)
	if sem != nil {
		b.WriteString("Semantic cache\n")
		fmt.Fprintf(&b, "  Entries: %d\n", sem.Entries)
		fmt.Fprintf(&b, "  Hits:    %d\n", sem.Hits)
	}
	return b.String()
}

func formatCachedEntries(rows []models.CachedEntry) string {
	if len(rows) == 0 {
		return "No cached responses."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-19s %-16s %-16s %-28s %-12s %9s %9s\n",
		"Time", "Project", "Operation", "Model", "Hash", "Size", "Cost")
	b.WriteString(strings.Repeat("-", 115) + "\n")
	for _, r := range rows {
		hash := r.PromptHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(&b, "%-19s %-16s %-16s %-28s %-12s %9s %9.4f\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Project, r.Operation, r.Model, hash,
			humanize.Bytes(uint64(r.ResponseSize)), r.CostUSD)
	}
	return b.String()
}

func class(local bool) string {
	if local {
		return "local"
	}
	return "cloud"
}

func formatUsage(b *strings.Builder, u models.UsageSplit) {
	fmt.Fprintf(b, "\nLocal: %d calls, %s tokens, $0\n", u.LocalCalls, humanize.Comma(u.LocalTokens))
	fmt.Fprintf(b, "Cloud: %d calls, $%.4f\n", u.CloudCalls, u.CloudCost)
}

func formatRoute(r router.RouteInfo, u models.UsageSplit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Operation:   %s\n", r.Operation)
	fmt.Fprintf(&b, "Destination: %s (%s)\n", r.Destination, class(r.Local))
	fmt.Fprintf(&b, "Model:       %s\n", r.Model)
	if r.TTLHours > 0 {
		fmt.Fprintf(&b, "Cache TTL:   %dh\n", r.TTLHours)
	} else {
		b.WriteString("Cache TTL:   disabled\n")
	}
	formatUsage(&b, u)
	return b.String()
}

func formatRouteTable(rows []router.RouteInfo, u models.UsageSplit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-14s %-6s %-28s %5s\n", "Operation", "Destination", "Class", "Model", "TTL")
	b.WriteString(strings.Repeat("-", 75) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-18s %-14s %-6s %-28s %4dh\n", r.Operation, r.Destination, class(r.Local), r.Model, r.TTLHours)
	}
	formatUsage(&b, u)
	return b.String()
}

func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s %10s %10s %10s %6s\n", "Project", "Period", "Max $", "Spent $", "Left $", "Used%")
	b.WriteString(strings.Repeat("-", 69) + "\n")
	for _, s := range statuses {
		pct := float64(0)
		if s.Policy.MaxCostUSD > 0 {
			pct = s.SpentUSD / s.Policy.MaxCostUSD * 100
		}
		fmt.Fprintf(&b, "%-20s %-8s %10.2f %10.4f %10.4f %5.1f%%\n",
			s.Policy.Project, s.Policy.Period, s.Policy.MaxCostUSD, s.SpentUSD, s.Remaining, pct)
	}
	return b.String()
}
