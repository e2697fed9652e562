package tradecoverage

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GenerateBrokerTradeMessage renders the broker-facing summary. Sections
// always appear in the order exclusions, issues, warnings, required trades.
func GenerateBrokerTradeMessage(res domain.TradeCoverageResult, insuredName string) string {
	if insuredName == "" {
		insuredName = "your client"
	}

	var b strings.Builder
	if res.Compliant && len(res.Warnings) == 0 {
		fmt.Fprintf(&b, "The certificate for %s covers all required trades.\n", insuredName)
	} else {
		fmt.Fprintf(&b, "The certificate for %s needs attention before it can be approved.\n", insuredName)
	}

	if len(res.ExcludedTrades) > 0 {
		b.WriteString("\nTrade exclusions:\n")
		for _, e := range res.ExcludedTrades {
			fmt.Fprintf(&b, "- %s: policy states %q\n", displayName(e.Trade), e.Exclusion)
		}
	}

	if issues := nonExclusionIssues(res.Issues); len(issues) > 0 {
		b.WriteString("\nIssues:\n")
		for _, i := range issues {
			fmt.Fprintf(&b, "- %s\n", i.Message)
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w.Message)
		}
	}

	if len(res.RequiredTrades) > 0 {
		b.WriteString("\nRequired trades: ")
		b.WriteString(joinTrades(res.RequiredTrades))
		b.WriteString("\n")
	}

	if !res.Compliant {
		b.WriteString("\nPlease provide a revised certificate or endorsement removing the exclusions above.\n")
	}
	return b.String()
}

// CompileReviewNotes renders one note per finding for the reviewer, in the
// same section order as the broker message.
func CompileReviewNotes(res domain.TradeCoverageResult) []string {
	notes := []string{}
	for _, e := range res.ExcludedTrades {
		notes = append(notes, fmt.Sprintf("EXCLUSION: %s excluded by %s (%q)", e.Trade, e.Source, e.Exclusion))
	}
	for _, i := range nonExclusionIssues(res.Issues) {
		notes = append(notes, fmt.Sprintf("ISSUE: %s", i.Message))
	}
	for _, w := range res.Warnings {
		notes = append(notes, fmt.Sprintf("WARNING [%s]: %s", w.Severity, w.Message))
	}
	if len(res.RequiredTrades) > 0 {
		notes = append(notes, "REQUIRED TRADES: "+joinTrades(res.RequiredTrades))
	}
	return notes
}

func nonExclusionIssues(issues []domain.ComplianceIssue) []domain.ComplianceIssue {
	out := make([]domain.ComplianceIssue, 0, len(issues))
	for _, i := range issues {
		if i.Type != domain.IssueTradeExcluded {
			out = append(out, i)
		}
	}
	return out
}

func joinTrades(trades []string) string {
	names := make([]string, len(trades))
	for i, t := range trades {
		names[i] = displayName(t)
	}
	return strings.Join(names, ", ")
}
