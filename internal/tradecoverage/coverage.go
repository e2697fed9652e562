// Package tradecoverage scans policy wording and classification codes for
// gaps in coverage of the trades a subcontractor performs.
package tradecoverage

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SourceGLPolicy marks exclusions found in the GL notes or exclusions text.
const SourceGLPolicy = "gl_policy"

// ValidatePolicyTradeCoverage checks that the certificate's GL policy covers
// every required trade. Only exclusions are blocking.
func ValidatePolicyTradeCoverage(coi *domain.COI, requiredTrades []string) domain.TradeCoverageResult {
	if coi == nil {
		coi = &domain.COI{}
	}
	trades := domain.NormalizeTrades(requiredTrades)

	res := domain.TradeCoverageResult{
		Issues:          []domain.ComplianceIssue{},
		Warnings:        []domain.ComplianceIssue{},
		ExcludedTrades:  []domain.TradeExclusion{},
		Classifications: []domain.TradeClassification{},
		RequiredTrades:  trades,
	}

	policyText := strings.ToLower(coi.GLPolicyNotes + " " + coi.GLExclusions)
	for _, trade := range trades {
		for _, phrase := range phrasesFor(trade) {
			if !strings.Contains(policyText, phrase) {
				continue
			}
			res.ExcludedTrades = append(res.ExcludedTrades, domain.TradeExclusion{
				Trade:     trade,
				Exclusion: phrase,
				Source:    SourceGLPolicy,
			})
			res.Issues = append(res.Issues, domain.ComplianceIssue{
				Type:     domain.IssueTradeExcluded,
				Field:    "GL Exclusions",
				Severity: domain.SeverityError,
				Trade:    trade,
				Message:  fmt.Sprintf("GL policy excludes %s work (%q)", displayName(trade), phrase),
			})
			break
		}
	}

	if code := string(coi.GLClassificationCode); isNumeric(code) {
		res.Classifications = append(res.Classifications, checkClassification(&res, code, trades))
	}

	basis := strings.ToLower(coi.GLPremiumBasis)
	if len(trades) > 1 && (strings.Contains(basis, "single trade") || strings.Contains(basis, "one trade only")) {
		res.Warnings = append(res.Warnings, domain.ComplianceIssue{
			Type:     domain.IssueSingleTradePremiumBasis,
			Field:    "GL Premium Basis",
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("Premium basis is rated for a single trade but %d trades are required", len(trades)),
		})
	}

	if inherent := strings.ToLower(coi.GLInherentExclusions); inherent != "" {
		for _, trade := range trades {
			if strings.Contains(inherent, trade) || strings.Contains(inherent, displayName(trade)) {
				res.Warnings = append(res.Warnings, domain.ComplianceIssue{
					Type:     domain.IssueInherentExclusion,
					Field:    "GL Inherent Exclusions",
					Severity: domain.SeverityWarning,
					Trade:    trade,
					Message:  fmt.Sprintf("Inherent exclusions mention %s", displayName(trade)),
				})
			}
		}
	}

	if risky := firstHighRisk(trades); risky != "" {
		if !coi.AutoHiredCoverage {
			res.Warnings = append(res.Warnings, domain.ComplianceIssue{
				Type:     domain.IssueMissingHiredAuto,
				Field:    "Auto Hired Coverage",
				Severity: domain.SeverityHigh,
				Trade:    risky,
				Message:  fmt.Sprintf("Hired auto coverage is expected for %s", displayName(risky)),
			})
		}
		if !coi.AutoNonOwnedCoverage {
			res.Warnings = append(res.Warnings, domain.ComplianceIssue{
				Type:     domain.IssueMissingNonOwnedAuto,
				Field:    "Auto Non-Owned Coverage",
				Severity: domain.SeverityMedium,
				Trade:    risky,
				Message:  fmt.Sprintf("Non-owned auto coverage is expected for %s", displayName(risky)),
			})
		}
	}

	res.Compliant = len(res.Issues) == 0
	res.ReviewNotes = CompileReviewNotes(res)
	return res
}

func checkClassification(res *domain.TradeCoverageResult, code string, trades []string) domain.TradeClassification {
	covered, ok := classificationTrades[code]
	if !ok {
		res.Warnings = append(res.Warnings, domain.ComplianceIssue{
			Type:     domain.IssueClassificationUnknown,
			Field:    "GL Classification",
			Severity: domain.SeverityLow,
			Message:  fmt.Sprintf("Classification code %s is not in the trade map; verify coverage manually", code),
		})
		return domain.TradeClassification{Code: code, CoveredTrades: []string{}}
	}

	for _, trade := range trades {
		if !classCovers(covered, trade) {
			res.Warnings = append(res.Warnings, domain.ComplianceIssue{
				Type:     domain.IssueTradeNotClassified,
				Field:    "GL Classification",
				Severity: domain.SeverityMedium,
				Trade:    trade,
				Message:  fmt.Sprintf("Classification %s does not cover %s", code, displayName(trade)),
			})
		}
	}
	return domain.TradeClassification{Code: code, CoveredTrades: slices.Clone(covered), Recognized: true}
}

// classCovers matches by case-insensitive substring in either direction.
func classCovers(covered []string, trade string) bool {
	t := strings.ToLower(trade)
	for _, c := range covered {
		c = strings.ToLower(c)
		if strings.Contains(c, t) || strings.Contains(t, c) {
			return true
		}
	}
	return false
}

func firstHighRisk(trades []string) string {
	for _, t := range trades {
		if slices.Contains(highRiskTrades, t) {
			return t
		}
	}
	return ""
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
