package tradecoverage

import (
	"fmt"
	"slices"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ValidateTradeRestrictions applies trade-specific minimums that sit on top
// of the tiered requirements. A missing value counts as below the minimum.
func ValidateTradeRestrictions(coi *domain.COI, trade string) []domain.TradeRestriction {
	if coi == nil {
		coi = &domain.COI{}
	}
	t := strings.ToLower(strings.TrimSpace(trade))
	out := []domain.TradeRestriction{}

	below := func(sev domain.Severity, field string, required float64, provided *float64) {
		if provided != nil && *provided >= required {
			return
		}
		stated := "not provided"
		if provided != nil {
			stated = domain.USD(*provided)
		}
		out = append(out, domain.TradeRestriction{
			Trade:    t,
			Severity: sev,
			Field:    field,
			Required: required,
			Provided: provided,
			Message:  fmt.Sprintf("%s requires %s of at least %s (%s)", displayName(t), field, domain.USD(required), stated),
		})
	}

	if strings.Contains(t, "roof") {
		below(domain.SeverityError, "GL Each Occurrence", roofingGLOccurrence, coi.GLEachOccurrence)
		below(domain.SeverityWarning, "GL General Aggregate", roofingGLAggregate, coi.GLGeneralAggregate)
		below(domain.SeverityWarning, "Umbrella", roofingUmbrella, umbrellaLimit(coi))
	}

	if strings.Contains(t, "excavat") {
		below(domain.SeverityError, "GL Each Occurrence", excavationGLOccurrence, coi.GLEachOccurrence)
		below(domain.SeverityWarning, "Umbrella", excavationUmbrella, umbrellaLimit(coi))
		text := strings.ToLower(coi.GLExclusions + " " + coi.GLPolicyNotes)
		for _, p := range xcuPhrases {
			if strings.Contains(text, p) {
				out = append(out, domain.TradeRestriction{
					Trade:    t,
					Severity: domain.SeverityError,
					Field:    "GL Exclusions",
					Message:  "Excavation requires explosion, collapse and underground (XCU) coverage; policy excludes it",
				})
				break
			}
		}
	}

	if strings.Contains(t, "crane") {
		below(domain.SeverityError, "Umbrella", craneUmbrella, umbrellaLimit(coi))
	}

	if strings.Contains(t, "scaffold") {
		below(domain.SeverityError, "GL Each Occurrence", scaffoldGLOccurrence, coi.GLEachOccurrence)
		below(domain.SeverityWarning, "WC Each Accident", scaffoldWCEachAccident, coi.WCEachAccident)
	}

	return out
}

// umbrellaLimit prefers the single stated umbrella limit.
func umbrellaLimit(coi *domain.COI) *float64 {
	if coi.UmbrellaLimit != nil {
		return coi.UmbrellaLimit
	}
	return coi.UmbrellaEachOccurrence
}

// CompareTradesCoverage diffs two trade lists and re-checks restrictions for
// trades being added.
func CompareTradesCoverage(oldTrades, newTrades []string, coi *domain.COI) domain.TradeChangeResult {
	before := domain.NormalizeTrades(oldTrades)
	after := domain.NormalizeTrades(newTrades)

	res := domain.TradeChangeResult{
		Added:        []string{},
		Removed:      []string{},
		Unchanged:    []string{},
		Restrictions: []domain.TradeRestriction{},
	}
	for _, t := range after {
		if slices.Contains(before, t) {
			res.Unchanged = append(res.Unchanged, t)
		} else {
			res.Added = append(res.Added, t)
		}
	}
	for _, t := range before {
		if !slices.Contains(after, t) {
			res.Removed = append(res.Removed, t)
		}
	}

	for _, t := range res.Added {
		res.Restrictions = append(res.Restrictions, ValidateTradeRestrictions(coi, t)...)
	}
	res.ReviewRequired = len(res.Restrictions) > 0
	return res
}
