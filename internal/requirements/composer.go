package requirements

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrUnknownTrade is returned by BuildStrict for trades missing from the catalog.
var ErrUnknownTrade = errors.New("unknown trade")

var lineOrder = []domain.CoverageLine{domain.LineGL, domain.LineUmbrella, domain.LineWC, domain.LineAuto}

// Build composes the requirement set for a project and its trades.
// Unknown trades fall back to the carpentry entry and are listed in
// DefaultedTrades. A nil project is treated as a standard project.
func Build(project *domain.Project, trades []string) domain.RequirementSet {
	set, _ := compose(project, trades, false)
	return set
}

// BuildStrict is Build without the carpentry fallback.
func BuildStrict(project *domain.Project, trades []string) (domain.RequirementSet, error) {
	return compose(project, trades, true)
}

func compose(project *domain.Project, trades []string, strict bool) (domain.RequirementSet, error) {
	set := Universal()

	var (
		winner     TradeRequirement
		winnerName string
		haveWinner bool
	)
	for _, name := range domain.NormalizeTrades(trades) {
		req, ok := Trade(name)
		entry := name
		if !ok {
			if strict {
				return domain.RequirementSet{}, fmt.Errorf("%w: %q", ErrUnknownTrade, name)
			}
			set.DefaultedTrades = append(set.DefaultedTrades, name)
			req, _ = Trade(DefaultTrade)
			entry = DefaultTrade
		}
		// Equal tiers: the later trade governs.
		if !haveWinner || req.Tier >= winner.Tier {
			winner, winnerName, haveWinner = req, entry, true
		}
	}

	if haveWinner {
		set.Tier = winner.Tier
		set.GoverningTrade = winnerName
		set.RequiredInsurance = unionLines(set.RequiredInsurance, winner.RequiredInsurance)
		applyOverrides(&set, winner.Overrides)
	}

	projectType := domain.ProjectStandard
	hazmat := false
	if project != nil {
		projectType = project.Type.Normalize()
		hazmat = project.HazardousMaterials
	}

	if projectType == domain.ProjectCondo {
		condo, _ := Modifier(ModifierCondo)
		applyCondo(&set, condo)
		set.Modifiers = append(set.Modifiers, ModifierCondo)
	}
	if hazmat {
		m, _ := Modifier(ModifierHazmat)
		set.RequiredInsurance = unionLines(set.RequiredInsurance, m.RequiredInsurance)
		applyOverrides(&set, m.Overrides)
		set.Modifiers = append(set.Modifiers, ModifierHazmat)
	}
	if projectType == domain.ProjectHighRise {
		highRise, _ := Modifier(ModifierHighRise)
		scaleLimits(&set, highRise.MinimumLimitIncrease)
		set.Modifiers = append(set.Modifiers, ModifierHighRise)
	}

	return set, nil
}

// applyOverrides replaces each key an override sets. Values are copied so
// the catalog is never aliased by the result.
func applyOverrides(set *domain.RequirementSet, o Overrides) {
	if gl := o.GL; gl != nil {
		if gl.Endorsements != nil {
			set.GL.Endorsements = slices.Clone(gl.Endorsements)
		}
		if gl.WaiverOfSubrogation != nil {
			set.GL.WaiverOfSubrogation = *gl.WaiverOfSubrogation
		}
		if gl.NoCondoLimitation != nil {
			set.GL.NoCondoLimitation = *gl.NoCondoLimitation
		}
		if gl.MinimumLimits != nil {
			set.GL.MinimumLimits = *gl.MinimumLimits
		}
	}
	if u := o.Umbrella; u != nil {
		if u.WaiverOfSubrogation != nil {
			set.Umbrella.WaiverOfSubrogation = *u.WaiverOfSubrogation
		}
		if u.FollowForm != nil {
			set.Umbrella.FollowForm = *u.FollowForm
		}
		if u.MinimumLimits != nil {
			set.Umbrella.MinimumLimits = *u.MinimumLimits
		}
	}
	if wc := o.WC; wc != nil {
		if wc.WaiverOfSubrogation != nil {
			set.WC.WaiverOfSubrogation = *wc.WaiverOfSubrogation
		}
		if wc.WaiverOfExcess != nil {
			set.WC.WaiverOfExcess = *wc.WaiverOfExcess
		}
		if wc.Mandatory != nil {
			set.WC.Mandatory = *wc.Mandatory
		}
		if wc.MinimumLimits != nil {
			set.WC.MinimumLimits = *wc.MinimumLimits
		}
	}
	if a := o.Auto; a != nil {
		if a.HiredNonOwned != nil {
			set.Auto.HiredNonOwned = *a.HiredNonOwned
		}
		if a.MinimumLimits != nil {
			set.Auto.MinimumLimits = *a.MinimumLimits
		}
	}
}

// applyCondo merges the condo GL override. Endorsements are unioned so a
// higher tier's extra codes survive.
func applyCondo(set *domain.RequirementSet, m ProjectModifier) {
	gl := m.Overrides.GL
	if gl == nil {
		return
	}
	for _, e := range gl.Endorsements {
		if !slices.Contains(set.GL.Endorsements, e) {
			set.GL.Endorsements = append(set.GL.Endorsements, e)
		}
	}
	withoutEndorsements := *gl
	withoutEndorsements.Endorsements = nil
	applyOverrides(set, Overrides{GL: &withoutEndorsements})
}

func scaleLimits(set *domain.RequirementSet, factor float64) {
	if factor <= 0 {
		return
	}
	scale := func(v float64) float64 { return math.Ceil(v * factor) }

	gl := &set.GL.MinimumLimits
	gl.EachOccurrence = scale(gl.EachOccurrence)
	gl.GeneralAggregate = scale(gl.GeneralAggregate)
	gl.ProductsComplOps = scale(gl.ProductsComplOps)

	u := &set.Umbrella.MinimumLimits
	u.EachOccurrence = scale(u.EachOccurrence)
	u.Aggregate = scale(u.Aggregate)

	wc := &set.WC.MinimumLimits
	wc.EachAccident = scale(wc.EachAccident)
	wc.DiseasePerEmployee = scale(wc.DiseasePerEmployee)
	wc.DiseasePolicyLimit = scale(wc.DiseasePolicyLimit)

	set.Auto.MinimumLimits.CombinedSingleLimit = scale(set.Auto.MinimumLimits.CombinedSingleLimit)
}

// unionLines returns the union of both lists in canonical line order.
func unionLines(a, b []domain.CoverageLine) []domain.CoverageLine {
	out := make([]domain.CoverageLine, 0, len(lineOrder))
	for _, line := range lineOrder {
		if slices.Contains(a, line) || slices.Contains(b, line) {
			out = append(out, line)
		}
	}
	return out
}
