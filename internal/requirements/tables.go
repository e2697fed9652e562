// Package requirements holds the insurance rule tables and composes the
// effective requirement set for a project and its subcontractor trades.
package requirements

import (
	"slices"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTrade is the catalog entry used when a trade name is not recognized.
const DefaultTrade = "carpentry"

// Modifier keys in the project modifier table.
const (
	ModifierCondo    = "condo"
	ModifierHighRise = "highRise"
	ModifierHazmat   = "hazmat"
)

// GLOverride replaces the keys it sets on the GL requirements.
type GLOverride struct {
	Endorsements        []string
	WaiverOfSubrogation *bool
	NoCondoLimitation   *bool
	MinimumLimits       *domain.GLLimits
}

// UmbrellaOverride replaces the keys it sets on the umbrella requirements.
type UmbrellaOverride struct {
	WaiverOfSubrogation *bool
	FollowForm          *bool
	MinimumLimits       *domain.UmbrellaLimits
}

// WCOverride replaces the keys it sets on the workers' comp requirements.
type WCOverride struct {
	WaiverOfSubrogation *bool
	WaiverOfExcess      *bool
	Mandatory           *bool
	MinimumLimits       *domain.WCLimits
}

// AutoOverride replaces the keys it sets on the auto requirements.
type AutoOverride struct {
	HiredNonOwned *bool
	MinimumLimits *domain.AutoLimits
}

// Overrides are partial per-line replacements layered onto the universal set.
type Overrides struct {
	GL       *GLOverride
	Umbrella *UmbrellaOverride
	WC       *WCOverride
	Auto     *AutoOverride
}

// TradeRequirement is one catalog entry, keyed by trade name.
type TradeRequirement struct {
	Tier              int
	RequiredInsurance []domain.CoverageLine
	Overrides         Overrides
}

// ProjectModifier adjusts requirements for a project characteristic.
type ProjectModifier struct {
	Name                 string
	MinimumLimitIncrease float64
	RequiredInsurance    []domain.CoverageLine
	Overrides            Overrides
}

func flag(v bool) *bool { return &v }

var universal = domain.RequirementSet{
	GL: domain.GLRequirements{
		Endorsements:        []string{"CG2010", "CG2037"},
		WaiverOfSubrogation: true,
		AdditionalInsured: domain.AdditionalInsuredRequirement{
			Required:    true,
			MustNameAll: true,
		},
		NoProjectAreaExclusion: true,
		MinimumLimits: domain.GLLimits{
			EachOccurrence:   1_000_000,
			GeneralAggregate: 2_000_000,
			ProductsComplOps: 1_000_000,
		},
	},
	Umbrella: domain.UmbrellaRequirements{
		Endorsements:        []string{},
		WaiverOfSubrogation: true,
		FollowForm:          true,
		MinimumLimits: domain.UmbrellaLimits{
			EachOccurrence: 1_000_000,
			Aggregate:      1_000_000,
		},
	},
	WC: domain.WCRequirements{
		WaiverOfSubrogation: true,
		WaiverOfExcess:      false,
		MinimumLimits: domain.WCLimits{
			EachAccident:       1_000_000,
			DiseasePerEmployee: 1_000_000,
			DiseasePolicyLimit: 1_000_000,
		},
	},
	Auto: domain.AutoRequirements{
		HiredNonOwned: false,
		MinimumLimits: domain.AutoLimits{CombinedSingleLimit: 1_000_000},
	},
	RequiredInsurance: []domain.CoverageLine{domain.LineGL, domain.LineWC, domain.LineAuto},
}

var (
	baseLines     = []domain.CoverageLine{domain.LineGL, domain.LineWC, domain.LineAuto}
	umbrellaLines = []domain.CoverageLine{domain.LineGL, domain.LineUmbrella, domain.LineWC, domain.LineAuto}
)

func tier1() TradeRequirement {
	return TradeRequirement{Tier: 1, RequiredInsurance: baseLines}
}

func tier2() TradeRequirement {
	return TradeRequirement{
		Tier:              2,
		RequiredInsurance: umbrellaLines,
		Overrides: Overrides{
			GL: &GLOverride{MinimumLimits: &domain.GLLimits{
				EachOccurrence:   2_000_000,
				GeneralAggregate: 4_000_000,
				ProductsComplOps: 4_000_000,
			}},
			Umbrella: &UmbrellaOverride{MinimumLimits: &domain.UmbrellaLimits{
				EachOccurrence: 2_000_000,
				Aggregate:      2_000_000,
			}},
			Auto: &AutoOverride{HiredNonOwned: flag(true)},
		},
	}
}

func tier3() TradeRequirement {
	return TradeRequirement{
		Tier:              3,
		RequiredInsurance: umbrellaLines,
		Overrides: Overrides{
			GL: &GLOverride{
				Endorsements: []string{"CG2010", "CG2037", "CG2001"},
				MinimumLimits: &domain.GLLimits{
					EachOccurrence:   2_000_000,
					GeneralAggregate: 4_000_000,
					ProductsComplOps: 4_000_000,
				},
			},
			Umbrella: &UmbrellaOverride{MinimumLimits: &domain.UmbrellaLimits{
				EachOccurrence: 5_000_000,
				Aggregate:      5_000_000,
			}},
			WC:   &WCOverride{WaiverOfExcess: flag(true), Mandatory: flag(true)},
			Auto: &AutoOverride{HiredNonOwned: flag(true)},
		},
	}
}

var tradeRequirements = map[string]TradeRequirement{
	// Tier 1: finish and light trades
	"carpentry":   tier1(),
	"painting":    tier1(),
	"flooring":    tier1(),
	"drywall":     tier1(),
	"landscaping": tier1(),
	"cleaning":    tier1(),
	"insulation":  tier1(),
	"tile":        tier1(),

	// Tier 2: systems and structural trades
	"electrical":      tier2(),
	"plumbing":        tier2(),
	"hvac":            tier2(),
	"concrete":        tier2(),
	"masonry":         tier2(),
	"framing":         tier2(),
	"glazing":         tier2(),
	"fire_protection": tier2(),

	// Tier 3: high hazard
	"roofing":          tier3(),
	"excavation":       tier3(),
	"crane_operator":   tier3(),
	"demolition":       tier3(),
	"scaffolding":      tier3(),
	"structural_steel": tier3(),
	"elevator":         tier3(),
}

var projectModifiers = map[string]ProjectModifier{
	ModifierCondo: {
		Name: "Condominium project",
		Overrides: Overrides{
			GL: &GLOverride{
				Endorsements:        []string{"CG2010", "CG2037"},
				WaiverOfSubrogation: flag(true),
				NoCondoLimitation:   flag(true),
			},
		},
	},
	ModifierHighRise: {
		Name:                 "High-rise project",
		MinimumLimitIncrease: 1.5,
	},
	ModifierHazmat: {
		Name:              "Hazardous materials on site",
		RequiredInsurance: []domain.CoverageLine{domain.LineUmbrella},
		Overrides: Overrides{
			WC: &WCOverride{WaiverOfExcess: flag(true)},
		},
	},
}

// Universal returns a copy of the universal floor requirements.
func Universal() domain.RequirementSet {
	return universal.Clone()
}

// Trade looks up a catalog entry by normalized trade name.
func Trade(name string) (TradeRequirement, bool) {
	t, ok := tradeRequirements[name]
	if !ok {
		return TradeRequirement{}, false
	}
	t.RequiredInsurance = slices.Clone(t.RequiredInsurance)
	return t, true
}

// Modifier looks up a project modifier by key. The returned coverage list
// is a copy; overrides are shared and must be treated as read-only.
func Modifier(key string) (ProjectModifier, bool) {
	m, ok := projectModifiers[key]
	if !ok {
		return ProjectModifier{}, false
	}
	m.RequiredInsurance = slices.Clone(m.RequiredInsurance)
	return m, true
}

// TradeNames lists every trade in the catalog, sorted.
func TradeNames() []string {
	names := make([]string, 0, len(tradeRequirements))
	for name := range tradeRequirements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
