package domain

import "slices"

// CoverageLine identifies a line of insurance on a certificate.
type CoverageLine string

const (
	LineGL       CoverageLine = "gl"
	LineUmbrella CoverageLine = "umbrella"
	LineWC       CoverageLine = "wc"
	LineAuto     CoverageLine = "auto"
)

// GLLimits are the general liability minimums.
type GLLimits struct {
	EachOccurrence   float64 `json:"eachOccurrence"`
	GeneralAggregate float64 `json:"generalAggregate"`
	ProductsComplOps float64 `json:"productsComplOps"`
}

// AdditionalInsuredRequirement describes the GL additional insured obligation.
type AdditionalInsuredRequirement struct {
	Required    bool `json:"required"`
	MustNameAll bool `json:"mustNameAllProjectInsureds"`
}

// GLRequirements is the effective general liability rule set.
type GLRequirements struct {
	Endorsements           []string                     `json:"endorsements"`
	WaiverOfSubrogation    bool                         `json:"waiverOfSubrogation"`
	AdditionalInsured      AdditionalInsuredRequirement `json:"additionalInsured"`
	NoProjectAreaExclusion bool                         `json:"noProjectAreaExclusion"`
	NoCondoLimitation      bool                         `json:"noCondoLimitation,omitempty"`
	MinimumLimits          GLLimits                     `json:"minimumLimits"`
}

// UmbrellaLimits are the umbrella/excess minimums.
type UmbrellaLimits struct {
	EachOccurrence float64 `json:"eachOccurrence"`
	Aggregate      float64 `json:"aggregate"`
}

// UmbrellaRequirements is the effective umbrella rule set.
type UmbrellaRequirements struct {
	Endorsements        []string       `json:"endorsements"`
	WaiverOfSubrogation bool           `json:"waiverOfSubrogation"`
	FollowForm          bool           `json:"followForm"`
	MinimumLimits       UmbrellaLimits `json:"minimumLimits"`
}

// WCLimits are the workers' compensation employer liability minimums.
type WCLimits struct {
	EachAccident       float64 `json:"eachAccident"`
	DiseasePerEmployee float64 `json:"diseasePerEmployee"`
	DiseasePolicyLimit float64 `json:"diseasePolicyLimit"`
}

// WCRequirements is the effective workers' compensation rule set.
type WCRequirements struct {
	WaiverOfSubrogation bool     `json:"waiverOfSubrogation"`
	WaiverOfExcess      bool     `json:"waiverOfExcess"`
	Mandatory           bool     `json:"mandatory,omitempty"`
	MinimumLimits       WCLimits `json:"minimumLimits"`
}

// AutoLimits are the auto liability minimums.
type AutoLimits struct {
	CombinedSingleLimit float64 `json:"combinedSingleLimit"`
}

// AutoRequirements is the effective auto liability rule set.
type AutoRequirements struct {
	HiredNonOwned bool       `json:"hiredNonOwned"`
	MinimumLimits AutoLimits `json:"minimumLimits"`
}

// RequirementSet is the merged rule set for one project and trade list.
// It is computed per validation and never persisted on its own.
type RequirementSet struct {
	GL       GLRequirements       `json:"gl"`
	Umbrella UmbrellaRequirements `json:"umbrella"`
	WC       WCRequirements       `json:"wc"`
	Auto     AutoRequirements     `json:"auto"`

	RequiredInsurance []CoverageLine `json:"requiredInsurance"`
	Tier              int            `json:"tier"`
	GoverningTrade    string         `json:"governingTrade,omitempty"`
	DefaultedTrades   []string       `json:"defaultedTrades,omitempty"`
	Modifiers         []string       `json:"modifiers,omitempty"`
}

// Requires reports whether the coverage line must appear on the certificate.
func (r RequirementSet) Requires(line CoverageLine) bool {
	return slices.Contains(r.RequiredInsurance, line)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r RequirementSet) Clone() RequirementSet {
	out := r
	out.GL.Endorsements = slices.Clone(r.GL.Endorsements)
	out.Umbrella.Endorsements = slices.Clone(r.Umbrella.Endorsements)
	out.RequiredInsurance = slices.Clone(r.RequiredInsurance)
	out.DefaultedTrades = slices.Clone(r.DefaultedTrades)
	out.Modifiers = slices.Clone(r.Modifiers)
	return out
}
