// Package compliance checks certificates of insurance against the composed
// requirement set for a project and its trades.
package compliance

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/requirements"
)

// DefaultExpiryWarningDays is the expiring-soon threshold in days.
const DefaultExpiryWarningDays = 30

// Validator checks certificates. The zero value is ready to use.
type Validator struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// ExpiryWarningDays flags policies expiring in fewer days than this.
	ExpiryWarningDays int
}

// New creates a validator using the wall clock.
func New() *Validator {
	return &Validator{Now: time.Now, ExpiryWarningDays: DefaultExpiryWarningDays}
}

// Validate composes requirements for the project and trades, then checks the
// certificate against them. It never fails; every finding is data.
func (v *Validator) Validate(coi *domain.COI, project *domain.Project, trades []string) domain.ValidationResult {
	return v.ValidateAgainst(coi, project, requirements.Build(project, trades))
}

// ValidateAgainst checks the certificate against an already composed set.
func (v *Validator) ValidateAgainst(coi *domain.COI, project *domain.Project, set domain.RequirementSet) domain.ValidationResult {
	if coi == nil {
		coi = &domain.COI{}
	}

	r := &report{
		issues:   []domain.ComplianceIssue{},
		warnings: []domain.ComplianceIssue{},
	}
	r.checkGL(coi, project, set)
	r.checkUmbrella(coi, set)
	r.checkWC(coi, set)
	r.checkAuto(coi, set)
	r.checkExpirations(coi, v.today(), v.threshold())
	r.checkDefaultedTrades(set)

	return domain.ValidationResult{
		Compliant:           len(r.issues) == 0,
		Issues:              r.issues,
		Warnings:            r.warnings,
		RequirementsApplied: set,
	}
}

func (v *Validator) today() time.Time {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	t := now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (v *Validator) threshold() int {
	if v.ExpiryWarningDays > 0 {
		return v.ExpiryWarningDays
	}
	return DefaultExpiryWarningDays
}

type report struct {
	issues   []domain.ComplianceIssue
	warnings []domain.ComplianceIssue
}

func (r *report) fail(i domain.ComplianceIssue) {
	i.Severity = domain.SeverityError
	r.issues = append(r.issues, i)
}

func (r *report) warn(i domain.ComplianceIssue) {
	i.Severity = domain.SeverityWarning
	r.warnings = append(r.warnings, i)
}

// limit flags a provided value below the minimum. A missing value is
// insufficient too.
func (r *report) limit(issueType, field string, required float64, provided *float64) {
	if required <= 0 {
		return
	}
	if provided == nil {
		r.fail(domain.ComplianceIssue{
			Type:     issueType,
			Field:    field,
			Required: required,
			Missing:  true,
			Message:  fmt.Sprintf("%s not provided; minimum is %s", field, domain.USD(required)),
		})
		return
	}
	if *provided < required {
		r.fail(domain.ComplianceIssue{
			Type:     issueType,
			Field:    field,
			Required: required,
			Provided: provided,
			Message:  fmt.Sprintf("%s of %s is below the required %s", field, domain.USD(*provided), domain.USD(required)),
		})
	}
}

func (r *report) waiver(field string, required, provided bool) {
	if required && !provided {
		r.fail(domain.ComplianceIssue{
			Type:    domain.IssueMissingWaiver,
			Field:   field,
			Message: field + " is required",
		})
	}
}

func (r *report) checkGL(coi *domain.COI, project *domain.Project, set domain.RequirementSet) {
	if !set.Requires(domain.LineGL) && !coi.HasGL() {
		return
	}
	req := set.GL

	r.limit(domain.IssueGLLimitInsufficient, "GL Each Occurrence", req.MinimumLimits.EachOccurrence, coi.GLEachOccurrence)
	r.limit(domain.IssueGLLimitInsufficient, "GL General Aggregate", req.MinimumLimits.GeneralAggregate, coi.GLGeneralAggregate)
	r.limit(domain.IssueGLLimitInsufficient, "GL Products-Completed Operations", req.MinimumLimits.ProductsComplOps, coi.GLProductsCompletedOps)

	for _, code := range req.Endorsements {
		if !slices.Contains(coi.GLEndorsements, code) {
			r.fail(domain.ComplianceIssue{
				Type:        domain.IssueMissingEndorsement,
				Field:       "GL Endorsements",
				Endorsement: code,
				Message:     "Missing required endorsement " + code,
			})
		}
	}

	r.waiver("GL Waiver of Subrogation", req.WaiverOfSubrogation, coi.GLWaiverOfSubrogation)

	if req.AdditionalInsured.Required {
		listed := nonBlank(coi.GLAdditionalInsureds)
		if len(listed) == 0 {
			r.fail(domain.ComplianceIssue{
				Type:    domain.IssueMissingAdditionalInsured,
				Field:   "GL Additional Insured",
				Message: "No additional insured is listed on the certificate",
			})
		} else if req.AdditionalInsured.MustNameAll && project != nil {
			for _, name := range nonBlank(project.AdditionalInsured) {
				if !namesInsured(listed, name) {
					r.warn(domain.ComplianceIssue{
						Type:    domain.IssueAdditionalInsuredNotNamed,
						Field:   "GL Additional Insured",
						Insured: name,
						Message: fmt.Sprintf("%q is not named as an additional insured", name),
					})
				}
			}
		}
	}

	if req.NoCondoLimitation && coi.GLHasCondoExclusion {
		r.fail(domain.ComplianceIssue{
			Type:    domain.IssueCondoExclusion,
			Field:   "GL Condo Exclusion",
			Message: "Policy excludes condominium work",
		})
	}
	if coi.GLHasProjectAreaExclusion {
		r.fail(domain.ComplianceIssue{
			Type:    domain.IssueProjectAreaExclusion,
			Field:   "GL Project Area Exclusion",
			Message: "Policy excludes the project area",
		})
	}
}

func (r *report) checkUmbrella(coi *domain.COI, set domain.RequirementSet) {
	if !set.Requires(domain.LineUmbrella) && !coi.HasUmbrella() {
		return
	}
	req := set.Umbrella

	r.limit(domain.IssueUmbrellaLimitInsufficient, "Umbrella Each Occurrence", req.MinimumLimits.EachOccurrence, coi.UmbrellaOccurrenceLimit())
	r.limit(domain.IssueUmbrellaLimitInsufficient, "Umbrella Aggregate", req.MinimumLimits.Aggregate, coi.UmbrellaAggregateLimit())

	if req.FollowForm && !coi.UmbrellaFollowForm {
		r.fail(domain.ComplianceIssue{
			Type:    domain.IssueUmbrellaNotFollowForm,
			Field:   "Umbrella Follow Form",
			Message: "Umbrella must follow form over the underlying policies",
		})
	}
	r.waiver("Umbrella Waiver of Subrogation", req.WaiverOfSubrogation, coi.UmbrellaWaiverOfSubrogation)
}

// checkWC holds a mandatory WC requirement to its limits even when the
// coverage list leaves WC out.
func (r *report) checkWC(coi *domain.COI, set domain.RequirementSet) {
	req := set.WC
	if !set.Requires(domain.LineWC) && !req.Mandatory && !coi.HasWC() {
		return
	}

	r.limit(domain.IssueWCLimitInsufficient, "WC Each Accident", req.MinimumLimits.EachAccident, coi.WCEachAccident)
	r.waiver("WC Waiver of Subrogation", req.WaiverOfSubrogation, coi.WCWaiverOfSubrogation)

	if req.WaiverOfExcess && !coi.WCWaiverOfExcess {
		r.fail(domain.ComplianceIssue{
			Type:    domain.IssueMissingWaiverOfExcess,
			Field:   "WC Waiver of Excess",
			Message: "WC Waiver of Excess is required",
		})
	}
}

func (r *report) checkAuto(coi *domain.COI, set domain.RequirementSet) {
	if !set.Requires(domain.LineAuto) && !coi.HasAuto() {
		return
	}
	req := set.Auto

	r.limit(domain.IssueAutoLimitInsufficient, "Auto Combined Single Limit", req.MinimumLimits.CombinedSingleLimit, coi.AutoCombinedSingleLimit)

	if req.HiredNonOwned && !(coi.AutoHiredCoverage && coi.AutoNonOwnedCoverage) {
		r.fail(domain.ComplianceIssue{
			Type:    domain.IssueMissingHiredNonOwnedAuto,
			Field:   "Auto Hired/Non-Owned",
			Message: "Hired and non-owned auto coverage is required",
		})
	}
}

func (r *report) checkExpirations(coi *domain.COI, today time.Time, threshold int) {
	for _, e := range coi.Expirations() {
		exp, err := domain.ParsePolicyDate(e.Date)
		if err != nil {
			r.warn(domain.ComplianceIssue{
				Type:           domain.IssueExpirationDateInvalid,
				Field:          e.Field,
				ExpirationDate: e.Date,
				Message:        fmt.Sprintf("%s expiration date %q could not be read", e.Field, e.Date),
			})
			continue
		}

		days := DaysUntil(today, exp)
		switch {
		case days <= 0:
			r.fail(domain.ComplianceIssue{
				Type:            domain.IssuePolicyExpired,
				Field:           e.Field,
				ExpirationDate:  e.Date,
				DaysUntilExpiry: &days,
				Message:         fmt.Sprintf("%s policy expired on %s", e.Field, exp.Format("2006-01-02")),
			})
		case days < threshold:
			r.warn(domain.ComplianceIssue{
				Type:            domain.IssuePolicyExpiringSoon,
				Field:           e.Field,
				ExpirationDate:  e.Date,
				DaysUntilExpiry: &days,
				Message:         fmt.Sprintf("%s policy expires in %d days", e.Field, days),
			})
		}
	}
}

func (r *report) checkDefaultedTrades(set domain.RequirementSet) {
	for _, trade := range set.DefaultedTrades {
		r.warn(domain.ComplianceIssue{
			Type:    domain.IssueUnknownTrade,
			Field:   "Trade",
			Trade:   trade,
			Message: fmt.Sprintf("Trade %q is not recognized; %s requirements were applied", trade, requirements.DefaultTrade),
		})
	}
}

// DaysUntil returns whole days from today to exp, both taken at midnight UTC.
func DaysUntil(today, exp time.Time) int {
	return int(math.Floor(exp.Sub(today).Hours() / 24))
}

func namesInsured(listed []string, name string) bool {
	want := strings.ToLower(name)
	for _, l := range listed {
		if strings.Contains(strings.ToLower(l), want) {
			return true
		}
	}
	return false
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
