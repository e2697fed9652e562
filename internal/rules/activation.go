package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// COIActivation flattens a certificate into the CEL "coi" map. Flags, text
// and lists are always present; numeric limits appear only when stated, so
// rules test them with has(coi.field).
func COIActivation(coi *domain.COI) map[string]any {
	if coi == nil {
		coi = &domain.COI{}
	}

	m := map[string]any{
		"insured_name": coi.InsuredName,

		"gl_endorsements":               listOf(coi.GLEndorsements),
		"gl_waiver_of_subrogation":      coi.GLWaiverOfSubrogation,
		"gl_additional_insureds":        listOf(coi.GLAdditionalInsureds),
		"gl_has_condo_exclusion":        coi.GLHasCondoExclusion,
		"gl_has_project_area_exclusion": coi.GLHasProjectAreaExclusion,
		"gl_expiration_date":            coi.GLExpirationDate,
		"gl_policy_notes":               coi.GLPolicyNotes,
		"gl_exclusions":                 coi.GLExclusions,
		"gl_classification_code":        string(coi.GLClassificationCode),
		"gl_premium_basis":              coi.GLPremiumBasis,
		"gl_inherent_exclusions":        coi.GLInherentExclusions,

		"umbrella_follow_form":           coi.UmbrellaFollowForm,
		"umbrella_waiver_of_subrogation": coi.UmbrellaWaiverOfSubrogation,
		"umbrella_expiration_date":       coi.UmbrellaExpirationDate,

		"wc_waiver_of_subrogation": coi.WCWaiverOfSubrogation,
		"wc_waiver_of_excess":      coi.WCWaiverOfExcess,
		"wc_expiration_date":       coi.WCExpirationDate,

		"auto_hired_coverage":    coi.AutoHiredCoverage,
		"auto_nonowned_coverage": coi.AutoNonOwnedCoverage,
		"auto_expiration_date":   coi.AutoExpirationDate,
	}

	limits := map[string]*float64{
		"gl_each_occurrence":         coi.GLEachOccurrence,
		"gl_general_aggregate":       coi.GLGeneralAggregate,
		"gl_products_completed_ops":  coi.GLProductsCompletedOps,
		"umbrella_each_occurrence":   coi.UmbrellaEachOccurrence,
		"umbrella_aggregate":         coi.UmbrellaAggregate,
		"umbrella_limit":             coi.UmbrellaLimit,
		"wc_each_accident":           coi.WCEachAccident,
		"wc_disease_each_employee":   coi.WCDiseaseEachEmployee,
		"wc_disease_policy_limit":    coi.WCDiseasePolicyLimit,
		"auto_combined_single_limit": coi.AutoCombinedSingleLimit,
	}
	for k, v := range limits {
		if v != nil {
			m[k] = *v
		}
	}
	return m
}

func listOf(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
