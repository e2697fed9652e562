package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/requirements"
)

var fixedNow = time.Date(2026, time.March, 1, 15, 30, 0, 0, time.UTC)

func testValidator() *Validator {
	return &Validator{Now: func() time.Time { return fixedNow }}
}

func inDays(n int) string {
	return fixedNow.AddDate(0, 0, n).Format("2006-01-02")
}

func testProject() *domain.Project {
	return &domain.Project{
		Name:              "Harbor Point",
		Type:              domain.ProjectStandard,
		AdditionalInsured: []string{"Acme Builders", "harbor point owner llc"},
	}
}

// minimumCOI meets every universal minimum exactly.
func minimumCOI() *domain.COI {
	return &domain.COI{
		GLEachOccurrence:       domain.Limit(1_000_000),
		GLGeneralAggregate:     domain.Limit(2_000_000),
		GLProductsCompletedOps: domain.Limit(1_000_000),
		GLEndorsements:         []string{"CG2010", "CG2037"},
		GLWaiverOfSubrogation:  true,
		GLAdditionalInsureds:   []string{"Acme Builders, Inc.", "Harbor Point Owner LLC"},
		GLExpirationDate:       inDays(365),

		WCEachAccident:        domain.Limit(1_000_000),
		WCWaiverOfSubrogation: true,
		WCExpirationDate:      inDays(365),

		AutoCombinedSingleLimit: domain.Limit(1_000_000),
		AutoExpirationDate:      inDays(365),
	}
}

func issuesOfType(list []domain.ComplianceIssue, typ string) []domain.ComplianceIssue {
	var out []domain.ComplianceIssue
	for _, i := range list {
		if i.Type == typ {
			out = append(out, i)
		}
	}
	return out
}

func TestValidate_ExactMinimumsAreCompliant(t *testing.T) {
	res := testValidator().Validate(minimumCOI(), testProject(), []string{"carpentry"})

	assert.True(t, res.Compliant)
	assert.Empty(t, res.Issues)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, res.RequirementsApplied.Tier)
}

func TestValidate_HighRiseExactScaledMinimums(t *testing.T) {
	coi := minimumCOI()
	coi.GLEachOccurrence = domain.Limit(1_500_000)
	coi.GLGeneralAggregate = domain.Limit(3_000_000)
	coi.GLProductsCompletedOps = domain.Limit(1_500_000)
	coi.WCEachAccident = domain.Limit(1_500_000)
	coi.AutoCombinedSingleLimit = domain.Limit(1_500_000)

	project := testProject()
	project.Type = domain.ProjectHighRise

	res := testValidator().Validate(coi, project, []string{"painting"})
	assert.True(t, res.Compliant, "issues: %+v", res.Issues)

	res = testValidator().Validate(minimumCOI(), project, []string{"painting"})
	assert.False(t, res.Compliant)
	assert.Len(t, issuesOfType(res.Issues, domain.IssueGLLimitInsufficient), 3)
}

func TestValidate_GLUnderLimit(t *testing.T) {
	coi := &domain.COI{
		GLEachOccurrence:       domain.Limit(500_000),
		GLGeneralAggregate:     domain.Limit(2_000_000),
		GLProductsCompletedOps: domain.Limit(1_000_000),
	}

	res := testValidator().Validate(coi, &domain.Project{}, nil)

	require.False(t, res.Compliant)
	gl := issuesOfType(res.Issues, domain.IssueGLLimitInsufficient)
	require.Len(t, gl, 1)
	assert.Equal(t, 1_000_000.0, gl[0].Required)
	require.NotNil(t, gl[0].Provided)
	assert.Equal(t, 500_000.0, *gl[0].Provided)
	assert.Equal(t, domain.SeverityError, gl[0].Severity)
	assert.False(t, gl[0].Missing)
}

func TestValidate_MissingRequiredLimitIsInsufficient(t *testing.T) {
	coi := minimumCOI()
	coi.GLEachOccurrence = nil
	coi.AutoCombinedSingleLimit = nil

	res := testValidator().Validate(coi, testProject(), nil)

	assert.False(t, res.Compliant)
	gl := issuesOfType(res.Issues, domain.IssueGLLimitInsufficient)
	require.Len(t, gl, 1)
	assert.True(t, gl[0].Missing)
	assert.Nil(t, gl[0].Provided)
	assert.Len(t, issuesOfType(res.Issues, domain.IssueAutoLimitInsufficient), 1)
}

func TestValidate_OptionalLineSkippedWhenAbsent(t *testing.T) {
	res := testValidator().Validate(minimumCOI(), testProject(), []string{"painting"})
	assert.Empty(t, issuesOfType(res.Issues, domain.IssueUmbrellaLimitInsufficient))

	// once stated, an optional umbrella is held to the universal terms
	coi := minimumCOI()
	coi.UmbrellaLimit = domain.Limit(1_000_000)
	res = testValidator().Validate(coi, testProject(), []string{"painting"})
	assert.Empty(t, issuesOfType(res.Issues, domain.IssueUmbrellaLimitInsufficient))
	assert.Len(t, issuesOfType(res.Issues, domain.IssueUmbrellaNotFollowForm), 1)
}

func TestValidate_EndorsementsExactMatch(t *testing.T) {
	coi := minimumCOI()
	coi.GLEndorsements = []string{"CG2010", "cg2037"}

	res := testValidator().Validate(coi, testProject(), nil)

	missing := issuesOfType(res.Issues, domain.IssueMissingEndorsement)
	require.Len(t, missing, 1)
	assert.Equal(t, "CG2037", missing[0].Endorsement)
}

func TestValidate_AdditionalInsured(t *testing.T) {
	t.Run("none listed is an error", func(t *testing.T) {
		coi := minimumCOI()
		coi.GLAdditionalInsureds = []string{"  "}

		res := testValidator().Validate(coi, testProject(), nil)
		assert.False(t, res.Compliant)
		assert.Len(t, issuesOfType(res.Issues, domain.IssueMissingAdditionalInsured), 1)
		assert.Empty(t, issuesOfType(res.Warnings, domain.IssueAdditionalInsuredNotNamed))
	})

	t.Run("unnamed project insured is a warning", func(t *testing.T) {
		coi := minimumCOI()
		coi.GLAdditionalInsureds = []string{"ACME BUILDERS INC"}

		res := testValidator().Validate(coi, testProject(), nil)
		assert.True(t, res.Compliant)
		named := issuesOfType(res.Warnings, domain.IssueAdditionalInsuredNotNamed)
		require.Len(t, named, 1)
		assert.Equal(t, "harbor point owner llc", named[0].Insured)
		assert.Equal(t, domain.SeverityWarning, named[0].Severity)
	})
}

func TestValidate_CondoExclusion(t *testing.T) {
	condo := testProject()
	condo.Type = domain.ProjectCondo

	cois := map[string]*domain.COI{
		"otherwise compliant": minimumCOI(),
		"empty":               {},
	}
	for name, coi := range cois {
		t.Run(name, func(t *testing.T) {
			coi.GLHasCondoExclusion = true
			res := testValidator().Validate(coi, condo, []string{"roofing"})

			assert.False(t, res.Compliant)
			assert.Len(t, issuesOfType(res.Issues, domain.IssueCondoExclusion), 1)
			assert.True(t, res.RequirementsApplied.GL.NoCondoLimitation)
		})
	}

	// not a condo: the flag alone is not a finding
	coi := minimumCOI()
	coi.GLHasCondoExclusion = true
	res := testValidator().Validate(coi, testProject(), nil)
	assert.True(t, res.Compliant)
}

func TestValidate_ProjectAreaExclusionAlwaysError(t *testing.T) {
	for _, pt := range []domain.ProjectType{domain.ProjectStandard, domain.ProjectCondo, domain.ProjectHighRise} {
		coi := minimumCOI()
		coi.GLHasProjectAreaExclusion = true
		project := testProject()
		project.Type = pt

		res := testValidator().Validate(coi, project, nil)
		assert.Len(t, issuesOfType(res.Issues, domain.IssueProjectAreaExclusion), 1, pt)
	}
}

func TestValidate_Expiration(t *testing.T) {
	tests := []struct {
		name      string
		days      int
		wantIssue string
		wantWarn  string
	}{
		{"thirty days is not flagged", 30, "", ""},
		{"twenty nine days warns", 29, "", domain.IssuePolicyExpiringSoon},
		{"one day warns", 1, "", domain.IssuePolicyExpiringSoon},
		{"today is expired", 0, domain.IssuePolicyExpired, ""},
		{"past is expired", -12, domain.IssuePolicyExpired, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coi := minimumCOI()
			coi.GLExpirationDate = inDays(tt.days)

			res := testValidator().Validate(coi, testProject(), nil)

			if tt.wantIssue == "" {
				assert.Empty(t, res.Issues)
			} else {
				got := issuesOfType(res.Issues, tt.wantIssue)
				require.Len(t, got, 1)
				require.NotNil(t, got[0].DaysUntilExpiry)
				assert.Equal(t, tt.days, *got[0].DaysUntilExpiry)
			}
			if tt.wantWarn == "" {
				assert.Empty(t, res.Warnings)
			} else {
				got := issuesOfType(res.Warnings, tt.wantWarn)
				require.Len(t, got, 1)
				require.NotNil(t, got[0].DaysUntilExpiry)
				assert.Equal(t, tt.days, *got[0].DaysUntilExpiry)
				assert.Equal(t, "General Liability", got[0].Field)
			}
		})
	}
}

func TestValidate_ExpirationFormats(t *testing.T) {
	coi := minimumCOI()
	coi.WCExpirationDate = fixedNow.AddDate(0, 0, 29).Format("01/02/2006")
	coi.AutoExpirationDate = "sometime next spring"

	res := testValidator().Validate(coi, testProject(), nil)

	soon := issuesOfType(res.Warnings, domain.IssuePolicyExpiringSoon)
	require.Len(t, soon, 1)
	assert.Equal(t, "Workers Compensation", soon[0].Field)
	assert.Len(t, issuesOfType(res.Warnings, domain.IssueExpirationDateInvalid), 1)
	assert.True(t, res.Compliant)
}

func TestValidate_TierTwoAndThree(t *testing.T) {
	t.Run("electrical requires umbrella and hired non-owned auto", func(t *testing.T) {
		res := testValidator().Validate(minimumCOI(), testProject(), []string{"electrical"})

		assert.False(t, res.Compliant)
		assert.Len(t, issuesOfType(res.Issues, domain.IssueUmbrellaLimitInsufficient), 2)
		assert.Len(t, issuesOfType(res.Issues, domain.IssueMissingHiredNonOwnedAuto), 1)
		assert.Len(t, issuesOfType(res.Issues, domain.IssueGLLimitInsufficient), 3)
	})

	t.Run("roofing requires waiver of excess", func(t *testing.T) {
		coi := minimumCOI()
		coi.GLEachOccurrence = domain.Limit(2_000_000)
		coi.GLGeneralAggregate = domain.Limit(4_000_000)
		coi.GLProductsCompletedOps = domain.Limit(4_000_000)
		coi.GLEndorsements = append(coi.GLEndorsements, "CG2001")
		coi.UmbrellaEachOccurrence = domain.Limit(5_000_000)
		coi.UmbrellaAggregate = domain.Limit(5_000_000)
		coi.UmbrellaFollowForm = true
		coi.UmbrellaWaiverOfSubrogation = true
		coi.AutoHiredCoverage = true
		coi.AutoNonOwnedCoverage = true

		res := testValidator().Validate(coi, testProject(), []string{"roofing"})
		require.Len(t, res.Issues, 1)
		assert.Equal(t, domain.IssueMissingWaiverOfExcess, res.Issues[0].Type)

		coi.WCWaiverOfExcess = true
		res = testValidator().Validate(coi, testProject(), []string{"roofing"})
		assert.True(t, res.Compliant, "issues: %+v", res.Issues)
	})

	t.Run("missing waivers are reported per line", func(t *testing.T) {
		coi := minimumCOI()
		coi.GLWaiverOfSubrogation = false
		coi.WCWaiverOfSubrogation = false

		res := testValidator().Validate(coi, testProject(), nil)
		waivers := issuesOfType(res.Issues, domain.IssueMissingWaiver)
		require.Len(t, waivers, 2)
		assert.Equal(t, "GL Waiver of Subrogation", waivers[0].Field)
		assert.Equal(t, "WC Waiver of Subrogation", waivers[1].Field)
	})
}

func TestValidate_UnknownTradeWarns(t *testing.T) {
	res := testValidator().Validate(minimumCOI(), testProject(), []string{"carpentry", "basket weaving"})

	assert.True(t, res.Compliant)
	unknown := issuesOfType(res.Warnings, domain.IssueUnknownTrade)
	require.Len(t, unknown, 1)
	assert.Equal(t, "basket_weaving", unknown[0].Trade)
	assert.Equal(t, []string{"basket_weaving"}, res.RequirementsApplied.DefaultedTrades)
}

func TestValidate_CompliantMatchesIssues(t *testing.T) {
	cois := []*domain.COI{nil, {}, minimumCOI()}
	for _, coi := range cois {
		for _, trades := range [][]string{nil, {"roofing"}, {"painting", "hvac"}} {
			res := testValidator().Validate(coi, testProject(), trades)
			assert.Equal(t, len(res.Issues) == 0, res.Compliant)
			for _, i := range res.Issues {
				assert.True(t, i.Severity.Blocking())
			}
			for _, w := range res.Warnings {
				assert.False(t, w.Severity.Blocking())
			}
		}
	}
}

func TestValidateAgainst_UsesGivenSet(t *testing.T) {
	set := requirements.Universal()
	set.GL.MinimumLimits.EachOccurrence = 250_000

	coi := minimumCOI()
	coi.GLEachOccurrence = domain.Limit(300_000)

	res := testValidator().ValidateAgainst(coi, testProject(), set)
	assert.True(t, res.Compliant)
	assert.Equal(t, set, res.RequirementsApplied)
}

func TestValidateAgainst_MandatoryWC(t *testing.T) {
	set := requirements.Universal()
	set.RequiredInsurance = []domain.CoverageLine{domain.LineGL, domain.LineAuto}

	coi := minimumCOI()
	coi.WCEachAccident = nil
	coi.WCWaiverOfSubrogation = false
	coi.WCExpirationDate = ""

	res := testValidator().ValidateAgainst(coi, testProject(), set)
	assert.Empty(t, issuesOfType(res.Issues, domain.IssueWCLimitInsufficient))

	set.WC.Mandatory = true
	res = testValidator().ValidateAgainst(coi, testProject(), set)
	wc := issuesOfType(res.Issues, domain.IssueWCLimitInsufficient)
	require.Len(t, wc, 1)
	assert.True(t, wc[0].Missing)
	assert.False(t, res.Compliant)
}

func TestValidate_TierThreeWCIsMandatory(t *testing.T) {
	assert.True(t, requirements.Build(nil, []string{"roofing"}).WC.Mandatory)
	assert.False(t, requirements.Build(nil, []string{"painting"}).WC.Mandatory)
}

func TestDaysUntil(t *testing.T) {
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 30, DaysUntil(today, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, DaysUntil(today, today))
	assert.Equal(t, -1, DaysUntil(today, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
}
