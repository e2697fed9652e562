package domain

import (
	"math"

	"github.com/dustin/go-humanize"
)

// Severity grades a compliance finding. Only SeverityError blocks compliance;
// every other value is advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityWarning Severity = "warning"
	SeverityLow     Severity = "low"
)

// Blocking reports whether the severity makes a certificate non-compliant.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityHigh, SeverityMedium, SeverityWarning, SeverityLow:
		return true
	}
	return false
}

// Stable issue type codes.
const (
	IssueGLLimitInsufficient       = "GL_LIMIT_INSUFFICIENT"
	IssueUmbrellaLimitInsufficient = "UMBRELLA_LIMIT_INSUFFICIENT"
	IssueWCLimitInsufficient       = "WC_LIMIT_INSUFFICIENT"
	IssueAutoLimitInsufficient     = "AUTO_LIMIT_INSUFFICIENT"
	IssueMissingEndorsement        = "MISSING_ENDORSEMENT"
	IssueMissingWaiver             = "MISSING_WAIVER_OF_SUBROGATION"
	IssueMissingWaiverOfExcess     = "MISSING_WAIVER_OF_EXCESS"
	IssueMissingAdditionalInsured  = "MISSING_ADDITIONAL_INSURED"
	IssueAdditionalInsuredNotNamed = "ADDITIONAL_INSURED_NOT_NAMED"
	IssueCondoExclusion            = "CONDO_EXCLUSION_PRESENT"
	IssueProjectAreaExclusion      = "PROJECT_AREA_EXCLUSION_PRESENT"
	IssueUmbrellaNotFollowForm     = "UMBRELLA_NOT_FOLLOW_FORM"
	IssueMissingHiredNonOwnedAuto  = "MISSING_HIRED_NON_OWNED_AUTO"
	IssuePolicyExpired             = "POLICY_EXPIRED"
	IssuePolicyExpiringSoon        = "POLICY_EXPIRING_SOON"
	IssueExpirationDateInvalid     = "EXPIRATION_DATE_INVALID"
	IssueUnknownTrade              = "UNKNOWN_TRADE"

	IssueTradeExcluded           = "TRADE_EXCLUDED"
	IssueTradeNotClassified      = "TRADE_NOT_IN_CLASSIFICATION"
	IssueClassificationUnknown   = "CLASSIFICATION_UNRECOGNIZED"
	IssueSingleTradePremiumBasis = "SINGLE_TRADE_PREMIUM_BASIS"
	IssueInherentExclusion       = "INHERENT_TRADE_EXCLUSION"
	IssueMissingHiredAuto        = "MISSING_HIRED_AUTO"
	IssueMissingNonOwnedAuto     = "MISSING_NON_OWNED_AUTO"

	IssueProgramRuleFailed = "PROGRAM_RULE_FAILED"
	IssueProgramRuleError  = "PROGRAM_RULE_ERROR"
)

// ComplianceIssue is one finding against a certificate. Context fields are
// populated only where they apply to the issue type.
type ComplianceIssue struct {
	Type     string   `json:"type"`
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`

	Required        float64  `json:"required,omitempty"`
	Provided        *float64 `json:"provided,omitempty"`
	Missing         bool     `json:"missing,omitempty"`
	Endorsement     string   `json:"endorsement,omitempty"`
	Insured         string   `json:"insured,omitempty"`
	Trade           string   `json:"trade,omitempty"`
	ExpirationDate  string   `json:"expirationDate,omitempty"`
	DaysUntilExpiry *int     `json:"daysUntilExpiry,omitempty"`
	RuleID          string   `json:"ruleId,omitempty"`
}

// ValidationResult is the compliance verdict for one certificate.
// Compliant is true exactly when Issues is empty.
type ValidationResult struct {
	Compliant           bool              `json:"compliant"`
	Issues              []ComplianceIssue `json:"issues"`
	Warnings            []ComplianceIssue `json:"warnings"`
	RequirementsApplied RequirementSet    `json:"requirementsApplied"`
}

// CountBySeverity tallies findings by severity.
func CountBySeverity(issues ...[]ComplianceIssue) map[Severity]int {
	counts := make(map[Severity]int)
	for _, list := range issues {
		for _, i := range list {
			counts[i.Severity]++
		}
	}
	return counts
}

// USD formats a dollar amount with thousands separators, e.g. $1,000,000.
func USD(v float64) string {
	return "$" + humanize.Comma(int64(math.Round(v)))
}
