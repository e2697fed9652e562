package domain

import "time"

// CheckStatus is the review outcome of a compliance check.
type CheckStatus string

const (
	CheckCompliant   CheckStatus = "compliant"
	CheckDeficient   CheckStatus = "deficient"
	CheckNeedsReview CheckStatus = "needs_review"
)

// ComplianceCheck is the persisted result of checking one stored COI.
type ComplianceCheck struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenantId"`
	COIID           string               `json:"coiId"`
	ProjectID       string               `json:"projectId,omitempty"`
	SubcontractorID string               `json:"subcontractorId,omitempty"`
	Status          CheckStatus          `json:"status"`
	Compliant       bool                 `json:"compliant"`
	Issues          []ComplianceIssue    `json:"issues"`
	Warnings        []ComplianceIssue    `json:"warnings"`
	TradeCoverage   *TradeCoverageResult `json:"tradeCoverage,omitempty"`
	RuleResults     []RuleResult         `json:"ruleResults,omitempty"`
	BrokerMessage   string               `json:"brokerMessage,omitempty"`
	ReviewNotes     []string             `json:"reviewNotes,omitempty"`
	Requirements    RequirementSet       `json:"requirements"`
	CheckedAt       time.Time            `json:"checkedAt"`
	Metadata        CheckMetadata        `json:"metadata"`
}

// CheckMetadata carries processing details for auditing.
type CheckMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// CheckStatusFor derives the status from blocking issues and advisory warnings.
func CheckStatusFor(issues, warnings []ComplianceIssue) CheckStatus {
	switch {
	case len(issues) > 0:
		return CheckDeficient
	case len(warnings) > 0:
		return CheckNeedsReview
	default:
		return CheckCompliant
	}
}
