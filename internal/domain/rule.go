package domain

// GlobalTenant owns program rules that apply to every tenant.
const GlobalTenant = "*"

// ProgramRule is an insurance program requirement expressed in CEL.
// The expression must evaluate to a bool; true means the COI satisfies it.
type ProgramRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over coi, project_type and trades
	Expression string `json:"expression" validate:"required"`

	// Issue emitted when the expression is false
	Code     string   `json:"code"`
	Field    string   `json:"field"`
	Severity Severity `json:"severity" validate:"omitempty,oneof=error high medium warning low"`
	Message  string   `json:"message"`

	Enabled bool `json:"enabled"`
}

// RuleResult is the output of one program rule evaluation.
type RuleResult struct {
	RuleID    string   `json:"ruleId"`
	Passed    bool     `json:"passed"`
	Code      string   `json:"code"`
	Field     string   `json:"field,omitempty"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
	ProcessMs int64    `json:"processMs"`
}

// Issue converts a failed or errored result into a compliance finding.
// Evaluation errors are always advisory.
func (r RuleResult) Issue() (ComplianceIssue, bool) {
	switch {
	case r.Error != "":
		return ComplianceIssue{
			Type:     IssueProgramRuleError,
			Field:    r.Field,
			Severity: SeverityLow,
			Message:  r.Error,
			RuleID:   r.RuleID,
		}, true
	case !r.Passed:
		code := r.Code
		if code == "" {
			code = IssueProgramRuleFailed
		}
		sev := r.Severity
		if !sev.Valid() {
			sev = SeverityError
		}
		return ComplianceIssue{
			Type:     code,
			Field:    r.Field,
			Severity: sev,
			Message:  r.Message,
			RuleID:   r.RuleID,
		}, true
	}
	return ComplianceIssue{}, false
}
