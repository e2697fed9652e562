package domain

// TradeExclusion records an exclusion phrase found in policy text.
type TradeExclusion struct {
	Trade     string `json:"trade"`
	Exclusion string `json:"exclusion"`
	Source    string `json:"source"`
}

// TradeClassification is the NCCI classification cross-reference for a COI.
type TradeClassification struct {
	Code          string   `json:"code"`
	CoveredTrades []string `json:"coveredTrades"`
	Recognized    bool     `json:"recognized"`
}

// TradeCoverageResult is the outcome of scanning a policy for trade gaps.
type TradeCoverageResult struct {
	Compliant       bool                  `json:"compliant"`
	Issues          []ComplianceIssue     `json:"issues"`
	Warnings        []ComplianceIssue     `json:"warnings"`
	ExcludedTrades  []TradeExclusion      `json:"excludedTrades"`
	Classifications []TradeClassification `json:"classifications"`
	ReviewNotes     []string              `json:"reviewNotes"`
	RequiredTrades  []string              `json:"requiredTrades"`
}

// TradeRestriction is a trade-specific minimum the policy fails to meet.
type TradeRestriction struct {
	Trade    string   `json:"trade"`
	Severity Severity `json:"type"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Required float64  `json:"required,omitempty"`
	Provided *float64 `json:"provided,omitempty"`
}

// TradeChangeResult describes the effect of changing a subcontractor's trades.
type TradeChangeResult struct {
	Added          []string           `json:"added"`
	Removed        []string           `json:"removed"`
	Unchanged      []string           `json:"unchanged"`
	Restrictions   []TradeRestriction `json:"restrictions"`
	ReviewRequired bool               `json:"reviewRequired"`
}
