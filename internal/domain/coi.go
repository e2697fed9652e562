package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// COI is a certificate of insurance as captured from a broker submission.
// Numeric limits are pointers: nil means the certificate did not state a value.
type COI struct {
	ID              string    `json:"id,omitempty"`
	TenantID        string    `json:"tenant_id,omitempty"`
	ProjectID       string    `json:"project_id,omitempty"`
	SubcontractorID string    `json:"subcontractor_id,omitempty"`
	InsuredName     string    `json:"insured_name,omitempty"`
	BrokerEmail     string    `json:"broker_email,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`

	// General liability
	GLEachOccurrence          *float64  `json:"gl_each_occurrence,omitempty"`
	GLGeneralAggregate        *float64  `json:"gl_general_aggregate,omitempty"`
	GLProductsCompletedOps    *float64  `json:"gl_products_completed_ops,omitempty"`
	GLEndorsements            []string  `json:"gl_endorsements,omitempty"`
	GLWaiverOfSubrogation     bool      `json:"gl_waiver_of_subrogation,omitempty"`
	GLAdditionalInsureds      []string  `json:"gl_additional_insureds,omitempty"`
	GLHasCondoExclusion       bool      `json:"gl_has_condo_exclusion,omitempty"`
	GLHasProjectAreaExclusion bool      `json:"gl_has_project_area_exclusion,omitempty"`
	GLExpirationDate          string    `json:"gl_expiration_date,omitempty"`
	GLPolicyNotes             string    `json:"gl_policy_notes,omitempty"`
	GLExclusions              string    `json:"gl_exclusions,omitempty"`
	GLClassificationCode      ClassCode `json:"gl_classification_code,omitempty"`
	GLPremiumBasis            string    `json:"gl_premium_basis,omitempty"`
	GLInherentExclusions      string    `json:"gl_inherent_exclusions,omitempty"`

	// Umbrella / excess
	UmbrellaEachOccurrence      *float64 `json:"umbrella_each_occurrence,omitempty"`
	UmbrellaAggregate           *float64 `json:"umbrella_aggregate,omitempty"`
	UmbrellaLimit               *float64 `json:"umbrella_limit,omitempty"`
	UmbrellaFollowForm          bool     `json:"umbrella_follow_form,omitempty"`
	UmbrellaWaiverOfSubrogation bool     `json:"umbrella_waiver_of_subrogation,omitempty"`
	UmbrellaExpirationDate      string   `json:"umbrella_expiration_date,omitempty"`

	// Workers' compensation
	WCEachAccident        *float64 `json:"wc_each_accident,omitempty"`
	WCDiseaseEachEmployee *float64 `json:"wc_disease_each_employee,omitempty"`
	WCDiseasePolicyLimit  *float64 `json:"wc_disease_policy_limit,omitempty"`
	WCWaiverOfSubrogation bool     `json:"wc_waiver_of_subrogation,omitempty"`
	WCWaiverOfExcess      bool     `json:"wc_waiver_of_excess,omitempty"`
	WCExpirationDate      string   `json:"wc_expiration_date,omitempty"`

	// Automobile liability
	AutoCombinedSingleLimit *float64 `json:"auto_combined_single_limit,omitempty"`
	AutoHiredCoverage       bool     `json:"auto_hired_coverage,omitempty"`
	AutoNonOwnedCoverage    bool     `json:"auto_nonowned_coverage,omitempty"`
	AutoExpirationDate      string   `json:"auto_expiration_date,omitempty"`
}

// ClassCode is a GL classification code. Brokers send it as either a JSON
// number or a string; both decode to the digit string.
type ClassCode string

// UnmarshalJSON accepts numbers and strings.
func (c *ClassCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ClassCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("classification code must be a number or string: %w", err)
	}
	*c = ClassCode(n.String())
	return nil
}

// HasUmbrella reports whether the certificate carries any umbrella data.
func (c *COI) HasUmbrella() bool {
	return c.UmbrellaEachOccurrence != nil || c.UmbrellaAggregate != nil ||
		c.UmbrellaLimit != nil || c.UmbrellaExpirationDate != ""
}

// HasWC reports whether the certificate carries any workers' comp data.
func (c *COI) HasWC() bool {
	return c.WCEachAccident != nil || c.WCDiseaseEachEmployee != nil ||
		c.WCDiseasePolicyLimit != nil || c.WCExpirationDate != ""
}

// HasAuto reports whether the certificate carries any auto liability data.
func (c *COI) HasAuto() bool {
	return c.AutoCombinedSingleLimit != nil || c.AutoExpirationDate != ""
}

// UmbrellaOccurrenceLimit returns the umbrella per-occurrence limit, falling
// back to the single stated umbrella limit.
func (c *COI) UmbrellaOccurrenceLimit() *float64 {
	if c.UmbrellaEachOccurrence != nil {
		return c.UmbrellaEachOccurrence
	}
	return c.UmbrellaLimit
}

// UmbrellaAggregateLimit returns the umbrella aggregate, falling back to the
// single stated umbrella limit.
func (c *COI) UmbrellaAggregateLimit() *float64 {
	if c.UmbrellaAggregate != nil {
		return c.UmbrellaAggregate
	}
	return c.UmbrellaLimit
}

// HasGL reports whether the certificate carries any general liability data.
func (c *COI) HasGL() bool {
	return c.GLEachOccurrence != nil || c.GLGeneralAggregate != nil ||
		c.GLProductsCompletedOps != nil || c.GLExpirationDate != ""
}

// PolicyExpiration is one coverage line's expiration date string.
type PolicyExpiration struct {
	Line  CoverageLine
	Field string
	Date  string
}

// Expirations returns the stated expiration dates in GL, umbrella, WC, auto order.
func (c *COI) Expirations() []PolicyExpiration {
	all := []PolicyExpiration{
		{Line: LineGL, Field: "General Liability", Date: c.GLExpirationDate},
		{Line: LineUmbrella, Field: "Umbrella", Date: c.UmbrellaExpirationDate},
		{Line: LineWC, Field: "Workers Compensation", Date: c.WCExpirationDate},
		{Line: LineAuto, Field: "Auto Liability", Date: c.AutoExpirationDate},
	}
	out := make([]PolicyExpiration, 0, len(all))
	for _, e := range all {
		if strings.TrimSpace(e.Date) != "" {
			out = append(out, e)
		}
	}
	return out
}

// EarliestExpiration returns the earliest parseable expiration date.
func (c *COI) EarliestExpiration() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, e := range c.Expirations() {
		t, err := ParsePolicyDate(e.Date)
		if err != nil {
			continue
		}
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	return earliest, found
}

var policyDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// ParsePolicyDate parses a policy date and returns midnight UTC of that day.
func ParsePolicyDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range policyDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized policy date %q", s)
}

// Limit returns a pointer to v, for building certificates in code.
func Limit(v float64) *float64 {
	return &v
}
