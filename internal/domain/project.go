package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ProjectType classifies a project for requirement modifiers.
type ProjectType string

const (
	ProjectStandard ProjectType = "standard"
	ProjectCondo    ProjectType = "condo"
	ProjectHighRise ProjectType = "high_rise"
)

// Normalize trims and lower-cases t so "CONDO" and " condo" match ProjectCondo.
func (t ProjectType) Normalize() ProjectType {
	return ProjectType(strings.ToLower(strings.TrimSpace(string(t))))
}

// Valid reports whether t is unset or one of the known types. Call it on a
// normalized value.
func (t ProjectType) Valid() bool {
	switch t {
	case "", ProjectStandard, ProjectCondo, ProjectHighRise:
		return true
	}
	return false
}

// UnmarshalJSON normalizes the decoded type.
func (t *ProjectType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ProjectType(s).Normalize()
	return nil
}

// Project is a construction project that subcontractors insure against.
type Project struct {
	ID                 string      `json:"id,omitempty"`
	TenantID           string      `json:"tenant_id,omitempty"`
	Name               string      `json:"project_name" validate:"required"`
	Number             string      `json:"project_number,omitempty"`
	GCID               string      `json:"gc_id,omitempty"`
	Type               ProjectType `json:"project_type,omitempty" validate:"omitempty,oneof=standard condo high_rise"`
	AdditionalInsured  []string    `json:"additional_insured,omitempty"`
	HazardousMaterials bool        `json:"hazardous_materials,omitempty"`
	State              string      `json:"state,omitempty"`
	CreatedAt          time.Time   `json:"created_at,omitempty"`
}

// Subcontractor links a subcontracting company to a project and its trades.
type Subcontractor struct {
	ID           string    `json:"id,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	ProjectID    string    `json:"project_id" validate:"required"`
	CompanyName  string    `json:"company_name" validate:"required"`
	ContactEmail string    `json:"contact_email,omitempty" validate:"omitempty,email"`
	BrokerEmail  string    `json:"broker_email,omitempty" validate:"omitempty,email"`
	TradeTypes   []string  `json:"trade_types,omitempty"`
	TradeType    string    `json:"trade_type,omitempty"` // legacy single trade
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Trades returns the normalized union of TradeTypes and the legacy TradeType.
func (s *Subcontractor) Trades() []string {
	all := append([]string{}, s.TradeTypes...)
	if s.TradeType != "" {
		all = append(all, s.TradeType)
	}
	return NormalizeTrades(all)
}

// NormalizeTrades trims, lower-cases, joins words with underscores and dedupes,
// keeping first-seen order.
func NormalizeTrades(trades []string) []string {
	seen := make(map[string]struct{}, len(trades))
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		n := strings.Join(strings.Fields(strings.ToLower(t)), "_")
		n = strings.ReplaceAll(n, "-", "_")
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
