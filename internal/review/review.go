// Package review runs every compliance check against a stored certificate
// and aggregates the findings into a single reviewable ComplianceCheck.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/requirements"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/tradecoverage"
)

// EngineVersion is stamped on every check.
const EngineVersion = "kestrel-1.0"

// Processor aggregates validator, trade coverage and program rule findings.
type Processor struct {
	Validator *compliance.Validator
	Rules     *rules.Engine
	Metrics   *metrics.Metrics

	// StrictTrades fails the check on trades missing from the catalog.
	StrictTrades bool
}

// NewProcessor creates a processor. engine and m may be nil.
func NewProcessor(engine *rules.Engine, m *metrics.Metrics) *Processor {
	return &Processor{
		Validator: compliance.New(),
		Rules:     engine,
		Metrics:   m,
	}
}

// Input contains everything needed to check one certificate.
type Input struct {
	TenantID      string
	TraceID       string
	COI           *domain.COI
	Project       *domain.Project
	Subcontractor *domain.Subcontractor

	// Trades overrides the subcontractor's trades when set.
	Trades    []string
	StartTime time.Time
}

func (in *Input) trades() []string {
	if len(in.Trades) > 0 {
		return domain.NormalizeTrades(in.Trades)
	}
	if in.Subcontractor != nil {
		return in.Subcontractor.Trades()
	}
	return []string{}
}

// Process checks the certificate and returns the aggregated result.
func (p *Processor) Process(ctx context.Context, in *Input) (*domain.ComplianceCheck, error) {
	if in == nil || in.COI == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	start := in.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	trades := in.trades()

	stage := time.Now()
	var set domain.RequirementSet
	if p.StrictTrades {
		var err error
		if set, err = requirements.BuildStrict(in.Project, trades); err != nil {
			return nil, err
		}
	} else {
		set = requirements.Build(in.Project, trades)
	}
	validator := p.Validator
	if validator == nil {
		validator = compliance.New()
	}
	result := validator.ValidateAgainst(in.COI, in.Project, set)
	p.Metrics.ObserveStage("validate", time.Since(stage))

	stage = time.Now()
	coverage := tradecoverage.ValidatePolicyTradeCoverage(in.COI, trades)
	p.Metrics.ObserveStage("trade_coverage", time.Since(stage))

	issues := append(append([]domain.ComplianceIssue{}, result.Issues...), coverage.Issues...)
	warnings := append(append([]domain.ComplianceIssue{}, result.Warnings...), coverage.Warnings...)

	var ruleResults []domain.RuleResult
	if p.Rules != nil && p.Rules.RulesCount() > 0 {
		stage = time.Now()
		projectType := ""
		hazmat := false
		if in.Project != nil {
			projectType = string(in.Project.Type)
			hazmat = in.Project.HazardousMaterials
		}
		var err error
		ruleResults, err = p.Rules.EvaluateAll(ctx, &rules.EvaluateInput{
			COI:                in.COI,
			ProjectType:        projectType,
			Trades:             trades,
			Tier:               set.Tier,
			HazardousMaterials: hazmat,
		})
		if err != nil {
			return nil, fmt.Errorf("program rules: %w", err)
		}
		p.Metrics.ObserveStage("rules", time.Since(stage))

		for _, r := range ruleResults {
			issue, ok := r.Issue()
			if !ok {
				continue
			}
			if issue.Severity.Blocking() {
				issues = append(issues, issue)
			} else {
				warnings = append(warnings, issue)
			}
		}
	}

	check := &domain.ComplianceCheck{
		ID:            uuid.New().String(),
		TenantID:      in.TenantID,
		COIID:         in.COI.ID,
		ProjectID:     in.COI.ProjectID,
		Status:        domain.CheckStatusFor(issues, warnings),
		Compliant:     len(issues) == 0,
		Issues:        issues,
		Warnings:      warnings,
		TradeCoverage: &coverage,
		RuleResults:   ruleResults,
		Requirements:  set,
		CheckedAt:     time.Now().UTC(),
	}
	if in.Project != nil && in.Project.ID != "" {
		check.ProjectID = in.Project.ID
	}
	if in.Subcontractor != nil {
		check.SubcontractorID = in.Subcontractor.ID
	} else {
		check.SubcontractorID = in.COI.SubcontractorID
	}

	summary := domain.TradeCoverageResult{
		Compliant:      check.Compliant,
		Issues:         issues,
		Warnings:       warnings,
		ExcludedTrades: coverage.ExcludedTrades,
		RequiredTrades: trades,
	}
	check.BrokerMessage = tradecoverage.GenerateBrokerTradeMessage(summary, in.COI.InsuredName)
	check.ReviewNotes = tradecoverage.CompileReviewNotes(summary)

	check.Metadata = domain.CheckMetadata{
		TraceID:        in.TraceID,
		TotalMs:        time.Since(start).Milliseconds(),
		RulesEvaluated: len(ruleResults),
		EngineVersion:  EngineVersion,
	}

	p.Metrics.ObserveStage("total", time.Since(start))
	p.Metrics.IncrementOutcome(string(check.Status))
	for _, i := range issues {
		p.Metrics.AddFinding(i.Type, string(i.Severity))
	}
	for _, w := range warnings {
		p.Metrics.AddFinding(w.Type, string(w.Severity))
	}

	return check, nil
}

// ShouldNotify reports whether the broker needs to hear about the check.
func ShouldNotify(check *domain.ComplianceCheck) bool {
	return check.Status == domain.CheckDeficient
}

// Reasons extracts the blocking finding messages from a check.
func Reasons(check *domain.ComplianceCheck) []string {
	var reasons []string
	for _, i := range check.Issues {
		if i.Message != "" {
			reasons = append(reasons, i.Message)
		}
	}
	return reasons
}
