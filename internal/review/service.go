package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// DefaultCacheTTL applies when Service.CacheTTL is zero.
const DefaultCacheTTL = 10 * time.Minute

// Service checks stored certificates end to end: it loads the certificate
// with its project and subcontractor, processes it, then persists, caches
// and announces the result.
type Service struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Processor *Processor
	CacheTTL  time.Duration
}

// NewService wires a Service. cache and eventBus may be nil.
func NewService(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, proc *Processor) *Service {
	return &Service{
		Repo:      repo,
		Cache:     cache,
		Bus:       eventBus,
		Processor: proc,
		CacheTTL:  DefaultCacheTTL,
	}
}

// CheckStored runs a compliance check on a stored certificate.
// A missing project or subcontractor is tolerated; a missing certificate is not.
func (s *Service) CheckStored(ctx context.Context, tenantID, coiID, traceID string) (*domain.ComplianceCheck, error) {
	start := time.Now()

	coi, err := s.Repo.GetCOI(ctx, tenantID, coiID)
	if err != nil {
		return nil, fmt.Errorf("load coi %s: %w", coiID, err)
	}

	var project *domain.Project
	if coi.ProjectID != "" {
		project, err = s.Repo.GetProject(ctx, tenantID, coi.ProjectID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load project %s: %w", coi.ProjectID, err)
		}
	}

	var sub *domain.Subcontractor
	if coi.SubcontractorID != "" {
		sub, err = s.Repo.GetSubcontractor(ctx, tenantID, coi.SubcontractorID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load subcontractor %s: %w", coi.SubcontractorID, err)
		}
	}

	check, err := s.Processor.Process(ctx, &Input{
		TenantID:      tenantID,
		TraceID:       traceID,
		COI:           coi,
		Project:       project,
		Subcontractor: sub,
		StartTime:     start,
	})
	if err != nil {
		return nil, err
	}

	if err := s.Repo.SaveCheck(ctx, tenantID, check); err != nil {
		return nil, fmt.Errorf("save check: %w", err)
	}

	if s.Cache != nil {
		if err := s.Cache.SetCheck(ctx, tenantID, coi.ID, check, s.ttl()); err != nil {
			slog.Warn("failed to cache check",
				"coi_id", coi.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	s.announce(ctx, tenantID, check, coi, sub)
	return check, nil
}

// Latest returns the most recent check of a certificate, from cache when possible.
func (s *Service) Latest(ctx context.Context, tenantID, coiID string) (*domain.ComplianceCheck, error) {
	if s.Cache != nil {
		check, err := s.Cache.GetCheck(ctx, tenantID, coiID)
		if err != nil {
			slog.Warn("check cache read failed", "coi_id", coiID, "error", err)
		}
		if check != nil {
			return check, nil
		}
	}

	check, err := s.Repo.GetLatestCheck(ctx, tenantID, coiID)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		_ = s.Cache.SetCheck(ctx, tenantID, coiID, check, s.ttl())
	}
	return check, nil
}

func (s *Service) ttl() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return DefaultCacheTTL
}

// announce publishes check.completed, plus coi.deficient for deficient checks.
// Publish failures are logged; the check is already persisted.
func (s *Service) announce(ctx context.Context, tenantID string, check *domain.ComplianceCheck, coi *domain.COI, sub *domain.Subcontractor) {
	if s.Bus == nil {
		return
	}

	brokerEmail := coi.BrokerEmail
	if brokerEmail == "" && sub != nil {
		brokerEmail = sub.BrokerEmail
	}

	event := domain.CheckEvent{
		CheckID:         check.ID,
		COIID:           check.COIID,
		ProjectID:       check.ProjectID,
		SubcontractorID: check.SubcontractorID,
		BrokerEmail:     brokerEmail,
		Status:          check.Status,
		IssueCount:      len(check.Issues),
		WarningCount:    len(check.Warnings),
		Severities:      domain.CountBySeverity(check.Issues, check.Warnings),
	}

	if err := bus.PublishEvent(ctx, s.Bus, tenantID, domain.TopicCheckCompleted, event); err != nil {
		slog.Error("failed to publish check result",
			"check_id", check.ID,
			"error", err,
		)
	}

	if ShouldNotify(check) {
		event.BrokerMessage = check.BrokerMessage
		event.Reasons = Reasons(check)
		if err := bus.PublishEvent(ctx, s.Bus, tenantID, domain.TopicCOIDeficient, event); err != nil {
			slog.Error("failed to publish deficiency",
				"check_id", check.ID,
				"error", err,
			)
		}
	}
}
