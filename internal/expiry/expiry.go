// Package expiry finds policies approaching expiration and publishes renewal reminders.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// DefaultDedupeWindow is how long a reminder for one policy suppresses repeats.
const DefaultDedupeWindow = 24 * time.Hour

var ErrInvalidWindow = errors.New("window must be at least one day")

// Policy is one coverage line of a stored certificate that expires within a window.
type Policy struct {
	COIID           string              `json:"coiId"`
	ProjectID       string              `json:"projectId,omitempty"`
	SubcontractorID string              `json:"subcontractorId,omitempty"`
	InsuredName     string              `json:"insuredName,omitempty"`
	BrokerEmail     string              `json:"brokerEmail,omitempty"`
	Line            domain.CoverageLine `json:"line"`
	Field           string              `json:"field"`
	ExpirationDate  string              `json:"expirationDate"`
	DaysUntilExpiry int                 `json:"daysUntilExpiry"`
	Expired         bool                `json:"expired"`
}

// Service scans the repository for expiring policies.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Metrics

	// Now is the clock; tests pin it.
	Now func() time.Time

	// DedupeWindow bounds reminders to one per policy per window.
	DedupeWindow time.Duration
}

// NewService creates a new expiry service. Cache, bus and metrics may be nil.
func NewService(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, m *metrics.Metrics) *Service {
	return &Service{
		repo:         repo,
		cache:        cache,
		bus:          eventBus,
		metrics:      m,
		Now:          time.Now,
		DedupeWindow: DefaultDedupeWindow,
	}
}

func (s *Service) today() time.Time {
	now := s.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Upcoming lists every policy line expiring within windowDays of today,
// already-expired ones included, ordered by days remaining then COI.
func (s *Service) Upcoming(ctx context.Context, tenantID string, windowDays int) ([]Policy, error) {
	if windowDays <= 0 {
		return nil, ErrInvalidWindow
	}

	today := s.today()
	cois, err := s.repo.ListCOIsExpiringBefore(ctx, tenantID, today.AddDate(0, 0, windowDays))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring certificates: %w", err)
	}

	var out []Policy
	for _, coi := range cois {
		for _, e := range coi.Expirations() {
			exp, err := domain.ParsePolicyDate(e.Date)
			if err != nil {
				continue
			}
			days := compliance.DaysUntil(today, exp)
			if days > windowDays {
				continue
			}
			out = append(out, Policy{
				COIID:           coi.ID,
				ProjectID:       coi.ProjectID,
				SubcontractorID: coi.SubcontractorID,
				InsuredName:     coi.InsuredName,
				BrokerEmail:     coi.BrokerEmail,
				Line:            e.Line,
				Field:           e.Field,
				ExpirationDate:  exp.Format("2006-01-02"),
				DaysUntilExpiry: days,
				Expired:         days <= 0,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysUntilExpiry != out[j].DaysUntilExpiry {
			return out[i].DaysUntilExpiry < out[j].DaysUntilExpiry
		}
		return out[i].COIID < out[j].COIID
	})

	return out, nil
}

// ReminderKey identifies one reminder: a coverage line of a certificate
// expiring on a given date.
func ReminderKey(p Policy) string {
	return fmt.Sprintf("%s:%s:%s", p.COIID, p.Line, p.ExpirationDate)
}

// Notify publishes one coi.expiring event per policy, skipping policies
// already reminded within the dedupe window. A claim is released when its
// publish fails so the next scan retries it. Returns how many were sent.
func (s *Service) Notify(ctx context.Context, tenantID string, policies []Policy) (int, error) {
	if s.bus == nil {
		return 0, fmt.Errorf("event bus is not configured")
	}

	sent := 0
	defer func() { s.metrics.IncrementExpiryNotifications(sent) }()

	for _, p := range policies {
		key := ReminderKey(p)
		if s.cache != nil {
			claimed, err := s.cache.ClaimReminder(ctx, tenantID, key, s.DedupeWindow)
			if err != nil {
				return sent, fmt.Errorf("failed to claim reminder %s: %w", key, err)
			}
			if !claimed {
				continue
			}
		}

		event := domain.ExpiringEvent{
			COIID:           p.COIID,
			ProjectID:       p.ProjectID,
			SubcontractorID: p.SubcontractorID,
			InsuredName:     p.InsuredName,
			BrokerEmail:     p.BrokerEmail,
			Line:            p.Line,
			Policy:          p.Field,
			ExpirationDate:  p.ExpirationDate,
			DaysUntilExpiry: p.DaysUntilExpiry,
		}
		if err := bus.PublishEvent(ctx, s.bus, tenantID, domain.TopicCOIExpiring, event); err != nil {
			if s.cache != nil {
				if relErr := s.cache.ReleaseReminder(ctx, tenantID, key); relErr != nil {
					err = errors.Join(err, fmt.Errorf("failed to release reminder %s: %w", key, relErr))
				}
			}
			return sent, err
		}
		sent++
	}

	return sent, nil
}

// Scan runs Upcoming then Notify for one tenant.
func (s *Service) Scan(ctx context.Context, tenantID string, windowDays int) (int, error) {
	start := time.Now()
	policies, err := s.Upcoming(ctx, tenantID, windowDays)
	if err != nil {
		return 0, err
	}
	sent, err := s.Notify(ctx, tenantID, policies)
	s.metrics.ObserveStage("expiry_scan", time.Since(start))
	return sent, err
}

// Run scans every tenant on each tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context, tenants []string, windowDays int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, tenantID := range tenants {
			sent, err := s.Scan(ctx, tenantID, windowDays)
			if err != nil {
				slog.Error("expiry scan failed",
					"tenant_id", tenantID,
					"error", err,
				)
				continue
			}
			if sent > 0 {
				slog.Info("expiry reminders published",
					"tenant_id", tenantID,
					"count", sent,
				)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
