// Package worker checks submitted certificates asynchronously from the EventBus.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/review"
)

var ErrNoTenants = errors.New("worker requires at least one tenant")

// Worker consumes coi.submitted events and runs a compliance check for each.
type Worker struct {
	bus     domain.EventBus
	service *review.Service
	metrics *metrics.Metrics

	subscriptions []domain.Subscription
	sem           chan struct{}
	mu            sync.Mutex
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string

	// WorkerCount bounds concurrent checks across all tenants
	WorkerCount int
}

// NewWorker creates a new async worker. m may be nil.
func NewWorker(eventBus domain.EventBus, service *review.Service, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     eventBus,
		service: service,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return ErrNoTenants
	}

	count := cfg.WorkerCount
	if count <= 0 {
		count = 5
	}
	w.sem = make(chan struct{}, count)

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", count,
	)

	return nil
}

// startTenantWorker subscribes to certificate submissions for one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCOISubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCOISubmitted,
	)

	return nil
}

// dispatch hands the message to a bounded goroutine so a slow check does
// not stall the subscription.
func (w *Worker) dispatch(tenantID string, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.sem
		return context.Canceled
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.processSubmission(w.ctx, tenantID, msg)
	}()
	return nil
}

// processSubmission checks one submitted certificate.
func (w *Worker) processSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	event, err := bus.DecodeEvent[domain.COISubmittedEvent](msg)
	if err != nil {
		slog.Error("failed to parse submission",
			"message_id", msg.ID,
			"error", err,
		)
		w.metrics.IncrementWorker("invalid")
		return err
	}

	slog.Debug("processing certificate",
		"coi_id", event.COIID,
		"tenant_id", tenantID,
		"message_id", msg.ID,
	)

	check, err := w.service.CheckStored(ctx, tenantID, event.COIID, msg.ID)
	if err != nil {
		slog.Error("compliance check failed",
			"coi_id", event.COIID,
			"tenant_id", tenantID,
			"error", err,
		)
		w.metrics.IncrementWorker("error")
		return err
	}

	w.metrics.IncrementWorker("ok")
	slog.Info("certificate checked",
		"coi_id", event.COIID,
		"tenant_id", tenantID,
		"check_id", check.ID,
		"status", check.Status,
		"issues", len(check.Issues),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers and waits for in-flight checks.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
