package review

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newServiceFixture(t *testing.T) (*Service, domain.Repository, *bus.ChannelBus) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "review-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	svc := NewService(repo, cache.NewLRUCache(100), eventBus, NewProcessor(nil, nil))
	return svc, repo, eventBus
}

func TestServiceCheckStored(t *testing.T) {
	svc, repo, eventBus := newServiceFixture(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	if err := repo.SaveProject(ctx, tenantID, testProject()); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	sub := &domain.Subcontractor{
		ID:          "sub-001",
		ProjectID:   "proj-001",
		CompanyName: "Peak Roofing",
		BrokerEmail: "broker@example.com",
		TradeTypes:  []string{"roofing"},
	}
	if err := repo.SaveSubcontractor(ctx, tenantID, sub); err != nil {
		t.Fatalf("SaveSubcontractor failed: %v", err)
	}

	// Tier 1 limits against a tier 3 trade
	coi := paintingCOI()
	coi.SubcontractorID = "sub-001"
	if err := repo.SaveCOI(ctx, tenantID, coi); err != nil {
		t.Fatalf("SaveCOI failed: %v", err)
	}

	var mu sync.Mutex
	topics := map[string]domain.CheckEvent{}
	var wg sync.WaitGroup
	wg.Add(2)
	for _, topic := range []string{domain.TopicCheckCompleted, domain.TopicCOIDeficient} {
		_, err := eventBus.Subscribe(ctx, tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			event, err := bus.DecodeEvent[domain.CheckEvent](msg)
			if err != nil {
				return err
			}
			mu.Lock()
			topics[msg.Topic] = event
			mu.Unlock()
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	check, err := svc.CheckStored(ctx, tenantID, coi.ID, "trace-xyz")
	if err != nil {
		t.Fatalf("CheckStored failed: %v", err)
	}
	if check.Status != domain.CheckDeficient {
		t.Fatalf("expected deficient, got %s", check.Status)
	}
	if check.SubcontractorID != "sub-001" || check.Requirements.Tier != 3 {
		t.Errorf("expected roofing requirements for sub-001, got tier %d sub %q", check.Requirements.Tier, check.SubcontractorID)
	}
	if check.Metadata.TraceID != "trace-xyz" {
		t.Errorf("expected trace id carried, got %q", check.Metadata.TraceID)
	}

	stored, err := repo.GetLatestCheck(ctx, tenantID, coi.ID)
	if err != nil {
		t.Fatalf("GetLatestCheck failed: %v", err)
	}
	if stored.ID != check.ID {
		t.Errorf("expected persisted check %s, got %s", check.ID, stored.ID)
	}

	cached, _ := svc.Cache.GetCheck(ctx, tenantID, coi.ID)
	if cached == nil || cached.ID != check.ID {
		t.Errorf("expected check cached")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for check events")
	}

	mu.Lock()
	defer mu.Unlock()
	deficient := topics[domain.TopicCOIDeficient]
	if deficient.BrokerEmail != "broker@example.com" {
		t.Errorf("expected subcontractor broker email, got %q", deficient.BrokerEmail)
	}
	if deficient.BrokerMessage == "" {
		t.Error("expected broker message on deficiency event")
	}
	if len(deficient.Reasons) != len(check.Issues) {
		t.Errorf("expected one reason per issue, got %d for %d", len(deficient.Reasons), len(check.Issues))
	}

	completed := topics[domain.TopicCheckCompleted]
	if completed.IssueCount != len(check.Issues) {
		t.Errorf("issue count mismatch")
	}
	if completed.Reasons != nil {
		t.Errorf("expected reasons only on the deficiency event, got %v", completed.Reasons)
	}
	total := 0
	for _, n := range completed.Severities {
		total += n
	}
	if total != len(check.Issues)+len(check.Warnings) {
		t.Errorf("expected severities to cover %d findings, got %d", len(check.Issues)+len(check.Warnings), total)
	}
	if completed.Severities[domain.SeverityError] == 0 {
		t.Errorf("expected error findings counted, got %v", completed.Severities)
	}
}

func TestServiceCheckStoredMissing(t *testing.T) {
	svc, _, _ := newServiceFixture(t)

	_, err := svc.CheckStored(context.Background(), "tenant-001", "nope", "")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceLatest(t *testing.T) {
	svc, repo, _ := newServiceFixture(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	// Certificate without a stored project falls back to standard requirements
	coi := paintingCOI()
	coi.ProjectID = "proj-unknown"
	if err := repo.SaveCOI(ctx, tenantID, coi); err != nil {
		t.Fatalf("SaveCOI failed: %v", err)
	}

	if _, err := svc.Latest(ctx, tenantID, coi.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound before any check, got %v", err)
	}

	check, err := svc.CheckStored(ctx, tenantID, coi.ID, "")
	if err != nil {
		t.Fatalf("CheckStored failed: %v", err)
	}

	// Evict from cache; Latest falls back to the repository and repopulates
	if err := svc.Cache.Delete(ctx, tenantID, "check:"+coi.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	latest, err := svc.Latest(ctx, tenantID, coi.ID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != check.ID {
		t.Errorf("expected %s, got %s", check.ID, latest.ID)
	}
	if cached, _ := svc.Cache.GetCheck(ctx, tenantID, coi.ID); cached == nil {
		t.Error("expected cache repopulated")
	}
}
