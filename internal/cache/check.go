package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrTenantRequired is returned by every cache operation called without a tenant.
var ErrTenantRequired = errors.New("tenantID is required")

type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

// scopedKey prefixes key with its tenant so tenants never share entries.
func scopedKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	return tenantID + ":" + key, nil
}

func checkKey(coiID string) string {
	return "check:" + coiID
}

func reminderKey(key string) string {
	return "reminder:" + key
}

func loadCheck(ctx context.Context, s byteStore, tenantID, coiID string) (*domain.ComplianceCheck, error) {
	data, err := s.Get(ctx, tenantID, checkKey(coiID))
	if err != nil || data == nil {
		return nil, err
	}

	var check domain.ComplianceCheck
	if err := json.Unmarshal(data, &check); err != nil {
		return nil, fmt.Errorf("failed to decode cached check: %w", err)
	}
	return &check, nil
}

func storeCheck(ctx context.Context, s byteStore, tenantID, coiID string, check *domain.ComplianceCheck, ttl time.Duration) error {
	if check == nil {
		return fmt.Errorf("check is required")
	}
	data, err := json.Marshal(check)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, checkKey(coiID), data, ttl)
}
