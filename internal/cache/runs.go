package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// runKeyPrefix namespaces cached runs inside a tenant.
const runKeyPrefix = "run:"

// byteStore is the raw key/value surface every cache implementation shares.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

// RunKey returns the cache key of a run.
func RunKey(runID string) string {
	return runKeyPrefix + runID
}

func getRun(ctx context.Context, s byteStore, tenantID, runID string) (*domain.Run, error) {
	data, err := s.Get(ctx, tenantID, RunKey(runID))
	if err != nil || data == nil {
		return nil, err
	}

	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode cached run %s: %w", runID, err)
	}
	return &run, nil
}

func setRun(ctx context.Context, s byteStore, tenantID string, run *domain.Run, ttl time.Duration) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return s.Set(ctx, tenantID, RunKey(run.ID), data, ttl)
}
