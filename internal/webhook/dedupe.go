package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// Deduper remembers provider message IDs so gateway retries are processed once.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduper returns a deduper backed by rdb. A nil client disables dedupe.
func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Deduper{rdb: rdb, ttl: ttl}
}

// Claim returns true the first time a message ID is seen for a tenant.
func (d *Deduper) Claim(ctx context.Context, tenantID uuid.UUID, providerMessageID string) (bool, error) {
	if d == nil || d.rdb == nil || providerMessageID == "" {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, dedupeKey(tenantID, providerMessageID), 1, d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("claim provider message: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so a failed delivery can be retried by the gateway.
func (d *Deduper) Release(ctx context.Context, tenantID uuid.UUID, providerMessageID string) error {
	if d == nil || d.rdb == nil || providerMessageID == "" {
		return nil
	}
	return d.rdb.Del(ctx, dedupeKey(tenantID, providerMessageID)).Err()
}

func dedupeKey(tenantID uuid.UUID, providerMessageID string) string {
	return fmt.Sprintf("wa:msg:%s:%s", tenantID, providerMessageID)
}
