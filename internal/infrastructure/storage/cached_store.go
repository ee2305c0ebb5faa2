package storage

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// CachedStore remembers fingerprints known to exist so repeated scans of the
// same group skip the database round trip. Only positive answers are cached:
// a fingerprint never disappears from the ledger, so a hit can never be stale.
type CachedStore struct {
	ports.Store
	seen *cache.Cache
}

var _ ports.Store = (*CachedStore)(nil)

// NewCachedStore wraps store with a seen-set that forgets entries after ttl.
func NewCachedStore(store ports.Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: store,
		seen:  cache.New(ttl, 2*ttl),
	}
}

func (c *CachedStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	if _, ok := c.seen.Get(fingerprint); ok {
		return true, nil
	}
	exists, err := c.Store.Exists(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	if exists {
		c.seen.SetDefault(fingerprint, struct{}{})
	}
	return exists, nil
}

func (c *CachedStore) RecordObservation(ctx context.Context, obs domain.Observation) (bool, error) {
	inserted, err := c.Store.RecordObservation(ctx, obs)
	if err != nil {
		return false, err
	}
	c.seen.SetDefault(obs.Fingerprint, struct{}{})
	return inserted, nil
}

// CachedFingerprints reports how many fingerprints are currently held in memory.
func (c *CachedStore) CachedFingerprints() int {
	return c.seen.ItemCount()
}
