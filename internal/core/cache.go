// Package core defines the ports between the maintainer-brief services and their adapters.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
// The core defines the interface and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// SuccessRecord is what the gate caches about a succeeded job.
type SuccessRecord struct {
	JobID     string
	CreatedAt time.Time
}

// RecentSuccessCache fronts the job store lookup for "has this fingerprint already succeeded".
// The database remains authoritative; a cache miss or error always falls through to it.
type RecentSuccessCache struct {
	cache CacheRepository
	ttl   time.Duration
}

// NewRecentSuccessCache creates a RecentSuccessCache. A nil cache yields a cache that never hits.
func NewRecentSuccessCache(cache CacheRepository, ttl time.Duration) *RecentSuccessCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RecentSuccessCache{cache: cache, ttl: ttl}
}

// Lookup returns the cached success for (repoID, fingerprint), if any.
func (c *RecentSuccessCache) Lookup(ctx context.Context, repoID, fingerprint string) (*SuccessRecord, error) {
	if c == nil || c.cache == nil {
		return nil, nil
	}
	raw, err := c.cache.Get(ctx, successKey(repoID, fingerprint))
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	return decodeSuccess(raw)
}

// Remember records a succeeded job. The entry expires after the gate window.
func (c *RecentSuccessCache) Remember(ctx context.Context, repoID, fingerprint string, rec SuccessRecord) error {
	if c == nil || c.cache == nil || rec.JobID == "" {
		return nil
	}
	return c.cache.Set(ctx, successKey(repoID, fingerprint), encodeSuccess(rec), c.ttl)
}

// Forget removes a cached success.
func (c *RecentSuccessCache) Forget(ctx context.Context, repoID, fingerprint string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	_, err := c.cache.Delete(ctx, successKey(repoID, fingerprint))
	return err
}

func successKey(repoID, fingerprint string) string {
	return "gate:success:" + repoID + ":" + fingerprint
}

// encodeSuccess stores "<job id>|<created_at RFC3339>". Undecodable entries are treated as misses.
func encodeSuccess(rec SuccessRecord) []byte {
	return []byte(rec.JobID + "|" + rec.CreatedAt.UTC().Format(time.RFC3339Nano))
}

func decodeSuccess(raw []byte) (*SuccessRecord, error) {
	s := string(raw)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != '|' {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, s[i+1:])
		if err != nil {
			return nil, nil
		}
		return &SuccessRecord{JobID: s[:i], CreatedAt: ts}, nil
	}
	return nil, nil
}
