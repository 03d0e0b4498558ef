// Package cache provides an in-process read-through cache over the foreign
// key index for load-tolerant paths such as availability checks. Mutation
// flows must keep reading the index directly: a cached answer may lag the
// store by up to the configured TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/neomorfeo/registriq/internal/domain"
)

// Index decorates a domain.ForeignKeyIndex with a TTL cache. Only present
// entries are cached; absence is always re-checked against the backing index
// so a freshly created name becomes visible immediately. Staleness is bounded
// the other way: an entry deleted after being cached can keep resolving until
// its cache slot expires, but never past its recorded deletion time.
type Index struct {
	backing domain.ForeignKeyIndex
	ttl     time.Duration
	entries sync.Map // key string -> cached
}

type cached struct {
	entry    domain.ForeignKeyEntry
	cachedAt time.Time
}

// NewIndex wraps the backing index with the given TTL.
func NewIndex(backing domain.ForeignKeyIndex, ttl time.Duration) *Index {
	return &Index{backing: backing, ttl: ttl}
}

func cacheKey(kind domain.Kind, name string) string {
	return string(kind) + "/" + name
}

// Load returns the live index entry for (kind, name), serving from cache when
// a fresh enough entry is available.
func (i *Index) Load(ctx context.Context, kind domain.Kind, name string, now time.Time) (domain.ForeignKeyEntry, error) {
	if entry, ok := i.lookup(kind, name, now); ok {
		return entry, nil
	}

	entry, err := i.backing.Load(ctx, kind, name, now)
	if err != nil {
		return domain.ForeignKeyEntry{}, err
	}

	i.entries.Store(cacheKey(kind, name), cached{entry: entry, cachedAt: now})
	return entry, nil
}

// LoadBatch returns the live index entries for the given names, reading
// cached names locally and fetching only the misses from the backing index.
func (i *Index) LoadBatch(ctx context.Context, kind domain.Kind, names []string, now time.Time) (map[string]domain.ForeignKeyEntry, error) {
	result := make(map[string]domain.ForeignKeyEntry, len(names))
	var misses []string
	for _, name := range names {
		if entry, ok := i.lookup(kind, name, now); ok {
			result[name] = entry
		} else {
			misses = append(misses, name)
		}
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := i.backing.LoadBatch(ctx, kind, misses, now)
	if err != nil {
		return nil, err
	}

	for name, entry := range fetched {
		i.entries.Store(cacheKey(kind, name), cached{entry: entry, cachedAt: now})
		result[name] = entry
	}

	return result, nil
}

// lookup returns a cached entry if it is still within its TTL and still live
// at the caller's clock. Expired slots are dropped eagerly.
func (i *Index) lookup(kind domain.Kind, name string, now time.Time) (domain.ForeignKeyEntry, bool) {
	key := cacheKey(kind, name)
	v, ok := i.entries.Load(key)
	if !ok {
		return domain.ForeignKeyEntry{}, false
	}

	c := v.(cached)
	if now.Sub(c.cachedAt) >= i.ttl || now.Before(c.cachedAt) {
		i.entries.Delete(key)
		return domain.ForeignKeyEntry{}, false
	}
	if now.Before(c.entry.CreationTime) || !now.Before(c.entry.DeletionTime) {
		return domain.ForeignKeyEntry{}, false
	}

	return c.entry, true
}
