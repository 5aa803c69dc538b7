package schema

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/redbco/ddfserver/internal/ddferrors"
)

// cacheKey identifies one cached (name, version) schema model.
type cacheKey struct {
	name    string
	version string
}

// Loader fetches (and deserialises) the schema model for a resolved
// (name, version), typically backed by the catalog's lookup.
type Loader func(name, version string) (*Model, error)

// Cache keeps read-only Model instances in memory, safe to share across
// concurrently-served requests (spec §5). Concurrent misses for the same
// key are collapsed with singleflight so a burst of requests against a
// freshly-published version doesn't stampede the catalog.
type Cache struct {
	lru    *lru.Cache[cacheKey, *Model]
	group  singleflight.Group
	loader Loader
}

// NewCache builds a schema cache bounded to size entries (spec §6's
// SCHEMA_CACHE_SIZE, default 64).
func NewCache(size int, loader Loader) (*Cache, error) {
	if size <= 0 {
		size = 64
	}
	l, err := lru.New[cacheKey, *Model](size)
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to create schema cache")
	}
	return &Cache{lru: l, loader: loader}, nil
}

// Get returns the cached model for (name, version), loading it via the
// configured Loader on a miss.
func (c *Cache) Get(name, version string) (*Model, error) {
	key := cacheKey{name: name, version: version}
	if m, ok := c.lru.Get(key); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(name+"\x00"+version, func() (interface{}, error) {
		m, err := c.loader(name, version)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

// Invalidate drops the cached entry for (name, version).
func (c *Cache) Invalidate(name, version string) {
	c.lru.Remove(cacheKey{name: name, version: version})
}
