// Package urlcache implements the bounded, TTL-bucketed signed-URL cache
// in front of the object-store gateway (spec component E).
package urlcache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/loistio/loist-mcp/internal/objstore"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries is the default cache size cap from spec §4.E.
const DefaultMaxEntries = 10000

// DefaultSafetyMargin is how long before an entry's real expiry it is
// treated as already expired, per spec §4.E.
const DefaultSafetyMargin = 60 * time.Second

// key identifies one cache slot: (bucket, object-path, expiry-bucket).
type key struct {
	bucket string
	path   string
	bucketN int64
}

type entry struct {
	url    string
	expiry time.Time
}

// Signer is the subset of objstore.ObjectStore the cache needs.
type Signer interface {
	Sign(ctx context.Context, key string, ttl time.Duration, method objstore.Method, opts objstore.SignOptions) (string, error)
}

// Cache is the bounded, mutex-guarded signed-URL cache of spec §4.E.
type Cache struct {
	mu           sync.Mutex
	entries      map[key]*entry
	order        expiryHeap
	maxEntries   int
	safetyMargin time.Duration
	ttl          time.Duration
	now          func() time.Time
	group        singleflight.Group
}

// New builds a Cache with the given TTL (the configured signed-URL TTL
// minutes from spec §6). The signer is supplied on each Get call.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries:      make(map[key]*entry),
		maxEntries:   DefaultMaxEntries,
		safetyMargin: DefaultSafetyMargin,
		ttl:          ttl,
		now:          time.Now,
	}
}

// WithClock overrides the cache's clock, for deterministic tests of
// expiry-bucket and eviction behavior.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// WithMaxEntries overrides the cache's size cap, for tests exercising
// LRU-by-soonest-expiry eviction without creating 10000 entries.
func (c *Cache) WithMaxEntries(n int) *Cache {
	c.maxEntries = n
	return c
}

// Get returns a signed URL for (bucket, path), generating and caching one
// via signer.Sign on a miss or expiry. Concurrent callers for the same key
// within one expiry bucket are coalesced into a single Sign call.
func (c *Cache) Get(ctx context.Context, signer Signer, bucket, path string, method objstore.Method, opts objstore.SignOptions) (string, error) {
	bucketN := c.now().Unix() / int64(c.ttl.Seconds())
	k := key{bucket: bucket, path: path, bucketN: bucketN}

	if url, ok := c.lookup(k); ok {
		return url, nil
	}

	sfKey := bucket + "|" + path + "|" + string(method)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		if url, ok := c.lookup(k); ok {
			return url, nil
		}
		url, err := signer.Sign(ctx, path, c.ttl, method, opts)
		if err != nil {
			return "", err
		}
		c.store(k, url)
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) lookup(k key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiry.Add(-c.safetyMargin)) {
		return "", false
	}
	return e.url, true
}

func (c *Cache) store(k key, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry{url: url, expiry: c.now().Add(c.ttl)}
	c.entries[k] = e
	heap.Push(&c.order, heapItem{key: k, entry: e})

	for len(c.entries) > c.maxEntries {
		evicted := heap.Pop(&c.order).(heapItem)
		// A key may have been re-signed since this heap item was pushed;
		// only evict if it's still the current entry for that key.
		if current, ok := c.entries[evicted.key]; ok && current == evicted.entry {
			delete(c.entries, evicted.key)
		}
	}
}

// Len reports the current number of cached entries, for tests/diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// heapItem pairs a key with its entry for the soonest-expiry min-heap.
type heapItem struct {
	key   key
	entry *entry
}

// expiryHeap orders cache entries by soonest expiry first, so overflow
// eviction (spec §4.E) always removes the entry closest to expiring.
type expiryHeap []heapItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].entry.expiry.Before(h[j].entry.expiry) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(heapItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
