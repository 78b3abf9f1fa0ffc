package mem_cache

import (
	"sync"
	"sync/atomic"

	"github.com/pmkol/cachestorage/pkg/cache"
)

// MemCache is a cache.RecordStore that keeps records in memory.
type MemCache struct {
	closed uint32

	mu sync.RWMutex
	m  map[string]*cache.Record
}

var _ cache.RecordStore = (*MemCache)(nil)

func NewMemCache() *MemCache {
	return &MemCache{m: make(map[string]*cache.Record)}
}

// NewBackend returns a memory-only cache.Backend. Its size is computed by
// enumerating entries.
func NewBackend(opts cache.StoreOpts) (*cache.StoreBackend, error) {
	opts.EnumerateSize = true
	return cache.NewStoreBackend(NewMemCache(), opts)
}

func (c *MemCache) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

func (c *MemCache) Load(key string) (*cache.Record, error) {
	if c.isClosed() {
		return nil, cache.ErrClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.m[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return r, nil
}

// Save keeps r. r and its streams must not be modified afterwards.
func (c *MemCache) Save(r *cache.Record) error {
	if c.isClosed() {
		return cache.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[r.Key] = r
	return nil
}

func (c *MemCache) Remove(key string) error {
	if c.isClosed() {
		return cache.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; !ok {
		return cache.ErrNotFound
	}
	delete(c.m, key)
	return nil
}

func (c *MemCache) List() ([]cache.RecordInfo, error) {
	if c.isClosed() {
		return nil, cache.ErrClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	infos := make([]cache.RecordInfo, 0, len(c.m))
	for k, r := range c.m {
		infos = append(infos, cache.RecordInfo{Key: k, Seq: r.Seq, Size: r.Size()})
	}
	return infos, nil
}

// Close drops all records.
func (c *MemCache) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		c.mu.Lock()
		c.m = nil
		c.mu.Unlock()
	}
	return nil
}

func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
