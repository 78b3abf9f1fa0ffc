package cachestorage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Keys delivers the stored requests in enumeration order. A nil req lists
// every entry, otherwise only the entries matching req. Entries whose
// metadata cannot be decoded are doomed and left out.
func (c *Cache) Keys(ctx context.Context, req *Request, params QueryParams, cb func([]Request, error)) {
	c.schedule(func() {
		start := time.Now()
		keys, err := c.keysImpl(req, params)
		c.finish("keys", start, err, zap.Int("num", len(keys)))
		deliver(ctx, func() { cb(keys, publicErr(err)) })
	})
}

func (c *Cache) keysImpl(req *Request, params QueryParams) ([]Request, error) {
	results, err := c.queryCache(req, params, queryOpts{mode: queryRequests})
	if err != nil {
		return nil, err
	}
	keys := make([]Request, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.request)
	}
	return keys, nil
}
