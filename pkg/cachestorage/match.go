package cachestorage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Match delivers the first stored response matching req, or ErrNotFound.
// A non-empty body is copied into a new blob of the blob context.
func (c *Cache) Match(ctx context.Context, req *Request, params QueryParams, cb func(*Response, error)) {
	c.schedule(func() {
		start := time.Now()
		resp, err := c.matchImpl(req, params)
		c.finish("match", start, err, zap.String("url", req.URL))
		if ctx.Err() != nil {
			c.releaseBodies(resp)
			return
		}
		cb(resp, publicErr(err))
	})
}

func (c *Cache) matchImpl(req *Request, params QueryParams) (*Response, error) {
	results, err := c.queryCache(req, params, queryOpts{mode: queryResponses, strict: true, limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0].response, nil
}

// MatchAll delivers every stored response matching req. A nil req matches
// all entries. No match is not an error.
func (c *Cache) MatchAll(ctx context.Context, req *Request, params QueryParams, cb func([]*Response, error)) {
	c.schedule(func() {
		start := time.Now()
		resps, err := c.matchAllImpl(req, params)
		c.finish("match_all", start, err, zap.Int("num", len(resps)))
		if ctx.Err() != nil {
			c.releaseBodies(resps...)
			return
		}
		cb(resps, publicErr(err))
	})
}

func (c *Cache) matchAllImpl(req *Request, params QueryParams) ([]*Response, error) {
	results, err := c.queryCache(req, params, queryOpts{mode: queryResponses})
	if err != nil {
		return nil, err
	}
	resps := make([]*Response, 0, len(results))
	for _, r := range results {
		resps = append(resps, r.response)
	}
	return resps, nil
}

// releaseBodies drops the blobs of responses nobody will read.
func (c *Cache) releaseBodies(resps ...*Response) {
	for _, r := range resps {
		if r != nil && r.Body != nil && c.opts.BlobContext != nil {
			c.opts.BlobContext.Release(r.BlobUUID)
		}
	}
}
