package cachestorage

import (
	"context"
	"sync"
)

// Blocking forms of the Cache operations. They return ctx.Err() if ctx is
// done before the result is delivered; the operation itself still runs.

func (c *Cache) MatchSync(ctx context.Context, req *Request, params QueryParams) (*Response, error) {
	resps, err := c.waitResponses(ctx, func(cb func([]*Response, error)) {
		c.Match(ctx, req, params, func(resp *Response, err error) {
			if resp == nil {
				cb(nil, err)
				return
			}
			cb([]*Response{resp}, err)
		})
	})
	if len(resps) == 0 {
		return nil, err
	}
	return resps[0], err
}

func (c *Cache) MatchAllSync(ctx context.Context, req *Request, params QueryParams) ([]*Response, error) {
	return c.waitResponses(ctx, func(cb func([]*Response, error)) {
		c.MatchAll(ctx, req, params, cb)
	})
}

// waitResponses waits for the responses of a match. If ctx is done first,
// bodies delivered later are released.
func (c *Cache) waitResponses(ctx context.Context, start func(cb func([]*Response, error))) ([]*Response, error) {
	type res struct {
		resps []*Response
		err   error
	}
	var (
		mu        sync.Mutex
		abandoned bool
	)
	ch := make(chan res, 1)
	start(func(resps []*Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			c.releaseBodies(resps...)
			return
		}
		ch <- res{resps, err}
	})
	select {
	case r := <-ch:
		return r.resps, r.err
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		mu.Unlock()
		select {
		case r := <-ch:
			c.releaseBodies(r.resps...)
		default:
		}
		return nil, ctx.Err()
	}
}

func (c *Cache) KeysSync(ctx context.Context, req *Request, params QueryParams) ([]Request, error) {
	type res struct {
		keys []Request
		err  error
	}
	ch := make(chan res, 1)
	c.Keys(ctx, req, params, func(keys []Request, err error) { ch <- res{keys, err} })
	select {
	case r := <-ch:
		return r.keys, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) BatchSync(ctx context.Context, ops []BatchOperation) error {
	return waitErr(ctx, func(cb func(error)) { c.BatchOperation(ctx, ops, cb) })
}

func (c *Cache) PutSync(ctx context.Context, req *Request, resp *Response) error {
	return waitErr(ctx, func(cb func(error)) { c.Put(ctx, req, resp, cb) })
}

func (c *Cache) DeleteSync(ctx context.Context, req *Request, params QueryParams) error {
	return waitErr(ctx, func(cb func(error)) { c.Delete(ctx, req, params, cb) })
}

func (c *Cache) CloseSync(ctx context.Context) error {
	return waitErr(ctx, func(cb func(error)) { c.Close(ctx, cb) })
}

func (c *Cache) SizeSync(ctx context.Context) (int64, error) {
	ch := make(chan int64, 1)
	c.Size(ctx, func(n int64) { ch <- n })
	select {
	case n := <-ch:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Cache) GetSizeThenCloseSync(ctx context.Context) (int64, error) {
	ch := make(chan int64, 1)
	c.GetSizeThenClose(ctx, func(n int64) { ch <- n })
	select {
	case n := <-ch:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func waitErr(ctx context.Context, start func(cb func(error))) error {
	ch := make(chan error, 1)
	start(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
