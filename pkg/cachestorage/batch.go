package cachestorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchOperation runs ops in order. Every op runs even if an earlier one
// failed; cb receives the first error. A Delete must be the only op of its
// batch, otherwise nothing runs and cb receives ErrStorage. Puts are checked
// against the origin quota before anything runs.
func (c *Cache) BatchOperation(ctx context.Context, ops []BatchOperation, cb func(error)) {
	if err := c.checkBatch(ctx, ops); err != nil {
		c.schedule(func() {
			c.finish("batch", time.Now(), err, zap.Int("ops", len(ops)))
			deliver(ctx, func() { cb(publicErr(err)) })
		})
		return
	}
	if len(ops) == 0 {
		c.schedule(func() {
			var err error
			if c.Closed() {
				err = ErrStorage
			}
			deliver(ctx, func() { cb(err) })
		})
		return
	}

	bb := &batchBarrier{remaining: len(ops)}
	for i := range ops {
		op := ops[i]
		c.schedule(func() {
			start := time.Now()
			var err error
			switch op.Type {
			case OperationTypePut:
				err = c.putImpl(&op.Request, op.Response)
				c.finish("put", start, err, zap.String("url", op.Request.URL))
			case OperationTypeDelete:
				err = c.deleteImpl(&op.Request, op.Params)
				c.finish("delete", start, err, zap.String("url", op.Request.URL))
			default:
				err = storageErr(fmt.Errorf("undefined operation type %d", op.Type))
				c.finish("batch", start, err)
			}
			if firstErr, done := bb.done(err); done {
				deliver(ctx, func() { cb(publicErr(firstErr)) })
			}
		})
	}
}

func (c *Cache) checkBatch(ctx context.Context, ops []BatchOperation) error {
	var space int64
	for _, op := range ops {
		switch op.Type {
		case OperationTypeDelete:
			if len(ops) != 1 {
				return storageErr(errors.New("delete in a batch of more than one operation"))
			}
		case OperationTypePut:
			if op.Response != nil {
				space += op.Response.BlobSize
			}
		}
	}
	if space == 0 {
		return nil
	}
	usage, q, err := c.opts.Quota.GetUsageAndQuota(context.WithoutCancel(ctx), c.opts.Origin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	if space > q-usage {
		return ErrQuotaExceeded
	}
	return nil
}

// batchBarrier keeps the first error of a batch and reports when the last
// operation finished.
type batchBarrier struct {
	mu        sync.Mutex
	remaining int
	firstErr  error
}

func (b *batchBarrier) done(err error) (error, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && b.firstErr == nil {
		b.firstErr = err
	}
	b.remaining--
	return b.firstErr, b.remaining == 0
}

// Put stores resp for req, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, req *Request, resp *Response, cb func(error)) {
	c.BatchOperation(ctx, []BatchOperation{{Type: OperationTypePut, Request: *req, Response: resp}}, cb)
}

// Delete removes the entries matching req. cb receives ErrNotFound if there
// was none.
func (c *Cache) Delete(ctx context.Context, req *Request, params QueryParams, cb func(error)) {
	c.BatchOperation(ctx, []BatchOperation{{Type: OperationTypeDelete, Request: *req, Params: params}}, cb)
}
