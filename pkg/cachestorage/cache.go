// Package cachestorage maps HTTP requests to stored HTTP responses.
//
// A Cache owns one cache.Backend. All operations on a Cache are queued in a
// scheduler.Scheduler and run one at a time in submission order. Every public
// operation returns immediately and delivers its result to a callback that
// runs on the scheduler goroutine before the next operation starts, so a
// callback must not wait on another operation of the same Cache: calling a
// *Sync method from a callback deadlocks.
package cachestorage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/metrics"
	"github.com/pmkol/cachestorage/pkg/quota"
	"github.com/pmkol/cachestorage/pkg/scheduler"
)

// BodyChunkSize is the size of a single read or write of a body stream.
const BodyChunkSize = 512 << 10

// BackendFactory creates the backend of the cache called name. It is called
// once, on the scheduler goroutine, by the first operation of the cache.
type BackendFactory func(name string) (cache.Backend, error)

var nopLogger = zap.NewNop()

type CacheOpts struct {
	// Origin is reported to Quota. Cannot be empty.
	Origin string

	Name string

	// NewBackend cannot be nil.
	NewBackend BackendFactory

	// BlobContext resolves response bodies. Without it, Put of a response
	// with a body and Match of an entry with a body fail with ErrStorage.
	BlobContext *blob.Context

	// Quota receives size changes. Default is quota.Nop.
	Quota quota.ManagerProxy

	// Metrics is optional.
	Metrics *Metrics

	// Latency records operation latency. Default is a new tracker.
	Latency *metrics.LatencyTracker

	Logger *zap.Logger
}

func (opts *CacheOpts) init() error {
	if len(opts.Origin) == 0 {
		return errors.New("empty origin")
	}
	if opts.NewBackend == nil {
		return errors.New("nil backend factory")
	}
	if opts.Quota == nil {
		opts.Quota = quota.Nop{}
	}
	if opts.Latency == nil {
		opts.Latency = metrics.NewLatencyTracker(0.01)
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type backendState int

const (
	backendUninitialized backendState = iota
	backendOpen
	backendClosed
)

func (s backendState) String() string {
	switch s {
	case backendUninitialized:
		return "uninitialized"
	case backendOpen:
		return "open"
	default:
		return "closed"
	}
}

type Cache struct {
	opts      CacheOpts
	logger    *zap.Logger
	scheduler *scheduler.Scheduler

	mu           sync.Mutex
	state        backendState
	initializing bool
	closing      bool

	// Only touched by scheduled operations.
	backend cache.Backend
	size    int64
}

func NewCache(opts CacheOpts) (*Cache, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &Cache{
		opts:      opts,
		logger:    opts.Logger.With(zap.String("cache", opts.Name)),
		scheduler: scheduler.New(),
	}, nil
}

func (c *Cache) Name() string {
	return c.opts.Name
}

// LatencyStats returns latency statistics of every operation type.
func (c *Cache) LatencyStats() []metrics.Stats {
	return c.opts.Latency.GetAllStats()
}

// Closed reports whether the backend reached its terminal state.
func (c *Cache) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == backendClosed
}

func (c *Cache) getState() backendState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// schedule queues op, preceded by the backend initialization if the backend
// was never initialized. No initialization is queued once Close was called.
func (c *Cache) schedule(op func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == backendUninitialized && !c.initializing && !c.closing {
		c.initializing = true
		c.scheduler.ScheduleOperation(c.initBackend)
	}
	c.scheduler.ScheduleOperation(op)
}

func (c *Cache) initBackend() {
	c.mu.Lock()
	if c.state != backendUninitialized {
		c.initializing = false
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	b, err := c.opts.NewBackend(c.opts.Name)
	var size int64
	if err == nil {
		size, err = b.CalculateSizeOfAllEntries()
		if err != nil {
			b.Close()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializing = false
	if err != nil {
		c.state = backendClosed
		c.logger.Warn("failed to init backend", zap.Error(err))
		return
	}
	if c.state != backendUninitialized {
		// closed while the factory ran
		if err := b.Close(); err != nil {
			c.logger.Warn("failed to close backend", zap.Error(err))
		}
		return
	}
	c.backend = b
	c.size = size
	c.state = backendOpen
	c.logger.Debug("backend opened", zap.Int64("size", size))
}

// deliver runs f unless the caller went away.
func deliver(ctx context.Context, f func()) {
	if ctx.Err() != nil {
		return
	}
	f()
}

// finish records the outcome of an operation.
func (c *Cache) finish(op string, start time.Time, err error, fields ...zap.Field) {
	c.opts.Latency.Since(op, start)
	c.opts.Metrics.observe(c.opts.Name, op, err)
	if err != nil && ErrorCode(err) == CodeStorage {
		c.logger.Warn(op+" failed", append(fields, zap.Error(err))...)
		return
	}
	if ce := c.logger.Check(zap.DebugLevel, op); ce != nil {
		ce.Write(append(fields, zap.Error(err))...)
	}
}

// storageErr wraps cause so the cause is logged but callers only see
// ErrStorage.
func storageErr(cause error) error {
	if cause == nil {
		return ErrStorage
	}
	return &opError{cause: cause}
}

type opError struct {
	cause error
}

func (e *opError) Error() string {
	return ErrStorage.Error() + ": " + e.cause.Error()
}

func (e *opError) Is(target error) bool {
	return target == ErrStorage
}

// publicErr strips the cause of err.
func publicErr(err error) error {
	switch ErrorCode(err) {
	case CodeOK:
		return nil
	case CodeNotFound:
		return ErrNotFound
	case CodeExists:
		return ErrExists
	case CodeQuotaExceeded:
		return ErrQuotaExceeded
	default:
		return ErrStorage
	}
}

func (c *Cache) notifySize(delta int64) {
	if delta == 0 {
		return
	}
	c.size += delta
	c.opts.Quota.NotifyStorageModified(c.opts.Origin, delta)
}

// Size delivers the tracked size of all entries. A closed cache has size 0.
func (c *Cache) Size(ctx context.Context, cb func(int64)) {
	c.schedule(func() {
		start := time.Now()
		size := c.sizeImpl()
		c.finish("size", start, nil, zap.Int64("size", size))
		deliver(ctx, func() { cb(size) })
	})
}

func (c *Cache) sizeImpl() int64 {
	if c.getState() != backendOpen {
		return 0
	}
	return c.size
}

// GetSizeThenClose delivers the size and closes the cache in one operation.
// Calling it after Close is a usage error and delivers 0.
func (c *Cache) GetSizeThenClose(ctx context.Context, cb func(int64)) {
	if !c.markClosing() {
		c.schedule(func() { deliver(ctx, func() { cb(0) }) })
		return
	}
	c.schedule(func() {
		start := time.Now()
		size := c.sizeImpl()
		c.closeImpl()
		c.finish("size_then_close", start, nil, zap.Int64("size", size))
		deliver(ctx, func() { cb(size) })
	})
}

// Close releases the backend after all queued operations ran. Only the first
// call closes; later calls deliver ErrStorage.
func (c *Cache) Close(ctx context.Context, cb func(error)) {
	if !c.markClosing() {
		c.scheduler.ScheduleOperation(func() {
			deliver(ctx, func() { cb(ErrStorage) })
		})
		return
	}
	c.scheduler.ScheduleOperation(func() {
		start := time.Now()
		c.closeImpl()
		c.finish("close", start, nil)
		deliver(ctx, func() { cb(nil) })
	})
}

func (c *Cache) markClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.closing = true
	return true
}

func (c *Cache) closeImpl() {
	c.mu.Lock()
	c.state = backendClosed
	b := c.backend
	c.backend = nil
	c.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			c.logger.Warn("failed to close backend", zap.Error(err))
		}
	}
}
