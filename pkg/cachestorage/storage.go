package cachestorage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/quota"
)

var ErrStorageClosed = errors.New("storage closed")

type StorageOpts struct {
	Origin      string
	NewBackend  BackendFactory
	BlobContext *blob.Context
	Quota       quota.ManagerProxy
	Metrics     *Metrics
	Logger      *zap.Logger
}

// Storage is the set of named caches of one origin.
type Storage struct {
	opts StorageOpts
	sf   singleflight.Group

	mu     sync.Mutex
	closed bool
	caches map[string]*Cache
}

func NewStorage(opts StorageOpts) (*Storage, error) {
	if len(opts.Origin) == 0 {
		return nil, errors.New("empty origin")
	}
	if opts.NewBackend == nil {
		return nil, errors.New("nil backend factory")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return &Storage{opts: opts, caches: make(map[string]*Cache)}, nil
}

// Open returns the cache called name, creating it if needed. A new cache
// initializes its backend before Open returns. Concurrent calls for the
// same name share one attempt.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if c, ok := s.Get(name); ok {
		return c, nil
	}
	v, err, _ := s.sf.Do(name, func() (any, error) {
		s.mu.Lock()
		c, ok := s.caches[name]
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrStorageClosed
		}
		if ok {
			return c, nil
		}
		c, err := NewCache(CacheOpts{
			Origin:      s.opts.Origin,
			Name:        name,
			NewBackend:  s.opts.NewBackend,
			BlobContext: s.opts.BlobContext,
			Quota:       s.opts.Quota,
			Metrics:     s.opts.Metrics,
			Logger:      s.opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		if _, err := c.SizeSync(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		if c.Closed() {
			return nil, fmt.Errorf("failed to open backend of cache %q", name)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			c.Close(context.Background(), func(error) {})
			return nil, ErrStorageClosed
		}
		s.caches[name] = c
		s.opts.Logger.Info("cache opened", zap.String("cache", name))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cache), nil
}

func (s *Storage) Get(name string) (*Cache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	return c, ok
}

func (s *Storage) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the names of open caches, sorted.
func (s *Storage) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}
	s.mu.Unlock()
	slices.Sort(names)
	return names
}

// Drop closes the cache called name and forgets it. Its entries are kept by
// the backend.
func (s *Storage) Drop(ctx context.Context, name string) error {
	s.mu.Lock()
	c, ok := s.caches[name]
	delete(s.caches, name)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return c.CloseSync(ctx)
}

// Close closes every cache. Open fails afterwards.
func (s *Storage) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	caches := s.caches
	s.caches = make(map[string]*Cache)
	s.mu.Unlock()

	var errs []error
	for name, c := range caches {
		if err := c.CloseSync(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
