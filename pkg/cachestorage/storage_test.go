package cachestorage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/cachestorage/pkg/blob"
	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/cache/mem_cache"
)

func newTestStorage(t *testing.T, factory BackendFactory) *Storage {
	t.Helper()
	if factory == nil {
		factory = func(string) (cache.Backend, error) { return mem_cache.NewBackend(cache.StoreOpts{}) }
	}
	s, err := NewStorage(StorageOpts{
		Origin:      testOrigin,
		NewBackend:  factory,
		BlobContext: blob.NewContext(0),
	})
	require.NoError(t, err)
	return s
}

func TestStorage_Open(t *testing.T) {
	ctx := context.Background()
	var created atomic.Int32
	s := newTestStorage(t, func(string) (cache.Backend, error) {
		created.Add(1)
		return mem_cache.NewBackend(cache.StoreOpts{})
	})

	var wg sync.WaitGroup
	caches := make([]*Cache, 8)
	for i := range caches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.Open(ctx, "v1")
			assert.NoError(t, err)
			caches[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range caches {
		require.Same(t, caches[0], c)
	}
	require.Equal(t, int32(1), created.Load())

	_, err := s.Open(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "v1"}, s.Names())
	require.True(t, s.Has("a"))
	require.False(t, s.Has("b"))
}

func TestStorage_OpenFailure(t *testing.T) {
	s := newTestStorage(t, func(string) (cache.Backend, error) { return nil, errors.New("no") })
	_, err := s.Open(context.Background(), "v1")
	require.Error(t, err)
	require.False(t, s.Has("v1"))
}

func TestStorage_Drop(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, nil)
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, s.Drop(ctx, "v1"))
	require.True(t, c.Closed())
	require.False(t, s.Has("v1"))
	require.ErrorIs(t, s.Drop(ctx, "v1"), ErrNotFound)
}

func TestStorage_Close(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, nil)
	a, err := s.Open(ctx, "a")
	require.NoError(t, err)
	b, err := s.Open(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))
	require.True(t, a.Closed())
	require.True(t, b.Closed())
	require.Empty(t, s.Names())
	_, err = s.Open(ctx, "c")
	require.ErrorIs(t, err, ErrStorageClosed)
}

func TestNewStorage_Opts(t *testing.T) {
	_, err := NewStorage(StorageOpts{})
	require.Error(t, err)
	_, err = NewStorage(StorageOpts{Origin: testOrigin})
	require.Error(t, err)
}
