package cachestorage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/quota"
)

func TestBatch_DeleteNotAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, cache.StoreOpts{})
	c := env.c
	a := getReq("http://x/a", nil)
	require.NoError(t, c.PutSync(ctx, a, env.response("a", nil)))

	err := c.BatchSync(ctx, []BatchOperation{
		{Type: OperationTypePut, Request: *getReq("http://x/b", nil), Response: env.response("b", nil)},
		{Type: OperationTypeDelete, Request: *a},
	})
	require.ErrorIs(t, err, ErrStorage)

	// nothing ran
	_, err = c.MatchSync(ctx, getReq("http://x/b", nil), QueryParams{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.MatchSync(ctx, a, QueryParams{})
	require.NoError(t, err)
}

func TestBatch_Puts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, cache.StoreOpts{})
	c := env.c

	err := c.BatchSync(ctx, []BatchOperation{
		{Type: OperationTypePut, Request: *getReq("http://x/1", nil), Response: env.response("1", nil)},
		{Type: OperationTypePut, Request: *getReq("http://x/2", nil), Response: env.response("2", nil)},
	})
	require.NoError(t, err)
	keys, err := c.KeysSync(ctx, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestBatch_FirstErrorWins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, cache.StoreOpts{})
	c := env.c

	err := c.BatchSync(ctx, []BatchOperation{
		{Type: OperationTypePut, Request: *getReq("http://x/1", nil), Response: &Response{BlobUUID: "missing"}},
		{Type: OperationTypeUndefined, Request: *getReq("http://x/2", nil)},
		{Type: OperationTypePut, Request: *getReq("http://x/3", nil), Response: env.response("3", nil)},
	})
	require.ErrorIs(t, err, ErrStorage)

	// later operations still ran
	resp, err := c.MatchSync(ctx, getReq("http://x/3", nil), QueryParams{})
	require.NoError(t, err)
	require.Equal(t, "3", bodyOf(t, resp))
}

func TestBatch_Undefined(t *testing.T) {
	env := newTestEnv(t, nil, cache.StoreOpts{})
	err := env.c.BatchSync(context.Background(), []BatchOperation{{Request: *getReq("http://x/1", nil)}})
	require.ErrorIs(t, err, ErrStorage)
}

func TestBatch_Empty(t *testing.T) {
	env := newTestEnv(t, nil, cache.StoreOpts{})
	require.NoError(t, env.c.BatchSync(context.Background(), nil))

	require.NoError(t, env.c.CloseSync(context.Background()))
	require.ErrorIs(t, env.c.BatchSync(context.Background(), nil), ErrStorage)
}

func TestBatch_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	q, err := quota.NewManager(quota.ManagerOpts{Quota: 10})
	require.NoError(t, err)
	env := newTestEnv(t, func(opts *CacheOpts) { opts.Quota = q }, cache.StoreOpts{})
	c := env.c

	err = c.BatchSync(ctx, []BatchOperation{
		{Type: OperationTypePut, Request: *getReq("http://x/1", nil), Response: env.response("123456", nil)},
		{Type: OperationTypePut, Request: *getReq("http://x/2", nil), Response: env.response("123456", nil)},
	})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	keys, err := c.KeysSync(ctx, nil, QueryParams{})
	require.NoError(t, err)
	require.Empty(t, keys)

	// an empty body needs no space
	require.NoError(t, c.PutSync(ctx, getReq("http://x/3", nil), env.response("", nil)))
}

type failingQuota struct{ quota.Nop }

func (failingQuota) GetUsageAndQuota(context.Context, string) (int64, int64, error) {
	return 0, 0, errors.New("quota backend down")
}

func TestBatch_QuotaError(t *testing.T) {
	env := newTestEnv(t, func(opts *CacheOpts) { opts.Quota = failingQuota{} }, cache.StoreOpts{})
	err := env.c.PutSync(context.Background(), getReq("http://x/1", nil), env.response("body", nil))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, ErrQuotaExceeded, err)
}

func Test_batchBarrier(t *testing.T) {
	bb := &batchBarrier{remaining: 3}
	e1 := errors.New("1")
	_, done := bb.done(nil)
	require.False(t, done)
	_, done = bb.done(e1)
	require.False(t, done)
	err, done := bb.done(errors.New("2"))
	require.True(t, done)
	require.Same(t, e1, err)
}
