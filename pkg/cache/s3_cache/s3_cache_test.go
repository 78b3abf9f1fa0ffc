package s3_cache

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/cachestorage/pkg/cache"
)

// fakeS3 is an in-memory bucket. Listing returns pageSize keys per page.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Cache_Backend(t *testing.T) {
	client := newFakeS3()
	opts := S3CacheOpts{Client: client, Bucket: "b", Prefix: "cs/"}
	b, err := NewBackend(opts, cache.StoreOpts{})
	require.NoError(t, err)

	keys := []string{"http://x/1", "http://x/2", "http://x/3", "http://x/4", "http://x/5"}
	for _, k := range keys {
		e, err := b.CreateEntry(k)
		require.NoError(t, err)
		_, err = e.WriteData(cache.IndexResponseBody, 0, []byte(k), true)
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}
	client.objects["cs/not-a-record"] = []byte("x")
	require.NoError(t, b.Close())

	// reopen lists every page
	b, err = NewBackend(opts, cache.StoreOpts{})
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, len(keys), b.Len())

	e, err := b.OpenEntry("http://x/3")
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err := e.ReadData(cache.IndexResponseBody, 0, buf)
	require.NoError(t, err)
	require.Equal(t, "http://x/3", string(buf[:n]))
	require.NoError(t, e.Close())

	require.NoError(t, b.DoomEntry("http://x/3"))
	_, err = b.OpenEntry("http://x/3")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestS3Cache_Load(t *testing.T) {
	c, err := NewS3Cache(S3CacheOpts{Client: newFakeS3(), Bucket: "b"})
	require.NoError(t, err)
	_, err = c.Load("missing")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.NoError(t, c.Remove("missing"))
}

func TestS3CacheOpts_Init(t *testing.T) {
	opts := S3CacheOpts{}
	require.Error(t, opts.Init())
	opts.Client = newFakeS3()
	require.Error(t, opts.Init())
	opts.Bucket = "b"
	require.NoError(t, opts.Init())
}
