package coremain

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/cache/debug_cache"
	"github.com/pmkol/cachestorage/pkg/cache/disk_cache"
	"github.com/pmkol/cachestorage/pkg/cache/mem_cache"
	"github.com/pmkol/cachestorage/pkg/cache/redis_cache"
	"github.com/pmkol/cachestorage/pkg/cache/s3_cache"
	"github.com/pmkol/cachestorage/pkg/cachestorage"
)

// newBackendFactory returns the factory for the backend named by sc. Clients
// are shared by all caches. The returned func releases them.
func newBackendFactory(ctx context.Context, sc *StorageConfig, lg *zap.Logger) (cachestorage.BackendFactory, func() error, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	storeOpts := func(name string) cache.StoreOpts {
		return cache.StoreOpts{
			MaxBytes:      sc.MaxBytes,
			MaxEntryBytes: sc.MaxEntryBytes,
			Logger:        lg.Named("backend").With(zap.String("cache", name)),
		}
	}
	wrap := func(name string, b cache.Backend, err error) (cache.Backend, error) {
		if err != nil {
			return nil, err
		}
		if sc.Debug {
			return debug_cache.NewDebug(b, lg.Named("debug").With(zap.String("cache", name))), nil
		}
		return b, nil
	}
	nopClose := func() error { return nil }

	switch sc.Backend {
	case BackendMemory:
		return func(name string) (cache.Backend, error) {
			b, err := mem_cache.NewBackend(storeOpts(name))
			return wrap(name, b, err)
		}, nopClose, nil

	case BackendDisk:
		return func(name string) (cache.Backend, error) {
			b, err := disk_cache.NewBackend(disk_cache.DiskCacheOpts{
				Dir:    filepath.Join(sc.Dir, escapeName(name)),
				Logger: lg,
			}, storeOpts(name))
			return wrap(name, b, err)
		}, nopClose, nil

	case BackendRedis:
		opt, err := redis.ParseURL(sc.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url, %w", err)
		}
		client := redis.NewClient(opt)
		timeout := time.Duration(sc.Redis.TimeoutMs) * time.Millisecond
		return func(name string) (cache.Backend, error) {
			b, err := redis_cache.NewBackend(redis_cache.RedisCacheOpts{
				Client:        client,
				Prefix:        sc.Redis.Prefix + escapeName(name) + ":",
				ClientTimeout: timeout,
				Logger:        lg,
			}, storeOpts(name))
			return wrap(name, b, err)
		}, client.Close, nil

	case BackendS3:
		client, err := s3_cache.NewClient(ctx, sc.S3.Region)
		if err != nil {
			return nil, nil, err
		}
		return func(name string) (cache.Backend, error) {
			b, err := s3_cache.NewBackend(s3_cache.S3CacheOpts{
				Client: client,
				Bucket: sc.S3.Bucket,
				Prefix: sc.S3.Prefix + escapeName(name) + "/",
				Logger: lg,
			}, storeOpts(name))
			return wrap(name, b, err)
		}, nopClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", sc.Backend)
	}
}

// escapeName makes a cache name safe as a path element.
func escapeName(name string) string {
	b := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_':
			b = append(b, c)
		default:
			b = append(b, fmt.Sprintf("%%%02X", c)...)
		}
	}
	if len(b) == 0 {
		return "%"
	}
	return string(b)
}
