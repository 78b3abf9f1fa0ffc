// Package disk_cache stores one file per entry in a directory.
package disk_cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/cache"
)

const (
	recordExt = ".rec"
	lockFile  = "LOCK"
)

var (
	nopLogger = zap.NewNop()

	ErrLocked = errors.New("cache directory is locked by another process")
)

type DiskCacheOpts struct {
	// Dir is created if it does not exist.
	Dir string

	// Logger is optional.
	Logger *zap.Logger
}

// DiskCache is a cache.RecordStore. Records are written atomically with a
// rename, so a crash never leaves a half written record behind.
type DiskCache struct {
	opts DiskCacheOpts
	lock *flock.Flock
}

var _ cache.RecordStore = (*DiskCache)(nil)

// NewDiskCache locks opts.Dir. The lock is released by Close.
func NewDiskCache(opts DiskCacheOpts) (*DiskCache, error) {
	if len(opts.Dir) == 0 {
		return nil, errors.New("empty dir")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	l := flock.New(filepath.Join(opts.Dir, lockFile))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache dir: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &DiskCache{opts: opts, lock: l}, nil
}

// NewBackend opens a cache.Backend over the records in opts.Dir.
func NewBackend(opts DiskCacheOpts, storeOpts cache.StoreOpts) (*cache.StoreBackend, error) {
	c, err := NewDiskCache(opts)
	if err != nil {
		return nil, err
	}
	b, err := cache.NewStoreBackend(c, storeOpts)
	if err != nil {
		c.Close()
		return nil, err
	}
	return b, nil
}

func (c *DiskCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.opts.Dir, hex.EncodeToString(sum[:])+recordExt)
}

func (c *DiskCache) Load(key string) (*cache.Record, error) {
	r, err := c.readFile(c.path(key))
	if err != nil {
		return nil, err
	}
	if r.Key != key {
		return nil, fmt.Errorf("%w: key collision for %q", cache.ErrCorruptRecord, key)
	}
	return r, nil
}

func (c *DiskCache) readFile(p string) (*cache.Record, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	r := new(cache.Record)
	if err := r.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	return r, nil
}

func (c *DiskCache) Save(r *cache.Record) error {
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return atomic.WriteFile(c.path(r.Key), bytes.NewReader(b))
}

func (c *DiskCache) Remove(key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return cache.ErrNotFound
	}
	return err
}

// List reads every record file. Corrupt files are removed.
func (c *DiskCache) List() ([]cache.RecordInfo, error) {
	des, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		return nil, err
	}
	var infos []cache.RecordInfo
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), recordExt) {
			continue
		}
		p := filepath.Join(c.opts.Dir, de.Name())
		r, err := c.readFile(p)
		if err != nil {
			if errors.Is(err, cache.ErrCorruptRecord) {
				c.opts.Logger.Warn("removing corrupt record file", zap.String("file", p), zap.Error(err))
				_ = os.Remove(p)
				continue
			}
			return nil, err
		}
		infos = append(infos, cache.RecordInfo{Key: r.Key, Seq: r.Seq, Size: r.Size()})
	}
	return infos, nil
}

// Close releases the directory lock.
func (c *DiskCache) Close() error {
	return c.lock.Unlock()
}
