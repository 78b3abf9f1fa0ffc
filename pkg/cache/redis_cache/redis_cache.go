/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package redis_cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/utils"
)

var (
	nopLogger = zap.NewNop()

	ErrDisabled = errors.New("redis temporarily disabled")
)

type RedisCacheOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisCache.Close is called.
	// Optional.
	ClientCloser io.Closer

	// Prefix is prepended to every redis key.
	Prefix string

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 1s.
	ClientTimeout time.Duration

	// Logger is the *zap.Logger for this RedisCache.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisCacheOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultNum(&opts.ClientTimeout, time.Second)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// RedisCache is a cache.RecordStore. Each record is a string key; a sorted
// set scored by sequence and a hash of sizes index all records.
type RedisCache struct {
	opts           RedisCacheOpts
	clientDisabled uint32
}

var _ cache.RecordStore = (*RedisCache)(nil)

func NewRedisCache(opts RedisCacheOpts) (*RedisCache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisCache{
		opts: opts,
	}, nil
}

// NewBackend opens a cache.Backend over the records under opts.Prefix.
func NewBackend(opts RedisCacheOpts, storeOpts cache.StoreOpts) (*cache.StoreBackend, error) {
	c, err := NewRedisCache(opts)
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

func (r *RedisCache) entryKey(key string) string {
	return r.opts.Prefix + "e:" + key
}

func (r *RedisCache) indexKey() string {
	return r.opts.Prefix + "idx"
}

func (r *RedisCache) sizeKey() string {
	return r.opts.Prefix + "sz"
}

func (r *RedisCache) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *RedisCache) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				return
			}
		}()
	}
}

func (r *RedisCache) Load(key string) (*cache.Record, error) {
	if r.disabled() {
		return nil, ErrDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	b, err := r.opts.Client.Get(ctx, r.entryKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrNotFound
		}
		r.opts.Logger.Warn("redis get", zap.Error(err))
		r.disableClient()
		return nil, err
	}

	rec := new(cache.Record)
	if err := rec.UnmarshalBinary(b); err != nil {
		r.opts.Logger.Warn("redis data unpack error", zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// Save stores the record and updates the index in one transaction.
func (r *RedisCache) Save(rec *cache.Record) error {
	if r.disabled() {
		return ErrDisabled
	}

	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	_, err = r.opts.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(rec.Key), b, 0)
		pipe.ZAdd(ctx, r.indexKey(), &redis.Z{Score: float64(rec.Seq), Member: rec.Key})
		pipe.HSet(ctx, r.sizeKey(), rec.Key, rec.Size())
		return nil
	})
	if err != nil {
		r.opts.Logger.Warn("redis pipeline set", zap.Error(err))
		r.disableClient()
		return err
	}
	return nil
}

func (r *RedisCache) Remove(key string) error {
	if r.disabled() {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	var del *redis.IntCmd
	_, err := r.opts.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.entryKey(key))
		pipe.ZRem(ctx, r.indexKey(), key)
		pipe.HDel(ctx, r.sizeKey(), key)
		return nil
	})
	if err != nil {
		r.opts.Logger.Warn("redis pipeline del", zap.Error(err))
		r.disableClient()
		return err
	}
	if del.Val() == 0 {
		return cache.ErrNotFound
	}
	return nil
}

func (r *RedisCache) List() ([]cache.RecordInfo, error) {
	if r.disabled() {
		return nil, ErrDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	zs, err := r.opts.Client.ZRangeWithScores(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	sizes, err := r.opts.Client.HGetAll(ctx, r.sizeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sizes: %w", err)
	}

	infos := make([]cache.RecordInfo, 0, len(zs))
	for _, z := range zs {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		size, _ := strconv.ParseInt(sizes[key], 10, 64)
		infos = append(infos, cache.RecordInfo{Key: key, Seq: uint64(z.Score), Size: size})
	}
	return infos, nil
}

// Close closes the redis client.
func (r *RedisCache) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

// Len returns the number of indexed records.
func (r *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	i, err := r.opts.Client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		r.opts.Logger.Error("zcard", zap.Error(err))
		return 0
	}
	return int(i)
}
