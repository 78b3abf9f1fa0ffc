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

package mem_cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmkol/cachestorage/pkg/cache"
)

func put(t *testing.T, b cache.Backend, key string, headers, body []byte) {
	t.Helper()
	e, err := b.CreateEntry(key)
	require.NoError(t, err)
	_, err = e.WriteData(cache.IndexHeaders, 0, headers, true)
	require.NoError(t, err)
	_, err = e.WriteData(cache.IndexResponseBody, 0, body, true)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func Test_memCache(t *testing.T) {
	b, err := NewBackend(cache.StoreOpts{})
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 128; i++ {
		key := fmt.Sprintf("http://x/%d", i)
		put(t, b, key, []byte{byte(i)}, []byte("body"))

		e, err := b.OpenEntry(key)
		require.NoError(t, err)
		buf := make([]byte, 8)
		n, err := e.ReadData(cache.IndexHeaders, 0, buf)
		require.NoError(t, err)
		if n != 1 || buf[0] != byte(i) {
			t.Fatal("cache kv mismatched")
		}
		require.Equal(t, int64(4), e.GetDataSize(cache.IndexResponseBody))
		require.NoError(t, e.Close())
	}

	size, err := b.CalculateSizeOfAllEntries()
	require.NoError(t, err)
	require.Equal(t, int64(128*5), size)

	_, err = b.CreateEntry("http://x/0")
	require.ErrorIs(t, err, cache.ErrExists)
}

func Test_memCache_doom(t *testing.T) {
	b, err := NewBackend(cache.StoreOpts{})
	require.NoError(t, err)
	defer b.Close()

	put(t, b, "k", []byte("h"), nil)
	require.NoError(t, b.DoomEntry("k"))
	_, err = b.OpenEntry("k")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.ErrorIs(t, b.DoomEntry("k"), cache.ErrNotFound)

	// Doom through an entry discards its writes.
	e, err := b.CreateEntry("k")
	require.NoError(t, err)
	_, err = e.WriteData(cache.IndexHeaders, 0, []byte("h"), true)
	require.NoError(t, err)
	e.Doom()
	require.NoError(t, e.Close())
	_, err = b.OpenEntry("k")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func Test_memCache_iterator(t *testing.T) {
	b, err := NewBackend(cache.StoreOpts{})
	require.NoError(t, err)
	defer b.Close()

	keys := []string{"c", "a", "b"}
	for _, k := range keys {
		put(t, b, k, []byte(k), nil)
	}

	it := b.NewIterator()
	require.NoError(t, b.DoomEntry("a"))
	var got []string
	for {
		e, err := it.OpenNextEntry()
		if errors.Is(err, cache.ErrIteratorExhausted) {
			break
		}
		require.NoError(t, err)
		got = append(got, e.Key())
		require.NoError(t, e.Close())
	}
	require.Equal(t, []string{"c", "b"}, got)
}

func Test_memCache_evict(t *testing.T) {
	b, err := NewBackend(cache.StoreOpts{MaxBytes: 100, MaxEntryBytes: 60})
	require.NoError(t, err)
	defer b.Close()

	put(t, b, "a", nil, make([]byte, 40))
	put(t, b, "b", nil, make([]byte, 40))
	put(t, b, "c", nil, make([]byte, 40))

	_, err = b.OpenEntry("a")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.Equal(t, 2, b.Len())

	e, err := b.CreateEntry("d")
	require.NoError(t, err)
	_, err = e.WriteData(cache.IndexResponseBody, 0, make([]byte, 61), true)
	require.ErrorIs(t, err, cache.ErrEntryTooLarge)
	e.Doom()
	require.NoError(t, e.Close())
}

func Test_memCache_closed(t *testing.T) {
	b, err := NewBackend(cache.StoreOpts{})
	require.NoError(t, err)
	put(t, b, "k", []byte("h"), nil)
	require.NoError(t, b.Close())

	_, err = b.OpenEntry("k")
	require.ErrorIs(t, err, cache.ErrClosed)
	_, err = b.CreateEntry("k2")
	require.ErrorIs(t, err, cache.ErrClosed)
	_, err = b.NewIterator().OpenNextEntry()
	require.ErrorIs(t, err, cache.ErrClosed)
}

func Test_memCache_race(t *testing.T) {
	b, err := NewBackend(cache.StoreOpts{})
	require.NoError(t, err)
	defer b.Close()

	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 64; j++ {
				key := fmt.Sprintf("%d-%d", i, j)
				e, err := b.CreateEntry(key)
				if err != nil {
					t.Error(err)
					return
				}
				_, _ = e.WriteData(cache.IndexHeaders, 0, []byte(key), true)
				_ = e.Close()
				if e, err := b.OpenEntry(key); err == nil {
					_ = e.Close()
				}
				_ = b.DoomEntry(key)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, b.Len())
}
