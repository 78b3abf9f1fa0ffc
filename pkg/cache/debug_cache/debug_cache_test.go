package debug_cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/cache/mem_cache"
)

func TestDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	inner, err := mem_cache.NewBackend(cache.StoreOpts{MaxBytes: 64})
	require.NoError(t, err)
	d := NewDebug(inner, zap.New(core))

	e, err := d.CreateEntry("k")
	require.NoError(t, err)
	_, err = e.WriteData(cache.IndexResponseBody, 0, make([]byte, 16), true)
	require.ErrorIs(t, err, cache.ErrEntryTooLarge)
	e.Doom()
	require.NoError(t, e.Close())

	_, err = d.OpenEntry("k")
	require.ErrorIs(t, err, cache.ErrNotFound)

	_, err = d.NewIterator().OpenNextEntry()
	require.True(t, errors.Is(err, cache.ErrIteratorExhausted))

	size, err := d.CalculateSizeOfAllEntries()
	require.NoError(t, err)
	require.Zero(t, size)
	require.NoError(t, d.Close())

	var msgs []string
	for _, l := range logs.All() {
		msgs = append(msgs, l.Message)
	}
	require.Equal(t, []string{
		"create entry", "short write", "doom", "open entry", "new iterator", "calculate size", "close backend",
	}, msgs)
}
