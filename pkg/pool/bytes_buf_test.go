package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBuf(t *testing.T) {
	for _, size := range []int{0, 1, 2, 3, 511, 512, 513, 512 * 1024} {
		b := GetBuf(size)
		require.Len(t, b.Bytes(), size)
		require.GreaterOrEqual(t, cap(b.Bytes()), size)
		b.Release()
	}

	big := GetBuf(1<<maxPooledBits + 1)
	require.Len(t, big.Bytes(), 1<<maxPooledBits+1)
	big.Release() // not pooled, must not panic
}

func Test_shard(t *testing.T) {
	require.Equal(t, 0, shard(1))
	require.Equal(t, 1, shard(2))
	require.Equal(t, 2, shard(3))
	require.Equal(t, 2, shard(4))
	require.Equal(t, 19, shard(512*1024))
}
