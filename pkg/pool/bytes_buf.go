package pool

import (
	"fmt"
	"math/bits"
	"sync"
)

// Buffer is a pooled byte slice. Call Release when it is no longer used.
type Buffer struct {
	b []byte
	p *sync.Pool
}

// Bytes returns the whole buffer. len(Bytes()) is the size passed to GetBuf.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Release returns b to the pool. b must not be used afterwards.
func (b *Buffer) Release() {
	if b.p == nil {
		return
	}
	b.b = b.b[:cap(b.b)]
	b.p.Put(b)
}

const maxPooledBits = 24 // 16 MiB

var pools [maxPooledBits + 1]sync.Pool

func init() {
	for i := range pools {
		size := 1 << i
		p := &pools[i]
		p.New = func() any {
			return &Buffer{b: make([]byte, size), p: p}
		}
	}
}

// GetBuf returns a Buffer of exactly size bytes. Buffers larger than 16 MiB
// are allocated and never pooled.
func GetBuf(size int) *Buffer {
	if size < 0 {
		panic(fmt.Sprintf("pool: invalid buf size %d", size))
	}
	i := shard(size)
	if i > maxPooledBits {
		return &Buffer{b: make([]byte, size)}
	}
	buf := pools[i].Get().(*Buffer)
	buf.b = buf.b[:size]
	return buf
}

func shard(size int) int {
	if size <= 1 {
		return 0
	}
	return bits.Len(uint(size - 1))
}
